package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStorage adapts MessageStorage to gorm's Scanner/Valuer so it can be
// stored as a single TEXT/JSON column across sqlite, postgres and mysql
// without depending on a driver-specific JSON type.
type JSONStorage MessageStorage

func (j JSONStorage) Value() (driver.Value, error) {
	b, err := json.Marshal(MessageStorage(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONStorage) Scan(src interface{}) error {
	if src == nil {
		*j = JSONStorage{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("model: JSONStorage.Scan: unsupported type %T", src)
	}
	var ms MessageStorage
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*j = JSONStorage(ms)
	return nil
}
