package store

import (
	"reflect"

	"gorm.io/gorm"
)

// Predicate is a single filter condition compiled to a gorm Where clause.
// Construction supports equality, ordered comparison, membership, pattern
// match, and null tests, per the persistence layer's contract. A Predicate
// whose Value is nil is skipped by Apply rather than compiled into a
// literal "= NULL" (unknown values are skipped, not null-equated).
type Predicate struct {
	column string
	op     string
	value  interface{}
}

func Eq(column string, value interface{}) Predicate  { return Predicate{column, "=", value} }
func Neq(column string, value interface{}) Predicate { return Predicate{column, "<>", value} }
func Gt(column string, value interface{}) Predicate  { return Predicate{column, ">", value} }
func Lt(column string, value interface{}) Predicate  { return Predicate{column, "<", value} }
func Gte(column string, value interface{}) Predicate { return Predicate{column, ">=", value} }
func Lte(column string, value interface{}) Predicate { return Predicate{column, "<=", value} }
func In(column string, values interface{}) Predicate { return Predicate{column, "in", values} }
func Like(column string, pattern string) Predicate   { return Predicate{column, "like", pattern} }
func IsNull(column string) Predicate                 { return Predicate{column, "is null", nil} }
func NotNull(column string) Predicate                { return Predicate{column, "is not null", nil} }

// Apply chains every non-skipped predicate onto tx with AND semantics.
func Apply(tx *gorm.DB, preds ...Predicate) *gorm.DB {
	for _, p := range preds {
		switch p.op {
		case "is null":
			tx = tx.Where(p.column + " IS NULL")
		case "is not null":
			tx = tx.Where(p.column + " IS NOT NULL")
		case "in":
			if isSkippable(p.value) {
				continue
			}
			tx = tx.Where(p.column+" IN (?)", p.value)
		case "like":
			if isSkippable(p.value) {
				continue
			}
			tx = tx.Where(p.column+" LIKE ?", p.value)
		default:
			if isSkippable(p.value) {
				continue
			}
			tx = tx.Where(p.column+" "+p.op+" ?", p.value)
		}
	}
	return tx
}

// isSkippable reports whether a predicate value is an "unknown value" per
// §4.1's contract: a true nil, an empty string, or a nil/empty slice. Other
// zero values (0, false) are legitimate equality targets and are not
// skipped.
func isSkippable(v interface{}) bool {
	if v == nil {
		return true
	}
	switch val := reflect.ValueOf(v); val.Kind() {
	case reflect.String:
		return val.Len() == 0
	case reflect.Slice:
		return val.IsNil() || val.Len() == 0
	default:
		return false
	}
}
