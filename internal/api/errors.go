package api

import (
	"encoding/json"
	"net/http"

	"github.com/motorical/encimap/framework/exterrors"
)

// envelope is the JSON response shape required by §6: {success, data?,
// error?, code?}.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// writeJSON writes data as a successful envelope.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError translates err to the HTTP envelope. C6 is the only
// component that performs this translation, per §7's propagation policy.
func writeError(w http.ResponseWriter, err error) {
	de := exterrors.AsDomain(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(de.Status)
	msg := de.Message
	if de.Kind == "external" {
		msg = "partial state recorded"
	}
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg, Code: de.Code})
}

func writeBinary(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
