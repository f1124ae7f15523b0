package exterrors

import "fmt"

// DomainError is the concrete type behind the error taxonomy: every
// component-level failure that the Management API (C6) must translate to an
// HTTP status carries one of these, either directly or wrapped.
type DomainError struct {
	// Kind is one of the taxonomy buckets: validation, authorization,
	// not_found, conflict, external, transient, inconsistency.
	Kind string
	// Code is the stable machine-readable string returned to API callers,
	// e.g. "ALIAS_LIMIT", "DOMAIN_CATCHALL", "VALIDATION_ERROR".
	Code string
	// Status is the HTTP status this error maps to.
	Status int
	// Message is operator/human facing.
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

func (e *DomainError) Fields() map[string]interface{} {
	return map[string]interface{}{"kind": e.Kind, "code": e.Code}
}

// Temporary reports whether the kind is one the caller should retry.
func (e *DomainError) Temporary() bool {
	return e.Kind == "transient"
}

func Validation(code, message string) *DomainError {
	return &DomainError{Kind: "validation", Code: code, Status: 400, Message: message}
}

func Unauthorized(message string) *DomainError {
	return &DomainError{Kind: "authorization", Code: "FORBIDDEN", Status: 403, Message: message}
}

func NotFound(message string) *DomainError {
	return &DomainError{Kind: "not_found", Code: "NOT_FOUND", Status: 404, Message: message}
}

func Conflict(code, message string) *DomainError {
	return &DomainError{Kind: "conflict", Code: code, Status: 409, Message: message}
}

func External(message string, err error) *DomainError {
	return &DomainError{Kind: "external", Code: "EXTERNAL_ERROR", Status: 500, Message: message, Err: err}
}

func Transient(message string, err error) *DomainError {
	return &DomainError{Kind: "transient", Code: "TRANSIENT_ERROR", Status: 503, Message: message, Err: err}
}

func Inconsistency(message string, err error) *DomainError {
	return &DomainError{Kind: "inconsistency", Code: "INCONSISTENCY", Status: 500, Message: message, Err: err}
}

// AsDomain unwraps err looking for a *DomainError, returning a generic
// internal-error DomainError if none is found so callers always have a
// Status/Code to work with.
func AsDomain(err error) *DomainError {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if de, ok := e.(*DomainError); ok {
			return de
		}
		u, ok := e.(unwrapper)
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return &DomainError{Kind: "external", Code: "INTERNAL_ERROR", Status: 500, Message: "internal error", Err: err}
}
