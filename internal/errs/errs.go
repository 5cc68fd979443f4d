// Package errs defines the failure kinds an import run can end with.
// Callers classify with errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
)

// Startup failures. Each one ends the run before any row is written.
var (
	ErrConnection = errors.New("database connection failed")
	ErrSourceOpen = errors.New("input source could not be opened")
	ErrSchemaInit = errors.New("schema initialization failed")
)

// Streaming failures. Each one aborts the run and discards the
// uncommitted batch.
var (
	ErrParse               = errors.New("malformed input document")
	ErrTypeCoercion        = errors.New("attribute has unexpected type")
	ErrTimestampFormat     = errors.New("missing or malformed timestamp")
	ErrConstraintViolation = errors.New("store constraint violation")
)

// AttrError locates a coercion failure on a single element attribute.
type AttrError struct {
	Kind    error  // one of the sentinels above
	Element string // element name, e.g. "node"
	ID      string // raw id attribute of the owning entity, may be empty
	Attr    string
	Value   string
	Present bool
	Err     error // underlying parse error, may be nil
}

func (e *AttrError) Error() string {
	where := e.Element
	if e.ID != "" {
		where = fmt.Sprintf("%s %s", e.Element, e.ID)
	}
	if !e.Present {
		return fmt.Sprintf("%s: attribute %q missing: %v", where, e.Attr, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: attribute %s=%q: %v: %v", where, e.Attr, e.Value, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: attribute %s=%q: %v", where, e.Attr, e.Value, e.Kind)
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *AttrError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
