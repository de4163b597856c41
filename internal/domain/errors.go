package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for encodings that are recognized but have
// no decoder, such as the legacy packed binary layout.
var ErrUnsupportedFormat = errors.New("format not yet supported")

// FormatError reports an unparseable container or unknown encoding.
type FormatError struct {
	File string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %v", e.File, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// VariableCountError reports a container or group exposing more than one
// physical variable.
type VariableCountError struct {
	File      string
	Variables []string
}

func (e *VariableCountError) Error() string {
	return fmt.Sprintf("%s: expected exactly one physical variable, found %d (%s)",
		e.File, len(e.Variables), strings.Join(e.Variables, ", "))
}

// SchemaError reports a missing or malformed coordinate or variable.
type SchemaError struct {
	File   string
	Key    string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: missing %q", e.File, e.Key)
	}
	return fmt.Sprintf("%s: %q: %s", e.File, e.Key, e.Detail)
}

// NetworkError reports a failed request for a single URL.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request %s: status %d", e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StoreConflictError reports an attempt to commit a group key twice.
type StoreConflictError struct {
	Key string
}

func (e *StoreConflictError) Error() string {
	return fmt.Sprintf("group %s already committed", e.Key)
}

// IsGroupFatal reports whether err prevents the surrounding time-group from
// being committed. Format errors only drop the offending file.
func IsGroupFatal(err error) bool {
	var fe *FormatError
	return err != nil && !errors.As(err, &fe)
}
