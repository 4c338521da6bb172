package rule

import (
	"errors"
	"fmt"
)

// ErrNotTransmissible is returned when a rule containing an in-process
// predicate is serialized for a remote server.
var ErrNotTransmissible = errors.New("rule contains a matcher that cannot be serialized")

// ConfigurationError reports an invalid rule definition, such as a
// malformed regex or JSONPath expression. It is returned by Build and by
// the wire-format decoders; it is never produced while serving traffic.
type ConfigurationError struct {
	Detail string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid rule configuration: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("invalid rule configuration: %s", e.Detail)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

func configErr(detail string, err error) *ConfigurationError {
	return &ConfigurationError{Detail: detail, Err: err}
}
