package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotWritable  = errors.New("tag is not writable")
	ErrMissingIndex = errors.New("loadpoint index required")
	ErrUnknownTag   = errors.New("unknown tag")
)

// TransportError covers network failures, timeouts and non-2xx answers.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when the controller answered with malformed JSON.
type DecodeError struct {
	URL  string
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WriteRejected is a write the controller answered without a result
// envelope. The raw status and body are kept so callers can tell validation
// errors from server faults.
type WriteRejected struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func (e *WriteRejected) Error() string {
	return fmt.Sprintf("write rejected with status %d: %s", e.StatusCode, e.Body)
}

// ConfigurationError is returned while setting up a bridge, e.g. when the
// controller is unreachable. It is fatal to initialization only.
type ConfigurationError struct {
	Host string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuring controller %s: %v", e.Host, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
