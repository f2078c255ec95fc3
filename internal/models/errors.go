package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; every error returned by the data
// access layer and the processors wraps exactly one of these.
var (
	// ErrConnection means the driver for the connection string is not available.
	ErrConnection = errors.New("connection error")
	// ErrConfiguration covers bad configuration and any other failure to establish a data source.
	ErrConfiguration = errors.New("configuration error")
	// ErrQuery means the query could not be executed or its rows could not be read.
	ErrQuery = errors.New("query error")
	// ErrEmptyResult means the query executed but produced zero rows.
	ErrEmptyResult = errors.New("empty result")
	// ErrTransport means a remote resource could not be retrieved.
	ErrTransport = errors.New("transport error")
	// ErrFormat means a remote resource is not parseable as delimited tabular data.
	ErrFormat = errors.New("format error")
)

// PipelineError carries the failing operation and its cause alongside the kind.
type PipelineError struct {
	Kind error
	Op   string
	Err  error
}

// NewError builds a PipelineError. err may be nil when the kind says it all.
func NewError(kind error, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *PipelineError) Is(target error) bool {
	return e.Kind == target
}

// IsTransient reports whether retrying could succeed. The pipeline itself never
// retries; this is for callers deciding whether to re-run.
func (e *PipelineError) IsTransient() bool {
	return e.Kind == ErrTransport
}

// KindName returns a short label for the error's kind, suitable for metrics.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, ErrQuery):
		return "query"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrFormat):
		return "format"
	default:
		return "unknown"
	}
}
