package internal

import "fmt"

// ConnectionErrorKind classifies stream transport failures
type ConnectionErrorKind string

const (
	ErrorKindNetwork           ConnectionErrorKind = "network"
	ErrorKindTimeout           ConnectionErrorKind = "timeout"
	ErrorKindServerUnreachable ConnectionErrorKind = "server_unreachable"
	ErrorKindUnknown           ConnectionErrorKind = "unknown"
)

// ConnectionError describes a failure of the live event stream
type ConnectionError struct {
	Kind       ConnectionErrorKind
	Message    string
	RetryCount int
	MaxRetries int
	Err        error
}

func (e *ConnectionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("connection error [%s] (retry %d/%d): %s", e.Kind, e.RetryCount, e.MaxRetries, msg)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FetchError represents a failed REST call against the server
type FetchError struct {
	Op     string // "GET", "POST", "HEAD", "parse"
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch error: %s %s: status %d", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("fetch error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageError represents errors accessing the local key-value store
type StorageError struct {
	Path string
	Op   string // "open", "get", "set", "delete"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
