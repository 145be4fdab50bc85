package syncerror

import (
	"fmt"

	"github.com/pkg/errors"
)

// A Kind classifies an error so callers can decide whether to retry,
// skip the entry or abort the whole run.
type Kind int

const (
	// Unknown is the zero value for errors that carry no kind.
	Unknown Kind = iota
	// Parse means the manifest file is malformed.
	Parse
	// Validation means the manifest content is inconsistent (duplicate
	// names, unknown source type).
	Validation
	// Resolution means the upstream API returned no usable file.
	Resolution
	// Network means a transient transport failure (timeout, 5xx, 429).
	Network
	// Integrity means a checksum or size mismatch after download.
	Integrity
	// Filesystem means a local I/O failure (disk full, permissions).
	Filesystem
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Validation:
		return "validation"
	case Resolution:
		return "resolution"
	case Network:
		return "network"
	case Integrity:
		return "integrity"
	case Filesystem:
		return "filesystem"
	}
	return "unknown"
}

type (
	// Kinder interface is implemented by application errors.
	Kinder interface {
		// ErrorKind returns the kind for the given error.
		ErrorKind() Kind
	}

	//perr wraps an error with a Kind.
	perr struct {
		kind Kind
		err  error
	}
)

// New returns a new kinded error.
func New(kind Kind, message string) error {
	return &perr{
		kind: kind,
		err:  errors.New(message),
	}
}

// Newf returns a new kinded error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &perr{
		kind: kind,
		err:  errors.Errorf(format, args...),
	}
}

// Wrap annotates err with a kind and a message. It returns nil if err is nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &perr{
		kind: kind,
		err:  errors.Wrap(err, message),
	}
}

// Error stringifies the error.
func (e *perr) Error() string {
	return fmt.Sprintf("[%s] %s", e.kind, e.err)
}

// ErrorKind returns the error's kind.
func (e *perr) ErrorKind() Kind {
	return e.kind
}

// Cause returns the underlying error (github.com/pkg/errors compatibility).
func (e *perr) Cause() error {
	return e.err
}

// Unwrap returns the underlying error (stdlib errors compatibility).
func (e *perr) Unwrap() error {
	return e.err
}

// KindOf returns the kind of the given err. If unknown, it returns Unknown.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(Kinder); ok {
			return k.ErrorKind()
		}

		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return Unknown
		}
		err = cause.Cause()
	}
	return Unknown
}

// FromStatusCode maps an HTTP status code to a kinded error. It returns
// nil on 2xx. 429 and 5xx are transient, everything else fails for good.
func FromStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 429 || code >= 500:
		return Newf(Network, "the API answered %d", code)
	case code == 401 || code == 403:
		return Newf(Resolution, "the API answered %d, an API token may be required", code)
	default:
		return Newf(Resolution, "the API answered %d", code)
	}
}

// Retryable returns true when the error is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err) == Network
}

// Fatal returns true when the error must abort the whole run.
func Fatal(err error) bool {
	return KindOf(err) == Filesystem
}
