package transcoding

import (
	"errors"
	"fmt"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownResolution = models.ErrUnknownResolution
	ErrVideoNotUploaded  = errors.New("video is not in uploaded state")
	ErrAlreadyDispatched = errors.New("video already has transcoding jobs")
)

type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation failures are never retried.
	KindValidation
	KindTransientIO
	KindEncode
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransientIO:
		return "transient_io"
	case KindEncode:
		return "encode"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error tags a failure with the pipeline step that produced it and its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func ValidationError(op string, err error) error  { return newError(KindValidation, op, err) }
func TransientIOError(op string, err error) error { return newError(KindTransientIO, op, err) }
func EncodeError(op string, err error) error      { return newError(KindEncode, op, err) }
func PersistenceError(op string, err error) error { return newError(KindPersistence, op, err) }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the queue may redeliver after err.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) != KindValidation
}
