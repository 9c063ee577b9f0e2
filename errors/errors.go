package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
// Session errors use the first six categories; they map one-to-one onto
// core.Result codes.
type Category string

const (
	CategoryFormat      Category = "format"
	CategoryUnsupported Category = "unsupported"
	CategoryParameter   Category = "parameter"
	CategoryIncomplete  Category = "incomplete"
	CategoryLimits      Category = "limits"
	CategoryIO          Category = "io"

	CategoryDecode   Category = "decode"
	CategoryPipeline Category = "pipeline"
	CategoryStorage  Category = "storage"
	CategoryConfig   Category = "config"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Incomplete creates the retryable error returned when the byte source ran
// dry before op could finish.
func Incomplete(op string) *ProcessingError {
	return &ProcessingError{Category: CategoryIncomplete, Op: op, Err: ErrIncompleteInput, Retryable: true}
}

// Transient creates a retryable storage error, for backends whose failures
// may clear up on their own.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryStorage, Op: op, Err: err, Retryable: true}
}

// Format creates a non-retryable format error with a formatted message.
func Format(op, format string, args ...any) *ProcessingError {
	return New(CategoryFormat, op, fmt.Errorf(format, args...))
}

// Unsupported creates a non-retryable unsupported-feature error.
func Unsupported(op, format string, args ...any) *ProcessingError {
	return New(CategoryUnsupported, op, fmt.Errorf(format, args...))
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// Classify returns err unchanged when it already carries a category and
// wraps it otherwise.
func Classify(category Category, op string, err error) error {
	var pe *ProcessingError
	if err == nil || errors.As(err, &pe) {
		return err
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of the outermost ProcessingError in err's
// chain, or "" when there is none.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrIncompleteInput    = errors.New("incomplete input")
	ErrNotEnoughPixelData = errors.New("not enough pixel data")
	ErrChunkOrder         = errors.New("chunk out of order")
	ErrBadChecksum        = errors.New("invalid checksum")
	ErrOutOfPhase         = errors.New("operation called out of phase order")
	ErrBufferTooSmall     = errors.New("destination buffer too small")
	ErrLimitExceeded      = errors.New("resource limit exceeded")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrEmptyInput         = errors.New("empty input")
	ErrTruncated          = errors.New("input ended before decode completed")
	ErrWorkerPoolFull     = errors.New("worker pool queue full")
	ErrSinkWrite          = errors.New("write sink rejected data")
)
