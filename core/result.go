package core

import (
	"fmt"

	apperrors "github.com/Skryldev/streamcodec/errors"
)

// Result is the closed set of outcomes a session operation reports.  The
// numeric values are a wire contract; never reorder or reuse them.
type Result uint8

const (
	Success            Result = 0
	FormatError        Result = 1
	ParameterError     Result = 2
	UnsupportedFeature Result = 3
	IncompleteInput    Result = 4
	LimitsExceeded     Result = 5
	OtherError         Result = 6
	EndOfFrame         Result = 7
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case FormatError:
		return "FormatError"
	case ParameterError:
		return "ParameterError"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	case IncompleteInput:
		return "IncompleteInput"
	case LimitsExceeded:
		return "LimitsExceeded"
	case OtherError:
		return "OtherError"
	case EndOfFrame:
		return "EndOfFrame"
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// Retryable reports whether calling again with more input can succeed.
func (r Result) Retryable() bool { return r == IncompleteInput }

// Terminal reports whether the session that produced r must be abandoned.
func (r Result) Terminal() bool {
	switch r {
	case Success, IncompleteInput, EndOfFrame:
		return false
	}
	return true
}

// ResultOf collapses err onto the closed Result set.
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryIncomplete:
		return IncompleteInput
	case apperrors.CategoryFormat:
		return FormatError
	case apperrors.CategoryUnsupported:
		return UnsupportedFeature
	case apperrors.CategoryParameter:
		return ParameterError
	case apperrors.CategoryLimits:
		return LimitsExceeded
	}
	return OtherError
}
