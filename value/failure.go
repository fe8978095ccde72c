package value

import (
	"fmt"

	"github.com/caffeineduck/vertigo/errors"
)

// Failure is the caller-visible form of a host error. It always carries a
// message.
type Failure struct {
	Message string
	Cause   error
}

// NewFailure returns a failure with the given message.
func NewFailure(format string, args ...any) *Failure {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	return &Failure{Message: format}
}

// FromError converts a host error into a Failure. nil stays nil.
func FromError(err error) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok {
		return f
	}
	var e *errors.Error
	if errors.As(err, &e) {
		return &Failure{Message: e.Message(), Cause: err}
	}
	return &Failure{Message: err.Error(), Cause: err}
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// ToError converts a caller value used to signal failure into a host error.
// Strings become failures with that message.
func ToError(v any) (error, bool) {
	switch x := v.(type) {
	case *Failure:
		return x, x != nil
	case error:
		return x, x != nil
	case string:
		return &Failure{Message: x}, true
	}
	return nil, false
}
