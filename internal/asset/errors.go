package asset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecode            = errors.New("unsupported or malformed asset id")
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("asset not found")
)

// Stable error codes returned to API and CLI callers.
const (
	CodeDecode            = "decode_error"
	CodeUnsupportedAction = "unsupported_action"
	CodeSourceUnavailable = "source_unavailable"
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// Error attaches one of the sentinel kinds above to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func SourceUnavailable(source string, err error) error {
	return &Error{Kind: ErrSourceUnavailable, Op: source, Err: err}
}

func Unsupported(format string, args ...any) error {
	return &Error{Kind: ErrUnsupportedAction, Err: fmt.Errorf(format, args...)}
}

func Invalid(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

func NotFound(id ID) error {
	return &Error{Kind: ErrNotFound, Err: fmt.Errorf("%s", id.String())}
}

// KindOf maps an error to its stable code.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return CodeDecode
	case errors.Is(err, ErrUnsupportedAction):
		return CodeUnsupportedAction
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrSourceUnavailable):
		return CodeSourceUnavailable
	default:
		return CodeInternal
	}
}
