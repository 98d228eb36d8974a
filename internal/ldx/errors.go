package ldx

import (
	"errors"
	"fmt"
)

// Error kinds shared by the codec, the patcher and their callers. Match them
// with errors.Is.
var (
	ErrFormat     = errors.New("format error")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrIO         = errors.New("io error")
)

func FormatError(format string, args ...any) error {
	return kindError(ErrFormat, format, args...)
}

func ValidationError(format string, args ...any) error {
	return kindError(ErrValidation, format, args...)
}

func NotFoundError(format string, args ...any) error {
	return kindError(ErrNotFound, format, args...)
}

func IOError(format string, args ...any) error {
	return kindError(ErrIO, format, args...)
}

// kindError keeps any %w cause in args unwrappable next to the kind.
func kindError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
}
