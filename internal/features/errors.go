package features

import (
	"errors"
	"fmt"
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("image could not be decoded")

// DecodeError reports that an image resource could not be turned into pixel
// data: corrupt bytes, an unsupported encoding, or a failed load.
type DecodeError struct {
	Err error
}

// NewDecodeError wraps err as a *DecodeError.
func NewDecodeError(err error) error {
	return &DecodeError{Err: err}
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return ErrDecode.Error()
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// IsDecodeError reports whether err carries a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
