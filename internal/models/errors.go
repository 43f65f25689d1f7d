package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrCrypto            = errors.New("cryptographic check failed")
	ErrExpired           = errors.New("message has expired")
	ErrReadLimit         = errors.New("message has reached its read limit")
	ErrDestroyed         = errors.New("message has been destroyed")
	ErrStorage           = errors.New("storage failure")
	ErrUnsupportedConfig = errors.New("unsupported configuration")

	ErrDecryptionFailed  = fmt.Errorf("%w: failed to decrypt message", ErrCrypto)
	ErrTamperedSignature = fmt.Errorf("%w: invalid message signature, content may be tampered", ErrCrypto)
)

// User-visible reasons for failed reads.
const (
	ReasonExpired          = "message has expired and self-destructed"
	ReasonReadLimit        = "message has reached its read limit"
	ReasonDestroyed        = "message has been destroyed"
	ReasonDecryptionFailed = "failed to decrypt message"
)

// UnreadableError is returned when a message exists but may not be read.
type UnreadableError struct {
	Reason string
	Err    error
}

func (e *UnreadableError) Error() string {
	return e.Reason
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// Validationf builds an ErrValidation with context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
