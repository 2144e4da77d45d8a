package services

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrEmailDuplication       = errors.New("email already registered")
	ErrInvalidData            = errors.New("invalid data")
	ErrAccountAlreadyVerified = errors.New("account already verified")
	ErrAccountDeleted         = errors.New("account deleted")
	ErrUnActivated            = errors.New("account not activated")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTokenExpired           = errors.New("token expired")
	ErrPasswordsDidNotMatch   = errors.New("passwords did not match")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrUnsupportedPhoto       = errors.New("unsupported photo")
	ErrPhotoNotFound          = errors.New("photo not found")
)

// InvalidOTPError reports a wrong code and the attempts left before the
// account is deleted.
type InvalidOTPError struct {
	Remaining int
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("invalid otp code, %d attempts left", e.Remaining)
}

// ValidationError names the offending field. It matches ErrInvalidData.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidData
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
