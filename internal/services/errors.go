package services

import (
	"errors"
	"fmt"

	"github.com/hotspotbill/backend/internal/provision"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("already exists")
	ErrInUse          = errors.New("still in use")
	ErrVoucherUsed    = errors.New("voucher already used")
	ErrVoucherExpired = errors.New("voucher expired")
	ErrVoucherBlocked = errors.New("voucher disabled")
	ErrNotAllowed     = errors.New("not allowed")
)

// InputError is a validation failure with a message meant for the client
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(format string, args ...interface{}) error {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

// notFound maps gorm.ErrRecordNotFound to ErrNotFound naming the entity
func notFound(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", entity, ErrNotFound)
	}
	return err
}

// isQueued reports whether a router change failed but will be retried
func isQueued(err error) bool {
	return errors.Is(err, provision.ErrQueued)
}
