package mikrotik

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by Get after Stop.
var ErrPoolClosed = errors.New("mikrotik: pool closed")

// TrapError is a !trap reply: the router understood the command and refused it.
// The connection stays usable.
type TrapError struct {
	Category string
	Message  string
}

func (e *TrapError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("mikrotik trap (category %s): %s", e.Category, e.Message)
	}
	return "mikrotik trap: " + e.Message
}

// FatalError is a !fatal reply; the router closes the connection after it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "mikrotik fatal: " + e.Message
}

// IsTrap reports whether err carries a RouterOS !trap reply.
func IsTrap(err error) bool {
	var trap *TrapError
	return errors.As(err, &trap)
}

// AuthError means the router rejected the API credentials.
type AuthError struct {
	Address string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mikrotik login to %s failed: %s", e.Address, e.Message)
}
