package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKey is returned for lookups of a key with no configured timeout.
	ErrUnknownKey = errors.New("cache: unknown key")

	// ErrInvalidTimeout is returned when a negative timeout is configured.
	ErrInvalidTimeout = errors.New("cache: invalid timeout")

	// ErrTypeMismatch is returned by the typed GetOrUpdate when the stored
	// value is not of the requested type.
	ErrTypeMismatch = errors.New("cache: value type mismatch")
)

// RefreshError is delivered to every waiter of a failed refresh round.
type RefreshError struct {
	Key string
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("cache: refreshing %q: %v", e.Key, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
