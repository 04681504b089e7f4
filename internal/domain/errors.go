package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicatePing is returned when a ping carries a sequence number that was
// already processed for its check. Callers treat it as success.
var ErrDuplicatePing = errors.New("duplicate ping")

// ConfigError marks a schedule or channel configuration that cannot be used.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Msg
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}

func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// TransientDeliveryError is a retryable delivery failure (timeouts, 5xx, rate limits).
type TransientDeliveryError struct {
	Msg        string
	RetryAfter time.Duration
}

func (e *TransientDeliveryError) Error() string { return e.Msg }

// PermanentDeliveryError is a delivery failure that disables the channel.
type PermanentDeliveryError struct {
	Msg string
}

func (e *PermanentDeliveryError) Error() string { return e.Msg }

func Transient(format string, args ...any) error {
	return &TransientDeliveryError{Msg: fmt.Sprintf(format, args...)}
}

func Permanent(format string, args ...any) error {
	return &PermanentDeliveryError{Msg: fmt.Sprintf(format, args...)}
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsTransient(err error) bool {
	var te *TransientDeliveryError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentDeliveryError
	return errors.As(err, &pe)
}

// RetryAfter returns the server supplied backoff hint carried by a transient error.
func RetryAfter(err error) (time.Duration, bool) {
	var te *TransientDeliveryError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}
