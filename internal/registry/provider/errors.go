package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error is a failed provider call. Status is the upstream HTTP status when
// one was received.
type Error struct {
	Provider string
	Status   int
	Message  string
	// Timeout is set when the call exceeded its deadline or the caller went away.
	Timeout bool
	// Unavailable is set when the provider has no credentials configured.
	Unavailable bool
}

func (e *Error) Error() string {
	switch {
	case e.Unavailable:
		return fmt.Sprintf("provider %s is not configured", e.Provider)
	case e.Timeout:
		return fmt.Sprintf("provider %s timed out", e.Provider)
	case e.Status != 0:
		return fmt.Sprintf("provider %s returned %d: %s", e.Provider, e.Status, e.Message)
	default:
		return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Message)
	}
}

// Wrap converts err into an *Error for the named provider, keeping an
// existing *Error as is. Context errors become timeouts.
func Wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Provider: name, Message: err.Error(), Timeout: true}
	}
	return &Error{Provider: name, Message: err.Error()}
}
