package names

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IsPhoneNumber reports whether id is a bare phone number (digits only).
func IsPhoneNumber(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsGroup reports whether id names a group chat.
func IsGroup(id string) bool {
	return strings.HasSuffix(id, GroupSuffix)
}

// upstreamError normalizes a directory failure into one of the package sentinels.
// Cancellation by the caller is passed through untouched.
func upstreamError(chatID string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: lookup %s timed out", ErrUpstreamUnavailable, chatID)
	default:
		return fmt.Errorf("%w: lookup %s: %v", ErrUpstreamUnavailable, chatID, err)
	}
}
