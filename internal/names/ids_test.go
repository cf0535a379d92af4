package names

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPhoneNumber(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"919876543210", true},
		{"", false},
		{"919876543210@c.us", false},
		{"+919876543210", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPhoneNumber(tt.id), tt.id)
	}
}

func TestUpstreamError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		want         error
		wantUpstream bool
	}{
		{name: "not found", err: ErrNotFound, want: ErrNotFound},
		{name: "already upstream", err: fmt.Errorf("%w: status 500", ErrUpstreamUnavailable), want: ErrUpstreamUnavailable, wantUpstream: true},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrUpstreamUnavailable, wantUpstream: true},
		{name: "transport", err: errors.New("connection reset"), want: ErrUpstreamUnavailable, wantUpstream: true},
		{name: "caller cancelled", err: context.Canceled, want: context.Canceled},
		{name: "wrapped cancel", err: fmt.Errorf("get /chats: %w", context.Canceled), want: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := upstreamError("a@g.us", tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Equal(t, tt.wantUpstream, errors.Is(got, ErrUpstreamUnavailable))
		})
	}
}
