package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to completed", StatusQueued, StatusCompleted, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to deleted", StatusQueued, StatusDeleted, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to deleted", StatusProcessing, StatusDeleted, true},
		{"completed to deleted", StatusCompleted, StatusDeleted, true},
		{"failed to deleted", StatusFailed, StatusDeleted, true},
		{"completed to processing", StatusCompleted, StatusProcessing, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to completed", StatusFailed, StatusCompleted, false},
		{"processing to queued", StatusProcessing, StatusQueued, false},
		{"deleted to completed", StatusDeleted, StatusCompleted, false},
		{"deleted to queued", StatusDeleted, StatusQueued, false},
		{"deleted to deleted", StatusDeleted, StatusDeleted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}
