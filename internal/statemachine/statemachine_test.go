package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-gateway/internal/models"
)

var allStatuses = []models.IntentStatus{
	models.IntentStatusPending,
	models.IntentStatusAwaitingConfirmation,
	models.IntentStatusPartiallyPaid,
	models.IntentStatusCompleted,
	models.IntentStatusFailed,
	models.IntentStatusExpired,
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		from    models.IntentStatus
		to      models.IntentStatus
		want    Result
		wantErr bool
	}{
		{name: "Pending to completed", from: models.IntentStatusPending, to: models.IntentStatusCompleted, want: Advance},
		{name: "Pending to awaiting", from: models.IntentStatusPending, to: models.IntentStatusAwaitingConfirmation, want: Advance},
		{name: "Awaiting to completed", from: models.IntentStatusAwaitingConfirmation, to: models.IntentStatusCompleted, want: Advance},
		{name: "Partially paid to awaiting", from: models.IntentStatusPartiallyPaid, to: models.IntentStatusAwaitingConfirmation, want: Advance},
		{name: "Awaiting repeated", from: models.IntentStatusAwaitingConfirmation, to: models.IntentStatusAwaitingConfirmation, want: Unchanged},
		{name: "Awaiting back to pending", from: models.IntentStatusAwaitingConfirmation, to: models.IntentStatusPending, wantErr: true},
		{name: "Completed to failed", from: models.IntentStatusCompleted, to: models.IntentStatusFailed, wantErr: true},
		{name: "Completed repeated", from: models.IntentStatusCompleted, to: models.IntentStatusCompleted, wantErr: true},
		{name: "Unknown target", from: models.IntentStatusPending, to: "finished", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Check(tt.from, tt.to)
			if tt.wantErr {
				var conflict *ConflictError
				require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTerminalStatesAreClosed(t *testing.T) {
	for _, from := range allStatuses {
		if !from.IsTerminal() {
			continue
		}
		assert.Empty(t, Next(from), "terminal %s must have no outgoing edges", from)
		for _, to := range allStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

// Walks every path of legal transitions from pending and checks that once a
// terminal status is reached nothing can leave it.
func TestNoPathLeavesTerminal(t *testing.T) {
	var walk func(s models.IntentStatus, depth int)
	walk = func(s models.IntentStatus, depth int) {
		if depth > len(allStatuses)+1 {
			return
		}
		if s.IsTerminal() {
			for _, to := range allStatuses {
				_, err := Check(s, to)
				assert.Error(t, err)
			}
			return
		}
		for _, next := range Next(s) {
			require.True(t, CanTransition(s, next))
			walk(next, depth+1)
		}
	}
	walk(models.IntentStatusPending, 0)
}

func TestNothingReturnsToPending(t *testing.T) {
	for _, from := range allStatuses {
		if from == models.IntentStatusPending {
			continue
		}
		assert.False(t, CanTransition(from, models.IntentStatusPending), "%s -> pending", from)
	}
}
