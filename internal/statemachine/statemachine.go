// Package statemachine holds the intent transition table shared by every
// path that can move an intent's status.
package statemachine

import (
	"fmt"

	"settlement-gateway/internal/models"
)

// Result classifies a requested transition.
type Result int

const (
	// Advance moves the intent to a new status.
	Advance Result = iota
	// Unchanged is a repeat of the current non-terminal status.
	Unchanged
)

// ConflictError is returned for any transition the table does not allow.
type ConflictError struct {
	From models.IntentStatus
	To   models.IntentStatus
}

func (e *ConflictError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("intent is terminal (%s), cannot move to %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

var transitions = map[models.IntentStatus]map[models.IntentStatus]bool{
	models.IntentStatusPending: {
		models.IntentStatusAwaitingConfirmation: true,
		models.IntentStatusPartiallyPaid:        true,
		models.IntentStatusCompleted:            true,
		models.IntentStatusFailed:               true,
		models.IntentStatusExpired:              true,
	},
	models.IntentStatusAwaitingConfirmation: {
		models.IntentStatusPartiallyPaid: true,
		models.IntentStatusCompleted:     true,
		models.IntentStatusFailed:        true,
		models.IntentStatusExpired:       true,
	},
	models.IntentStatusPartiallyPaid: {
		models.IntentStatusAwaitingConfirmation: true,
		models.IntentStatusCompleted:            true,
		models.IntentStatusFailed:               true,
		models.IntentStatusExpired:              true,
	},
}

// Check validates from -> to. Terminal states have no outgoing edges, not
// even to themselves.
func Check(from, to models.IntentStatus) (Result, error) {
	if !to.Valid() || !from.Valid() {
		return 0, &ConflictError{From: from, To: to}
	}
	if from.IsTerminal() {
		return 0, &ConflictError{From: from, To: to}
	}
	if from == to {
		return Unchanged, nil
	}
	if !transitions[from][to] {
		return 0, &ConflictError{From: from, To: to}
	}
	return Advance, nil
}

// CanTransition is Check without the classification.
func CanTransition(from, to models.IntentStatus) bool {
	_, err := Check(from, to)
	return err == nil
}

// Next lists the statuses reachable from s in one step.
func Next(s models.IntentStatus) []models.IntentStatus {
	var out []models.IntentStatus
	for _, candidate := range []models.IntentStatus{
		models.IntentStatusAwaitingConfirmation,
		models.IntentStatusPartiallyPaid,
		models.IntentStatusCompleted,
		models.IntentStatusFailed,
		models.IntentStatusExpired,
	} {
		if transitions[s][candidate] {
			out = append(out, candidate)
		}
	}
	return out
}
