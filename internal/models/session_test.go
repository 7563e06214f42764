package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{SessionStatusPending, SessionStatusAccepted, true},
		{SessionStatusPending, SessionStatusRejected, true},
		{SessionStatusPending, SessionStatusCancelled, true},
		{SessionStatusPending, SessionStatusCompleted, false},
		{SessionStatusAccepted, SessionStatusInProgress, true},
		{SessionStatusAccepted, SessionStatusPurchaseSubmitted, true},
		{SessionStatusAccepted, SessionStatusRejected, false},
		{SessionStatusInProgress, SessionStatusProceduresCompleted, true},
		{SessionStatusProceduresCompleted, SessionStatusPriceValidated, true},
		{SessionStatusPriceValidated, SessionStatusPurchaseSubmitted, true},
		{SessionStatusPriceValidated, SessionStatusCancelled, true},
		{SessionStatusPurchaseSubmitted, SessionStatusPurchaseValidated, true},
		// Отклонённая покупка возвращает сессию на повторную попытку.
		{SessionStatusPurchaseSubmitted, SessionStatusAccepted, true},
		{SessionStatusPurchaseValidated, SessionStatusSubmitted, true},
		{SessionStatusPurchaseValidated, SessionStatusDisputed, true},
		{SessionStatusSubmitted, SessionStatusCompleted, true},
		{SessionStatusSubmitted, SessionStatusDisputed, true},
		{SessionStatusCompleted, SessionStatusDisputed, true},
		{SessionStatusDisputed, SessionStatusCompleted, true},
		{SessionStatusDisputed, SessionStatusCancelled, false},
		{SessionStatusCancelled, SessionStatusAccepted, false},
		{SessionStatusRejected, SessionStatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
	assert.True(t, SessionStatusRejected.IsTerminal())

	assert.False(t, SessionStatusPending.IsTerminal())
	assert.False(t, SessionStatusDisputed.IsTerminal())
	assert.False(t, SessionStatusSubmitted.IsTerminal())
}

func TestSessionStatus_TerminalHasNoOutgoing(t *testing.T) {
	// Из CANCELLED и REJECTED выхода нет; COMPLETED допускает только спор.
	assert.Empty(t, sessionTransitions[SessionStatusCancelled])
	assert.Empty(t, sessionTransitions[SessionStatusRejected])
	assert.Equal(t, []SessionStatus{SessionStatusDisputed}, sessionTransitions[SessionStatusCompleted])
}

func TestSessionStatus_IsValid(t *testing.T) {
	assert.True(t, SessionStatusPending.IsValid())
	assert.True(t, SessionStatusDisputed.IsValid())
	assert.False(t, SessionStatus("unknown").IsValid())
}
