package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus — замкнутый тип статуса тестовой сессии.
// Переходы разрешены только по таблице sessionTransitions.
type SessionStatus string

const (
	SessionStatusPending             SessionStatus = "pending"
	SessionStatusAccepted            SessionStatus = "accepted"
	SessionStatusRejected            SessionStatus = "rejected"
	SessionStatusInProgress          SessionStatus = "in_progress"
	SessionStatusProceduresCompleted SessionStatus = "procedures_completed"
	SessionStatusPriceValidated      SessionStatus = "price_validated"
	SessionStatusPurchaseSubmitted   SessionStatus = "purchase_submitted"
	SessionStatusPurchaseValidated   SessionStatus = "purchase_validated"
	SessionStatusSubmitted           SessionStatus = "submitted"
	SessionStatusCompleted           SessionStatus = "completed"
	SessionStatusDisputed            SessionStatus = "disputed"
	SessionStatusCancelled           SessionStatus = "cancelled"
)

// sessionTransitions — единственный источник правды о графе переходов.
// Ребро отсутствует в таблице — переход запрещён.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:  {SessionStatusAccepted, SessionStatusRejected, SessionStatusCancelled},
	SessionStatusAccepted: {SessionStatusInProgress, SessionStatusProceduresCompleted, SessionStatusPurchaseSubmitted, SessionStatusCancelled},
	SessionStatusInProgress:          {SessionStatusProceduresCompleted},
	SessionStatusProceduresCompleted: {SessionStatusPriceValidated},
	SessionStatusPriceValidated:      {SessionStatusPurchaseSubmitted, SessionStatusCancelled},
	SessionStatusPurchaseSubmitted:   {SessionStatusPurchaseValidated, SessionStatusAccepted},
	SessionStatusPurchaseValidated:   {SessionStatusSubmitted, SessionStatusDisputed, SessionStatusCancelled},
	SessionStatusSubmitted:           {SessionStatusCompleted, SessionStatusDisputed},
	SessionStatusCompleted:           {SessionStatusDisputed},
	SessionStatusDisputed:            {SessionStatusCompleted},
	SessionStatusRejected:            {},
	SessionStatusCancelled:           {},
}

// IsValid проверяет, что статус входит в перечисление.
func (s SessionStatus) IsValid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

// CanTransitionTo проверяет переход по таблице.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для финальных статусов.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusRejected:
		return true
	}
	return false
}

// CancellableSessionStatuses — статусы, из которых тестер может отменить сессию.
var CancellableSessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusAccepted,
	SessionStatusPriceValidated,
	SessionStatusPurchaseValidated,
}

// DisputableSessionStatuses — статусы, из которых можно открыть спор.
var DisputableSessionStatuses = []SessionStatus{
	SessionStatusSubmitted,
	SessionStatusPurchaseValidated,
	SessionStatusCompleted,
}

// TestSession описывает участие одного тестера в одной кампании.
type TestSession struct {
	ID                    uuid.UUID     `db:"id" json:"id"`
	CampaignID            uuid.UUID     `db:"campaign_id" json:"campaign_id"`
	TesterID              uuid.UUID     `db:"tester_id" json:"tester_id"`
	Status                SessionStatus `db:"status" json:"status"`
	Message               *string       `db:"message" json:"message,omitempty"`
	ScheduledPurchaseDate *time.Time    `db:"scheduled_purchase_date" json:"scheduled_purchase_date,omitempty"`
	AcceptedAt            *time.Time    `db:"accepted_at" json:"accepted_at,omitempty"`
	RejectionReason       *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`

	// Валидация цены
	PriceAttempts  int      `db:"price_attempts" json:"price_attempts"`
	ValidatedPrice *float64 `db:"validated_price" json:"validated_price,omitempty"`

	// Покупка
	OrderNumber           *string    `db:"order_number" json:"order_number,omitempty"`
	SubmittedProductPrice *float64   `db:"submitted_product_price" json:"submitted_product_price,omitempty"`
	SubmittedShippingCost *float64   `db:"submitted_shipping_cost" json:"submitted_shipping_cost,omitempty"`
	PurchaseProofURL      *string    `db:"purchase_proof_url" json:"purchase_proof_url,omitempty"`
	PurchaseSubmittedAt   *time.Time `db:"purchase_submitted_at" json:"purchase_submitted_at,omitempty"`
	PurchaseValidatedAt   *time.Time `db:"purchase_validated_at" json:"purchase_validated_at,omitempty"`
	PurchaseComment       *string    `db:"purchase_comment" json:"purchase_comment,omitempty"`
	PurchaseRejectReason  *string    `db:"purchase_reject_reason" json:"purchase_reject_reason,omitempty"`

	// Завершение
	RewardAmount *float64   `db:"reward_amount" json:"reward_amount,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	// Отмена
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	// Спор
	DisputedAt *time.Time `db:"disputed_at" json:"disputed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StepProgress хранит прогресс тестера по шагу процедуры.
type StepProgress struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	SessionID      uuid.UUID       `db:"session_id" json:"session_id"`
	StepID         uuid.UUID       `db:"step_id" json:"step_id"`
	SubmissionData json.RawMessage `db:"submission_data" json:"submission_data,omitempty"`
	CompletedAt    time.Time       `db:"completed_at" json:"completed_at"`
}
