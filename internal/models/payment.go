package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы транзакций
const (
	TransactionTypeTestReward               = "test_reward"
	TransactionTypePlatformCommission       = "platform_commission"
	TransactionTypeCancellationRefund       = "cancellation_refund"
	TransactionTypeCancellationCompensation = "cancellation_compensation"
	TransactionTypeSponsorRefund            = "sponsor_refund"
	TransactionTypeDisputeResolution        = "dispute_resolution"
)

// Статусы транзакций
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// PlatformLedger — единственная строка баланса платформы.
// Инвариант: escrow_balance никогда не уходит в минус; каждое списание
// соответствует подтверждённой операции платёжного шлюза.
type PlatformLedger struct {
	ID                int       `db:"id" json:"id"`
	EscrowBalance     float64   `db:"escrow_balance" json:"escrow_balance"`
	CommissionBalance float64   `db:"commission_balance" json:"commission_balance"`
	TotalPaidOut      float64   `db:"total_paid_out" json:"total_paid_out"`
	TotalRefunded     float64   `db:"total_refunded" json:"total_refunded"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Wallet представляет кошелёк профиля.
// Изменяется только движком расчётов и внешним компонентом вывода средств.
type Wallet struct {
	ProfileID      uuid.UUID `db:"profile_id" json:"profile_id"`
	Balance        float64   `db:"balance" json:"balance"`
	PendingBalance float64   `db:"pending_balance" json:"pending_balance"`
	TotalEarned    float64   `db:"total_earned" json:"total_earned"`
	TotalWithdrawn float64   `db:"total_withdrawn" json:"total_withdrawn"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction — неизменяемая строка журнала денежных движений.
// ExternalID хранит идентификатор операции шлюза (transfer или refund)
// и уникален по всей таблице.
type Transaction struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ProfileID   uuid.UUID  `db:"profile_id" json:"profile_id"`
	CampaignID  *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	SessionID   *uuid.UUID `db:"session_id" json:"session_id,omitempty"`
	Type        string     `db:"type" json:"type"`
	Amount      float64    `db:"amount" json:"amount"`
	Status      string     `db:"status" json:"status"`
	Description *string    `db:"description" json:"description,omitempty"`
	ExternalID  *string    `db:"external_id" json:"external_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Статусы платёжных интентов (outbox)
const (
	IntentStatusPending = "pending"
	IntentStatusCalled  = "called"
	IntentStatusSettled = "settled"
	IntentStatusFailed  = "failed"
)

// Виды операций шлюза
const (
	IntentKindTransfer = "transfer"
	IntentKindRefund   = "refund"
)

// Назначения интентов
const (
	IntentPurposeTestReward         = "test_reward"
	IntentPurposeCancellationRefund = "cancellation_refund"
	IntentPurposeCampaignRefund     = "campaign_refund"
	IntentPurposeTesterCompensation = "tester_compensation"
	IntentPurposeDisputeResolution  = "dispute_resolution"
)

// PaymentIntent — запись намерения вызвать платёжный шлюз (outbox).
// Создаётся до вызова шлюза; ключ идемпотентности выводится из назначения
// и исходной сессии/кампании; переводится в settled только после того,
// как подтверждённый ответ шлюза отражён в журнале.
type PaymentIntent struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Kind           string     `db:"kind" json:"kind"`
	Purpose        string     `db:"purpose" json:"purpose"`
	SessionID      *uuid.UUID `db:"session_id" json:"session_id,omitempty"`
	CampaignID     *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	ProfileID      *uuid.UUID `db:"profile_id" json:"profile_id,omitempty"`
	Destination    *string    `db:"destination" json:"destination,omitempty"`
	PaymentRef     *string    `db:"payment_ref" json:"payment_ref,omitempty"`
	Amount         float64    `db:"amount" json:"amount"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	Status         string     `db:"status" json:"status"`
	ExternalID     *string    `db:"external_id" json:"external_id,omitempty"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	SettledAt      *time.Time `db:"settled_at" json:"settled_at,omitempty"`
}
