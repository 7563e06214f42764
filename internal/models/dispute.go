package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы споров
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Типы решений арбитра
const (
	ResolutionRefundTester  = "refund_tester"
	ResolutionRefundSponsor = "refund_sponsor"
	ResolutionPartialRefund = "partial_refund"
	ResolutionNoRefund      = "no_refund"
)

// ValidResolutionTypes — список допустимых решений.
var ValidResolutionTypes = map[string]struct{}{
	ResolutionRefundTester:  {},
	ResolutionRefundSponsor: {},
	ResolutionPartialRefund: {},
	ResolutionNoRefund:      {},
}

// Dispute описывает спор по тестовой сессии.
type Dispute struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	SessionID   uuid.UUID  `db:"session_id" json:"session_id"`
	CampaignID  uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	InitiatorID uuid.UUID  `db:"initiator_id" json:"initiator_id"`
	Reason      string     `db:"reason" json:"reason"`
	Status      string     `db:"status" json:"status"`

	ResolutionType *string    `db:"resolution_type" json:"resolution_type,omitempty"`
	ResolutionNote *string    `db:"resolution_note" json:"resolution_note,omitempty"`
	RefundAmount   *float64   `db:"refund_amount" json:"refund_amount,omitempty"`
	ResolvedBy     *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Resolution возвращает тип решения, пустую строку для открытого спора.
func (d *Dispute) Resolution() string {
	if d.ResolutionType == nil {
		return ""
	}
	return *d.ResolutionType
}

// RefundAmountValue возвращает сумму частичного возврата.
func (d *Dispute) RefundAmountValue() float64 {
	if d.RefundAmount == nil {
		return 0
	}
	return *d.RefundAmount
}
