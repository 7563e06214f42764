package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// События жизненного цикла сессии, рассылаемые уведомлениями.
const (
	EventSessionApplied           = "session_applied"
	EventSessionAccepted          = "session_accepted"
	EventSessionRejected          = "session_rejected"
	EventPurchaseSubmitted        = "purchase_submitted"
	EventPurchaseValidated        = "purchase_validated"
	EventPurchaseRejected         = "purchase_rejected"
	EventTestSubmitted            = "test_submitted"
	EventSessionCompleted         = "session_completed"
	EventSessionCancelled         = "session_cancelled"
	EventCampaignCancelled        = "campaign_cancelled"
	EventDisputeOpened            = "dispute_opened"
	EventDisputeResolved          = "dispute_resolved"
)

// Notification описывает уведомление участника.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	ProfileID uuid.UUID       `db:"profile_id" json:"profile_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
