package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы кампании
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
)

// Режимы кампании: по процедуре (шаги + проверка цены) или по прямой ссылке.
const (
	CampaignModeProcedure  = "procedure"
	CampaignModeDirectLink = "direct_link"
)

// Campaign описывает кампанию спонсора с предложением для тестеров.
// Внутри ядра используется read-mostly: CRUD кампаний живёт снаружи.
type Campaign struct {
	ID            uuid.UUID `db:"id" json:"id"`
	SponsorID     uuid.UUID `db:"sponsor_id" json:"sponsor_id"`
	Title         string    `db:"title" json:"title"`
	Status        string    `db:"status" json:"status"`
	Mode          string    `db:"mode" json:"mode"`
	AvailableSlots int      `db:"available_slots" json:"available_slots"`
	TotalSlots     int      `db:"total_slots" json:"total_slots"`

	PriceRangeMin *float64 `db:"price_range_min" json:"price_range_min,omitempty"`
	PriceRangeMax *float64 `db:"price_range_max" json:"price_range_max,omitempty"`
	Bonus         float64  `db:"bonus" json:"bonus"`
	ShippingCost  float64  `db:"shipping_cost" json:"shipping_cost"`
	TotalSteps    int      `db:"total_steps" json:"total_steps"`

	AutoAccept          bool `db:"auto_accept" json:"auto_accept"`
	SkipOnboardingCheck bool `db:"skip_onboarding_check" json:"skip_onboarding_check"`
	SkipPurchaseWindow  bool `db:"skip_purchase_window" json:"skip_purchase_window"`

	// Эскроу кампании: сумма, удержанная с спонсора при активации,
	// и ссылка на платёж в платёжном шлюзе для возвратов.
	EscrowAmount    float64    `db:"escrow_amount" json:"escrow_amount"`
	PaymentIntentID *string    `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	ActivatedAt     *time.Time `db:"activated_at" json:"activated_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RequiresProcedure возвращает true, если кампания требует шаги и проверку цены.
func (c *Campaign) RequiresProcedure() bool {
	return c.Mode == CampaignModeProcedure
}

// HoursSinceActivation возвращает время с момента активации в часах.
func (c *Campaign) HoursSinceActivation(now time.Time) float64 {
	if c.ActivatedAt == nil {
		return 0
	}
	return now.Sub(*c.ActivatedAt).Hours()
}

// ScheduleSlot описывает окно графика раздачи: либо день недели,
// либо фиксированная дата, с лимитом единиц на окно.
type ScheduleSlot struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CampaignID uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	Weekday    *int       `db:"weekday" json:"weekday,omitempty"`
	FixedDate  *time.Time `db:"fixed_date" json:"fixed_date,omitempty"`
	MaxUnits   int        `db:"max_units" json:"max_units"`
}
