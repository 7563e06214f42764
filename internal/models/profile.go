package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли участников
const (
	RoleTester  = "tester"
	RoleSponsor = "sponsor"
	RoleArbiter = "arbiter"
)

// Actor — аутентифицированный участник операции.
// Передаётся в каждую операцию ядра явно: проверка прав выполняется
// самой операцией, а не слоем маршрутизации.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// IsTester возвращает true для роли тестера.
func (a Actor) IsTester() bool { return a.Role == RoleTester }

// IsSponsor возвращает true для роли спонсора.
func (a Actor) IsSponsor() bool { return a.Role == RoleSponsor }

// IsArbiter возвращает true для роли арбитра.
func (a Actor) IsArbiter() bool { return a.Role == RoleArbiter }

// Profile описывает профиль участника платформы.
type Profile struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Role        string    `db:"role" json:"role"`

	// Счётчики тестера
	CompletedTests int `db:"completed_tests" json:"completed_tests"`
	CancelledTests int `db:"cancelled_tests" json:"cancelled_tests"`

	// Бан за поздние отмены
	BannedUntil *time.Time `db:"banned_until" json:"banned_until,omitempty"`

	// Онбординг в платёжном шлюзе и верификация личности (KYC)
	GatewayAccountID    *string `db:"gateway_account_id" json:"gateway_account_id,omitempty"`
	OnboardingCompleted bool    `db:"onboarding_completed" json:"onboarding_completed"`
	IdentityVerified    bool    `db:"identity_verified" json:"identity_verified"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsBanned проверяет, действует ли бан на момент now.
func (p *Profile) IsBanned(now time.Time) bool {
	return p.BannedUntil != nil && p.BannedUntil.After(now)
}
