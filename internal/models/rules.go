package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы UGC контента
const (
	UGCTypeVideo          = "video"
	UGCTypePhoto          = "photo"
	UGCTypeText           = "text"
	UGCTypeExternalReview = "external_review"
)

// BusinessRules — версионируемая строка бизнес-констант.
// Потребители всегда читают последнюю версию; правки создают новую строку,
// старые версии сохраняются для аудита.
type BusinessRules struct {
	ID      uuid.UUID `db:"id" json:"id"`
	Version int       `db:"version" json:"version"`

	// Комиссия платформы: фиксированная часть и доля покрытия
	// комиссии платёжного шлюза (доля, напр. 0.035).
	CommissionFixedFee float64 `db:"commission_fixed_fee" json:"commission_fixed_fee"`
	GatewayFeePercent  float64 `db:"gateway_fee_percent" json:"gateway_fee_percent"`

	// Отмена кампании спонсором. Сбор задаётся в процентах (10 = 10%).
	GracePeriodMinutes     int     `db:"grace_period_minutes" json:"grace_period_minutes"`
	CancellationFeePercent float64 `db:"cancellation_fee_percent" json:"cancellation_fee_percent"`
	TesterCompensation     float64 `db:"tester_compensation" json:"tester_compensation"`

	// Отмена сессии тестером. Комиссия задаётся как процент от обычной
	// комиссии платформы (50 = платформа удерживает половину).
	CancellationBanDays           int     `db:"cancellation_ban_days" json:"cancellation_ban_days"`
	CancellationCommissionPercent float64 `db:"cancellation_commission_percent" json:"cancellation_commission_percent"`

	// Порог KYC: после стольких завершённых тестов требуется
	// верификация личности для новых заявок.
	KYCTestThreshold int `db:"kyc_test_threshold" json:"kyc_test_threshold"`

	// Цены UGC контента
	UGCVideoPrice        float64 `db:"ugc_video_price" json:"ugc_video_price"`
	UGCPhotoPrice        float64 `db:"ugc_photo_price" json:"ugc_photo_price"`
	UGCCommissionPercent float64 `db:"ugc_commission_percent" json:"ugc_commission_percent"`

	CreatedBy *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
