package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/producttest-backend/internal/models"
)

// RulesRepository хранит версии бизнес-правил. Правила не редактируются:
// каждое изменение создаёт новую версию поверх предыдущей.
type RulesRepository struct {
	db *sqlx.DB
}

func NewRulesRepository(db *sqlx.DB) *RulesRepository {
	return &RulesRepository{db: db}
}

// GetLatest возвращает действующую (последнюю) версию правил.
func (r *RulesRepository) GetLatest(ctx context.Context) (*models.BusinessRules, error) {
	var rules models.BusinessRules
	err := r.db.GetContext(ctx, &rules, `
		SELECT * FROM business_rules ORDER BY version DESC LIMIT 1
	`)
	if err != nil {
		return nil, fmt.Errorf("rules repository: get latest %w", err)
	}
	return &rules, nil
}

// Create записывает новую версию правил, номер версии назначается атомарно.
func (r *RulesRepository) Create(ctx context.Context, rules *models.BusinessRules) error {
	return r.db.GetContext(ctx, rules, `
		INSERT INTO business_rules (
			version, commission_fixed_fee, gateway_fee_percent, grace_period_minutes,
			cancellation_fee_percent, tester_compensation, cancellation_ban_days,
			cancellation_commission_percent, kyc_test_threshold,
			ugc_video_price, ugc_photo_price, ugc_commission_percent, created_by
		)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		FROM business_rules
		RETURNING *
	`,
		rules.CommissionFixedFee, rules.GatewayFeePercent, rules.GracePeriodMinutes,
		rules.CancellationFeePercent, rules.TesterCompensation, rules.CancellationBanDays,
		rules.CancellationCommissionPercent, rules.KYCTestThreshold,
		rules.UGCVideoPrice, rules.UGCPhotoPrice, rules.UGCCommissionPercent, rules.CreatedBy,
	)
}
