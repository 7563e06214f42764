package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
)

// RulesRepository — хранилище версий бизнес-правил.
type RulesRepository interface {
	GetLatest(ctx context.Context) (*models.BusinessRules, error)
	Create(ctx context.Context, rules *models.BusinessRules) error
}

// RulesService отдаёт действующие бизнес-правила и считает по ним
// комиссии и последствия отмен. Все денежные вычисления идут через
// decimal и округляются до копеек в самом конце.
type RulesService struct {
	rulesRepo RulesRepository
}

func NewRulesService(rulesRepo RulesRepository) *RulesService {
	return &RulesService{rulesRepo: rulesRepo}
}

// Current возвращает действующую версию правил.
func (s *RulesService) Current(ctx context.Context) (*models.BusinessRules, error) {
	return s.rulesRepo.GetLatest(ctx)
}

// UpdateRulesInput — изменяемые поля правил. Nil означает «оставить как есть».
type UpdateRulesInput struct {
	CommissionFixedFee            *float64 `json:"commission_fixed_fee"`
	GatewayFeePercent             *float64 `json:"gateway_fee_percent"`
	GracePeriodMinutes            *int     `json:"grace_period_minutes"`
	CancellationFeePercent        *float64 `json:"cancellation_fee_percent"`
	TesterCompensation            *float64 `json:"tester_compensation"`
	CancellationBanDays           *int     `json:"cancellation_ban_days"`
	CancellationCommissionPercent *float64 `json:"cancellation_commission_percent"`
	KYCTestThreshold              *int     `json:"kyc_test_threshold"`
	UGCVideoPrice                 *float64 `json:"ugc_video_price"`
	UGCPhotoPrice                 *float64 `json:"ugc_photo_price"`
	UGCCommissionPercent          *float64 `json:"ugc_commission_percent"`
}

// UpdateRules создаёт новую версию правил поверх действующей.
// Доступно только арбитру.
func (s *RulesService) UpdateRules(ctx context.Context, actor models.Actor, input UpdateRulesInput) (*models.BusinessRules, error) {
	if !actor.IsArbiter() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "изменение правил доступно только арбитру")
	}

	current, err := s.rulesRepo.GetLatest(ctx)
	if err != nil {
		return nil, err
	}

	next := *current
	next.CreatedBy = &actor.ID

	if input.CommissionFixedFee != nil {
		next.CommissionFixedFee = *input.CommissionFixedFee
	}
	if input.GatewayFeePercent != nil {
		if *input.GatewayFeePercent < 0 || *input.GatewayFeePercent >= 1 {
			return nil, apperror.New(apperror.ErrCodeValidation, "доля комиссии шлюза должна быть в диапазоне [0, 1)")
		}
		next.GatewayFeePercent = *input.GatewayFeePercent
	}
	if input.GracePeriodMinutes != nil {
		next.GracePeriodMinutes = *input.GracePeriodMinutes
	}
	if input.CancellationFeePercent != nil {
		next.CancellationFeePercent = *input.CancellationFeePercent
	}
	if input.TesterCompensation != nil {
		next.TesterCompensation = *input.TesterCompensation
	}
	if input.CancellationBanDays != nil {
		next.CancellationBanDays = *input.CancellationBanDays
	}
	if input.CancellationCommissionPercent != nil {
		next.CancellationCommissionPercent = *input.CancellationCommissionPercent
	}
	if input.KYCTestThreshold != nil {
		next.KYCTestThreshold = *input.KYCTestThreshold
	}
	if input.UGCVideoPrice != nil {
		next.UGCVideoPrice = *input.UGCVideoPrice
	}
	if input.UGCPhotoPrice != nil {
		next.UGCPhotoPrice = *input.UGCPhotoPrice
	}
	if input.UGCCommissionPercent != nil {
		next.UGCCommissionPercent = *input.UGCCommissionPercent
	}

	if err := s.rulesRepo.Create(ctx, &next); err != nil {
		return nil, err
	}

	return &next, nil
}

// CommissionBreakdown — разложение стоимости теста для спонсора.
type CommissionBreakdown struct {
	BaseCost    float64 `json:"base_cost"`
	FixedFee    float64 `json:"fixed_fee"`
	FeeCoverage float64 `json:"fee_coverage"`
	Total       float64 `json:"total"`
}

// PlatformCommission — доля платформы в итоговой стоимости.
func (b CommissionBreakdown) PlatformCommission() float64 {
	return round2(b.Total - b.BaseCost)
}

// CommissionForBase считает полную стоимость теста для спонсора:
// базовая стоимость, фикс платформы и покрытие комиссии шлюза,
// которую шлюз удержит с итоговой суммы.
//
//	total = B + fixed + (B + fixed) * p / (1 - p)
func CommissionForBase(baseCost float64, rules *models.BusinessRules) CommissionBreakdown {
	base := decimal.NewFromFloat(baseCost)
	fixed := decimal.NewFromFloat(rules.CommissionFixedFee)
	p := decimal.NewFromFloat(rules.GatewayFeePercent)

	subtotal := base.Add(fixed)
	coverage := subtotal.Mul(p).Div(decimal.NewFromInt(1).Sub(p))
	total := subtotal.Add(coverage).Round(2)

	return CommissionBreakdown{
		BaseCost:    baseCost,
		FixedFee:    rules.CommissionFixedFee,
		FeeCoverage: coverage.Round(2).InexactFloat64(),
		Total:       total.InexactFloat64(),
	}
}

// SessionBaseCost — базовая стоимость одного теста кампании:
// максимум ценового диапазона, доставка и бонус тестера.
func SessionBaseCost(campaign *models.Campaign) float64 {
	var priceMax float64
	if campaign.PriceRangeMax != nil {
		priceMax = *campaign.PriceRangeMax
	}
	return round2(priceMax + campaign.ShippingCost + campaign.Bonus)
}

// RewardForSession — сумма выплаты тестеру за завершённый тест:
// подтверждённая цена товара, доставка и бонус кампании.
func RewardForSession(productPrice, shippingCost, bonus float64) float64 {
	return round2(productPrice + shippingCost + bonus)
}

// CampaignCancellationImpact — финансовые последствия отмены кампании.
type CampaignCancellationImpact struct {
	TotalEscrow           float64 `json:"total_escrow"`
	CancellationFee       float64 `json:"cancellation_fee"`
	RefundToSponsor       float64 `json:"refund_to_sponsor"`
	CompensationPerTester float64 `json:"compensation_per_tester"`
	AffectedTesters       int     `json:"affected_testers"`
	WithinGracePeriod     bool    `json:"within_grace_period"`
}

// CampaignCancellationImpactFor считает последствия отмены кампании
// спонсором. Внутри льготного периода после активации возврат полный;
// после него со спонсора удерживается сбор за отмену, компенсации
// затронутым тестерам выплачиваются из удержанного сбора.
func CampaignCancellationImpactFor(campaign *models.Campaign, rules *models.BusinessRules, affectedTesters int, now time.Time) CampaignCancellationImpact {
	impact := CampaignCancellationImpact{
		TotalEscrow:     campaign.EscrowAmount,
		AffectedTesters: affectedTesters,
	}

	grace := time.Duration(rules.GracePeriodMinutes) * time.Minute
	if campaign.ActivatedAt != nil && now.Sub(*campaign.ActivatedAt) < grace {
		impact.WithinGracePeriod = true
		impact.RefundToSponsor = round2(campaign.EscrowAmount)
		return impact
	}

	escrow := decimal.NewFromFloat(campaign.EscrowAmount)
	fee := escrow.Mul(decimal.NewFromFloat(rules.CancellationFeePercent)).Div(decimal.NewFromInt(100)).Round(2)

	impact.CancellationFee = fee.InexactFloat64()
	impact.RefundToSponsor = escrow.Sub(fee).Round(2).InexactFloat64()
	if affectedTesters > 0 {
		impact.CompensationPerTester = round2(rules.TesterCompensation)
	}
	return impact
}

// SessionCancellationImpact — последствия отмены сессии тестером
// после подтверждения покупки.
type SessionCancellationImpact struct {
	RefundAmount float64 `json:"refund_amount"`
	Commission   float64 `json:"commission"`
	BanDays      int     `json:"ban_days"`
}

// SessionCancellationImpactFor считает возврат тестеру при отмене после
// подтверждённой покупки: тестер уже заплатил из своего кармана, поэтому
// цена товара, доставка и бонус возвращаются ему полностью. Платформа
// удерживает только долю обычной комиссии.
func SessionCancellationImpactFor(productPrice, shippingCost, bonus float64, rules *models.BusinessRules) SessionCancellationImpact {
	refund := decimal.NewFromFloat(productPrice).
		Add(decimal.NewFromFloat(shippingCost)).
		Add(decimal.NewFromFloat(bonus)).
		Round(2)

	normal := CommissionForBase(refund.InexactFloat64(), rules).PlatformCommission()
	commission := decimal.NewFromFloat(normal).
		Mul(decimal.NewFromFloat(rules.CancellationCommissionPercent)).
		Div(decimal.NewFromInt(100)).
		Round(2)

	return SessionCancellationImpact{
		RefundAmount: refund.InexactFloat64(),
		Commission:   commission.InexactFloat64(),
		BanDays:      rules.CancellationBanDays,
	}
}

// UGCPrice возвращает цену единицы UGC контента по типу.
// Текст и внешние отзывы бесплатны.
func UGCPrice(ugcType string, rules *models.BusinessRules) (float64, error) {
	switch ugcType {
	case models.UGCTypeVideo:
		return rules.UGCVideoPrice, nil
	case models.UGCTypePhoto:
		return rules.UGCPhotoPrice, nil
	case models.UGCTypeText, models.UGCTypeExternalReview:
		return 0, nil
	default:
		return 0, apperror.New(apperror.ErrCodeValidation, "неизвестный тип контента")
	}
}

// round2 округляет до двух знаков через decimal.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
