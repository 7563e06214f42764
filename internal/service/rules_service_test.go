package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/producttest-backend/internal/models"
)

type mockRulesRepo struct {
	mock.Mock
}

func (m *mockRulesRepo) GetLatest(ctx context.Context) (*models.BusinessRules, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BusinessRules), args.Error(1)
}

func (m *mockRulesRepo) Create(ctx context.Context, rules *models.BusinessRules) error {
	args := m.Called(ctx, rules)
	return args.Error(0)
}

func defaultRules() *models.BusinessRules {
	return &models.BusinessRules{
		ID:                            uuid.New(),
		Version:                       1,
		CommissionFixedFee:            5,
		GatewayFeePercent:             0.035,
		GracePeriodMinutes:            30,
		CancellationFeePercent:        10,
		TesterCompensation:            5,
		CancellationBanDays:           30,
		CancellationCommissionPercent: 50,
		KYCTestThreshold:              3,
		UGCVideoPrice:                 50,
		UGCPhotoPrice:                 20,
		UGCCommissionPercent:          20,
	}
}

func TestCommissionForBase(t *testing.T) {
	rules := defaultRules()

	// total = (65 + 5) + 70 * 0.035 / 0.965 = 70 + 2.5388... = 72.54
	b := CommissionForBase(65, rules)
	assert.Equal(t, 65.0, b.BaseCost)
	assert.Equal(t, 5.0, b.FixedFee)
	assert.Equal(t, 2.54, b.FeeCoverage)
	assert.Equal(t, 72.54, b.Total)
	assert.Equal(t, 7.54, b.PlatformCommission())
}

func TestCommissionForBase_ZeroGatewayFee(t *testing.T) {
	rules := defaultRules()
	rules.GatewayFeePercent = 0

	b := CommissionForBase(100, rules)
	assert.Equal(t, 0.0, b.FeeCoverage)
	assert.Equal(t, 105.0, b.Total)
	assert.Equal(t, 5.0, b.PlatformCommission())
}

func TestSessionBaseCost(t *testing.T) {
	priceMax := 65.0
	campaign := &models.Campaign{
		PriceRangeMax: &priceMax,
		ShippingCost:  4.5,
		Bonus:         10,
	}
	assert.Equal(t, 79.5, SessionBaseCost(campaign))

	// Без диапазона цены остаются доставка и бонус.
	campaign.PriceRangeMax = nil
	assert.Equal(t, 14.5, SessionBaseCost(campaign))
}

func TestRewardForSession(t *testing.T) {
	assert.Equal(t, 58.0, RewardForSession(45, 3, 10))
	assert.Equal(t, 45.0, RewardForSession(45, 0, 0))
}

func TestCampaignCancellationImpactFor_WithinGrace(t *testing.T) {
	rules := defaultRules()
	activated := time.Now().Add(-10 * time.Minute)
	campaign := &models.Campaign{
		EscrowAmount: 1000,
		ActivatedAt:  &activated,
	}

	impact := CampaignCancellationImpactFor(campaign, rules, 3, time.Now())

	assert.True(t, impact.WithinGracePeriod)
	assert.Equal(t, 1000.0, impact.RefundToSponsor)
	assert.Equal(t, 0.0, impact.CancellationFee)
	assert.Equal(t, 0.0, impact.CompensationPerTester)
}

func TestCampaignCancellationImpactFor_AfterGrace(t *testing.T) {
	rules := defaultRules()
	activated := time.Now().Add(-2 * time.Hour)
	campaign := &models.Campaign{
		EscrowAmount: 1000,
		ActivatedAt:  &activated,
	}

	impact := CampaignCancellationImpactFor(campaign, rules, 4, time.Now())

	assert.False(t, impact.WithinGracePeriod)
	assert.Equal(t, 100.0, impact.CancellationFee)
	assert.Equal(t, 900.0, impact.RefundToSponsor)
	assert.Equal(t, 5.0, impact.CompensationPerTester)
	assert.Equal(t, 4, impact.AffectedTesters)
}

func TestCampaignCancellationImpactFor_NoTesters(t *testing.T) {
	rules := defaultRules()
	activated := time.Now().Add(-2 * time.Hour)
	campaign := &models.Campaign{
		EscrowAmount: 500,
		ActivatedAt:  &activated,
	}

	impact := CampaignCancellationImpactFor(campaign, rules, 0, time.Now())

	assert.Equal(t, 50.0, impact.CancellationFee)
	assert.Equal(t, 450.0, impact.RefundToSponsor)
	// Некого компенсировать.
	assert.Equal(t, 0.0, impact.CompensationPerTester)
}

func TestSessionCancellationImpactFor(t *testing.T) {
	rules := defaultRules()

	impact := SessionCancellationImpactFor(100, 10, 5, rules)

	// Тестеру возвращается всё потраченное вместе с бонусом.
	assert.Equal(t, 115.0, impact.RefundAmount)
	// Комиссия — половина обычной комиссии с суммы возврата:
	// обычная = (115+5)*0.035/0.965 + 5 = 9.35, половина = 4.68.
	assert.Equal(t, 4.68, impact.Commission)
	assert.Equal(t, 30, impact.BanDays)
}

func TestUGCPrice(t *testing.T) {
	rules := defaultRules()

	price, err := UGCPrice(models.UGCTypeVideo, rules)
	assert.NoError(t, err)
	assert.Equal(t, 50.0, price)

	price, err = UGCPrice(models.UGCTypePhoto, rules)
	assert.NoError(t, err)
	assert.Equal(t, 20.0, price)

	price, err = UGCPrice(models.UGCTypeText, rules)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, price)

	price, err = UGCPrice(models.UGCTypeExternalReview, rules)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, price)

	_, err = UGCPrice("audio", rules)
	assert.Error(t, err)
}

func TestRulesService_UpdateRules_ForbiddenForNonArbiter(t *testing.T) {
	repo := new(mockRulesRepo)
	svc := NewRulesService(repo)

	_, err := svc.UpdateRules(context.Background(), models.Actor{ID: uuid.New(), Role: models.RoleSponsor}, UpdateRulesInput{})
	assert.Error(t, err)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRulesService_UpdateRules_InvalidGatewayFee(t *testing.T) {
	repo := new(mockRulesRepo)
	svc := NewRulesService(repo)
	ctx := context.Background()

	repo.On("GetLatest", ctx).Return(defaultRules(), nil)

	bad := 1.2
	_, err := svc.UpdateRules(ctx, models.Actor{ID: uuid.New(), Role: models.RoleArbiter}, UpdateRulesInput{
		GatewayFeePercent: &bad,
	})
	assert.Error(t, err)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRulesService_UpdateRules_CreatesNewVersion(t *testing.T) {
	repo := new(mockRulesRepo)
	svc := NewRulesService(repo)
	ctx := context.Background()
	arbiter := models.Actor{ID: uuid.New(), Role: models.RoleArbiter}

	repo.On("GetLatest", ctx).Return(defaultRules(), nil)
	repo.On("Create", ctx, mock.AnythingOfType("*models.BusinessRules")).Return(nil)

	newFee := 15.0
	updated, err := svc.UpdateRules(ctx, arbiter, UpdateRulesInput{
		CancellationFeePercent: &newFee,
	})

	assert.NoError(t, err)
	assert.Equal(t, 15.0, updated.CancellationFeePercent)
	// Остальные значения наследуются от действующей версии.
	assert.Equal(t, 5.0, updated.CommissionFixedFee)
	assert.Equal(t, arbiter.ID, *updated.CreatedBy)
	repo.AssertExpectations(t)
}
