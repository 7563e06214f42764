package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/producttest-backend/internal/models"
)

type mockCancellationCampaignRepo struct {
	mock.Mock
}

func (m *mockCancellationCampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Campaign), args.Error(1)
}

func (m *mockCancellationCampaignRepo) MarkCancelled(ctx context.Context, campaignID uuid.UUID) error {
	args := m.Called(ctx, campaignID)
	return args.Error(0)
}

type mockCancellationSessionRepo struct {
	mock.Mock
}

func (m *mockCancellationSessionRepo) ListAcceptedTesterIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockCancellationSessionRepo) CancelAllNonTerminal(ctx context.Context, campaignID uuid.UUID, reason string) (int, error) {
	args := m.Called(ctx, campaignID, reason)
	return args.Int(0), args.Error(1)
}

type mockCampaignSettlement struct {
	mock.Mock
}

func (m *mockCampaignSettlement) ProcessCampaignCancellationRefund(ctx context.Context, campaign *models.Campaign, impact CampaignCancellationImpact, affectedTesters []models.Profile) error {
	args := m.Called(ctx, campaign, impact, affectedTesters)
	return args.Error(0)
}

type cancellationMocks struct {
	campaigns  *mockCancellationCampaignRepo
	sessions   *mockCancellationSessionRepo
	profiles   *mockProfileRepo
	rules      *mockRulesRepo
	settlement *mockCampaignSettlement
	notifier   *mockNotifier
}

func newCancellationService(t *testing.T) (*CancellationService, *cancellationMocks) {
	t.Helper()
	m := &cancellationMocks{
		campaigns:  new(mockCancellationCampaignRepo),
		sessions:   new(mockCancellationSessionRepo),
		profiles:   new(mockProfileRepo),
		rules:      new(mockRulesRepo),
		settlement: new(mockCampaignSettlement),
		notifier:   new(mockNotifier),
	}
	svc := NewCancellationService(
		m.campaigns, m.sessions, m.profiles,
		NewRulesService(m.rules), m.settlement, m.notifier,
		testLogger(),
	)
	return svc, m
}

func TestCancellationService_CancelCampaign(t *testing.T) {
	svc, m := newCancellationService(t)
	ctx := context.Background()
	sponsor := models.Actor{ID: uuid.New(), Role: models.RoleSponsor}
	campaign := activeCampaign(sponsor.ID)
	testerID := uuid.New()

	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.rules.On("GetLatest", ctx).Return(defaultRules(), nil)
	m.sessions.On("ListAcceptedTesterIDs", ctx, campaign.ID).Return([]uuid.UUID{testerID}, nil)
	m.profiles.On("GetByID", ctx, testerID).Return(&models.Profile{ID: testerID}, nil)
	// Эскроу 1000, сбор 10% вне льготного периода: возврат 900.
	m.settlement.On("ProcessCampaignCancellationRefund", ctx, campaign,
		mock.MatchedBy(func(impact CampaignCancellationImpact) bool {
			return impact.RefundToSponsor == 900 && impact.CancellationFee == 100 &&
				impact.CompensationPerTester == 5 && !impact.WithinGracePeriod
		}), mock.Anything).Return(nil)
	m.campaigns.On("MarkCancelled", ctx, campaign.ID).Return(nil)
	m.sessions.On("CancelAllNonTerminal", ctx, campaign.ID, "распродано").Return(1, nil)
	m.notifier.On("Notify", testerID, models.EventCampaignCancelled, mock.Anything).Return()

	impact, err := svc.CancelCampaign(ctx, sponsor, campaign.ID, "распродано")

	assert.NoError(t, err)
	assert.Equal(t, 900.0, impact.RefundToSponsor)
	m.settlement.AssertExpectations(t)
	m.campaigns.AssertExpectations(t)
}

func TestCancellationService_CancelCampaign_RefundFailureBlocks(t *testing.T) {
	svc, m := newCancellationService(t)
	ctx := context.Background()
	sponsor := models.Actor{ID: uuid.New(), Role: models.RoleSponsor}
	campaign := activeCampaign(sponsor.ID)

	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.rules.On("GetLatest", ctx).Return(defaultRules(), nil)
	m.sessions.On("ListAcceptedTesterIDs", ctx, campaign.ID).Return([]uuid.UUID{}, nil)
	m.settlement.On("ProcessCampaignCancellationRefund", ctx, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("gateway unavailable"))

	_, err := svc.CancelCampaign(ctx, sponsor, campaign.ID, "распродано")

	assert.Error(t, err)
	// Деньги не вернулись — кампания остаётся активной.
	m.campaigns.AssertNotCalled(t, "MarkCancelled", mock.Anything, mock.Anything)
}

func TestCancellationService_CancelCampaign_ForeignSponsor(t *testing.T) {
	svc, m := newCancellationService(t)
	ctx := context.Background()
	campaign := activeCampaign(uuid.New())

	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)

	stranger := models.Actor{ID: uuid.New(), Role: models.RoleSponsor}
	_, err := svc.CancelCampaign(ctx, stranger, campaign.ID, "распродано")

	assert.Error(t, err)
	m.settlement.AssertNotCalled(t, "ProcessCampaignCancellationRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancellationService_AdminCancelCampaign(t *testing.T) {
	svc, m := newCancellationService(t)
	ctx := context.Background()
	arbiter := models.Actor{ID: uuid.New(), Role: models.RoleArbiter}
	campaign := activeCampaign(uuid.New())
	testerID := uuid.New()

	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.sessions.On("ListAcceptedTesterIDs", ctx, campaign.ID).Return([]uuid.UUID{testerID}, nil)
	m.campaigns.On("MarkCancelled", ctx, campaign.ID).Return(nil)
	m.sessions.On("CancelAllNonTerminal", ctx, campaign.ID, "нарушение правил").Return(2, nil)
	m.notifier.On("Notify", testerID, models.EventCampaignCancelled, mock.Anything).Return()

	err := svc.AdminCancelCampaign(ctx, arbiter, campaign.ID, "нарушение правил")

	assert.NoError(t, err)
	// Принудительная отмена не двигает деньги.
	m.settlement.AssertNotCalled(t, "ProcessCampaignCancellationRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancellationService_AdminCancelCampaign_ForbiddenForSponsor(t *testing.T) {
	svc, m := newCancellationService(t)
	ctx := context.Background()
	sponsor := models.Actor{ID: uuid.New(), Role: models.RoleSponsor}

	err := svc.AdminCancelCampaign(ctx, sponsor, uuid.New(), "нарушение")

	assert.Error(t, err)
	m.campaigns.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCancellationService_PreviewImpact_WithinGrace(t *testing.T) {
	svc, m := newCancellationService(t)
	ctx := context.Background()
	sponsor := models.Actor{ID: uuid.New(), Role: models.RoleSponsor}
	campaign := activeCampaign(sponsor.ID)

	// Активация минуту назад — полный возврат.
	activated := time.Now().Add(-time.Minute)
	campaign.ActivatedAt = &activated

	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.rules.On("GetLatest", ctx).Return(defaultRules(), nil)
	m.sessions.On("ListAcceptedTesterIDs", ctx, campaign.ID).Return([]uuid.UUID{}, nil)

	impact, err := svc.PreviewImpact(ctx, sponsor, campaign.ID)

	assert.NoError(t, err)
	assert.True(t, impact.WithinGracePeriod)
	assert.Equal(t, 1000.0, impact.RefundToSponsor)
	assert.Equal(t, 0.0, impact.CancellationFee)
}
