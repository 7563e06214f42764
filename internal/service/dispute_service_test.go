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

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetOpenBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) Create(ctx context.Context, dispute *models.Dispute) error {
	args := m.Called(ctx, dispute)
	return args.Error(0)
}

func (m *mockDisputeRepo) Resolve(ctx context.Context, dispute *models.Dispute) error {
	args := m.Called(ctx, dispute)
	return args.Error(0)
}

func (m *mockDisputeRepo) ListByProfile(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, profileID, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListOpen(ctx context.Context, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

type mockDisputeSettlement struct {
	mock.Mock
}

func (m *mockDisputeSettlement) ProcessDisputeResolution(ctx context.Context, dispute *models.Dispute, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, sessionAmount float64) error {
	args := m.Called(ctx, dispute, session, campaign, tester, sessionAmount)
	return args.Error(0)
}

type disputeMocks struct {
	disputes   *mockDisputeRepo
	sessions   *mockSessionRepo
	campaigns  *mockCampaignRepo
	profiles   *mockProfileRepo
	settlement *mockDisputeSettlement
	notifier   *mockNotifier
}

func newDisputeService(t *testing.T) (*DisputeService, *disputeMocks) {
	t.Helper()
	m := &disputeMocks{
		disputes:   new(mockDisputeRepo),
		sessions:   new(mockSessionRepo),
		campaigns:  new(mockCampaignRepo),
		profiles:   new(mockProfileRepo),
		settlement: new(mockDisputeSettlement),
		notifier:   new(mockNotifier),
	}
	svc := NewDisputeService(
		m.disputes, m.sessions, m.campaigns, m.profiles,
		m.settlement, m.notifier, testLogger(),
	)
	return svc, m
}

func TestDisputeService_CreateDispute(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	tester := models.Actor{ID: uuid.New(), Role: models.RoleTester}
	campaign := activeCampaign(uuid.New())
	session := &models.TestSession{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		TesterID:   tester.ID,
		Status:     models.SessionStatusSubmitted,
	}

	m.sessions.On("GetByID", ctx, session.ID).Return(session, nil)
	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.disputes.On("GetOpenBySessionID", ctx, session.ID).Return(nil, nil)
	m.disputes.On("Create", ctx, mock.MatchedBy(func(d *models.Dispute) bool {
		return d.SessionID == session.ID && d.InitiatorID == tester.ID
	})).Run(func(args mock.Arguments) {
		d := args.Get(1).(*models.Dispute)
		d.ID = uuid.New()
		d.Status = models.DisputeStatusOpen
		d.CreatedAt = time.Now()
	}).Return(nil)
	m.sessions.On("Update", ctx, mock.MatchedBy(func(s *models.TestSession) bool {
		return s.Status == models.SessionStatusDisputed && s.DisputedAt != nil
	}), models.SessionStatusSubmitted).Return(nil)
	m.notifier.On("Notify", campaign.SponsorID, models.EventDisputeOpened, mock.Anything).Return()

	dispute, err := svc.CreateDispute(ctx, tester, session.ID, "товар не соответствует описанию")

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusOpen, dispute.Status)
	m.disputes.AssertExpectations(t)
	m.sessions.AssertExpectations(t)
}

func TestDisputeService_CreateDispute_AlreadyOpen(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	tester := models.Actor{ID: uuid.New(), Role: models.RoleTester}
	campaign := activeCampaign(uuid.New())
	session := &models.TestSession{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		TesterID:   tester.ID,
		Status:     models.SessionStatusSubmitted,
	}

	m.sessions.On("GetByID", ctx, session.ID).Return(session, nil)
	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.disputes.On("GetOpenBySessionID", ctx, session.ID).Return(&models.Dispute{ID: uuid.New()}, nil)

	_, err := svc.CreateDispute(ctx, tester, session.ID, "повтор")

	assert.Error(t, err)
	m.disputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_CreateDispute_OutsiderForbidden(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	campaign := activeCampaign(uuid.New())
	session := &models.TestSession{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		TesterID:   uuid.New(),
		Status:     models.SessionStatusSubmitted,
	}

	m.sessions.On("GetByID", ctx, session.ID).Return(session, nil)
	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)

	stranger := models.Actor{ID: uuid.New(), Role: models.RoleTester}
	_, err := svc.CreateDispute(ctx, stranger, session.ID, "чужая сессия")

	assert.Error(t, err)
}

func TestDisputeService_CreateDispute_WrongStatus(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	tester := models.Actor{ID: uuid.New(), Role: models.RoleTester}
	campaign := activeCampaign(uuid.New())
	session := &models.TestSession{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		TesterID:   tester.ID,
		Status:     models.SessionStatusPending,
	}

	m.sessions.On("GetByID", ctx, session.ID).Return(session, nil)
	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)

	_, err := svc.CreateDispute(ctx, tester, session.ID, "рано")

	assert.Error(t, err)
	m.disputes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDisputeService_ResolveDispute_RefundTester(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	arbiter := models.Actor{ID: uuid.New(), Role: models.RoleArbiter}
	campaign := activeCampaign(uuid.New())

	reward := 115.0
	session := &models.TestSession{
		ID:           uuid.New(),
		CampaignID:   campaign.ID,
		TesterID:     uuid.New(),
		Status:       models.SessionStatusDisputed,
		RewardAmount: &reward,
	}
	dispute := &models.Dispute{
		ID:        uuid.New(),
		SessionID: session.ID,
		Status:    models.DisputeStatusOpen,
	}
	tester := &models.Profile{ID: session.TesterID}

	m.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	m.sessions.On("GetByID", ctx, session.ID).Return(session, nil)
	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.profiles.On("GetByID", ctx, session.TesterID).Return(tester, nil)
	m.settlement.On("ProcessDisputeResolution", ctx, dispute, session, campaign, tester, 115.0).Return(nil)
	m.disputes.On("Resolve", ctx, dispute).Run(func(args mock.Arguments) {
		d := args.Get(1).(*models.Dispute)
		d.Status = models.DisputeStatusResolved
		now := time.Now()
		d.ResolvedAt = &now
	}).Return(nil)
	m.sessions.On("Update", ctx, mock.MatchedBy(func(s *models.TestSession) bool {
		return s.Status == models.SessionStatusCompleted
	}), models.SessionStatusDisputed).Return(nil)
	m.notifier.On("Notify", mock.Anything, models.EventDisputeResolved, mock.Anything).Return()

	resolved, err := svc.ResolveDispute(ctx, arbiter, dispute.ID, ResolveDisputeInput{
		ResolutionType: models.ResolutionRefundTester,
	})

	assert.NoError(t, err)
	assert.Equal(t, models.ResolutionRefundTester, resolved.Resolution())
	assert.Equal(t, arbiter.ID, *resolved.ResolvedBy)
	m.settlement.AssertExpectations(t)
}

func TestDisputeService_ResolveDispute_SettlementFailureLeavesDisputeOpen(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	arbiter := models.Actor{ID: uuid.New(), Role: models.RoleArbiter}
	campaign := activeCampaign(uuid.New())

	reward := 115.0
	session := &models.TestSession{
		ID:           uuid.New(),
		CampaignID:   campaign.ID,
		TesterID:     uuid.New(),
		Status:       models.SessionStatusDisputed,
		RewardAmount: &reward,
	}
	dispute := &models.Dispute{ID: uuid.New(), SessionID: session.ID, Status: models.DisputeStatusOpen}

	m.disputes.On("GetByID", ctx, dispute.ID).Return(dispute, nil)
	m.sessions.On("GetByID", ctx, session.ID).Return(session, nil)
	m.campaigns.On("GetByID", ctx, campaign.ID).Return(campaign, nil)
	m.profiles.On("GetByID", ctx, session.TesterID).Return(&models.Profile{ID: session.TesterID}, nil)
	m.settlement.On("ProcessDisputeResolution", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("gateway unavailable"))

	_, err := svc.ResolveDispute(ctx, arbiter, dispute.ID, ResolveDisputeInput{
		ResolutionType: models.ResolutionRefundTester,
	})

	assert.Error(t, err)
	m.disputes.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	m.sessions.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestDisputeService_ResolveDispute_PartialRequiresAmount(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()
	arbiter := models.Actor{ID: uuid.New(), Role: models.RoleArbiter}

	_, err := svc.ResolveDispute(ctx, arbiter, uuid.New(), ResolveDisputeInput{
		ResolutionType: models.ResolutionPartialRefund,
	})

	assert.Error(t, err)
	m.disputes.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestDisputeService_ResolveDispute_ForbiddenForParties(t *testing.T) {
	svc, m := newDisputeService(t)
	ctx := context.Background()

	for _, role := range []string{models.RoleTester, models.RoleSponsor} {
		_, err := svc.ResolveDispute(ctx, models.Actor{ID: uuid.New(), Role: role}, uuid.New(), ResolveDisputeInput{
			ResolutionType: models.ResolutionNoRefund,
		})
		assert.Error(t, err)
	}
	m.disputes.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
