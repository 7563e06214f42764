package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/producttest-backend/internal/gateway"
	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/repository"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) GetOrCreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	args := m.Called(ctx, intent)
	return args.Error(0)
}

func (m *mockLedger) SetIntentCalled(ctx context.Context, intentID uuid.UUID, externalID string) error {
	args := m.Called(ctx, intentID, externalID)
	return args.Error(0)
}

func (m *mockLedger) SetIntentSettled(ctx context.Context, intentID uuid.UUID) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

func (m *mockLedger) SetIntentFailed(ctx context.Context, intentID uuid.UUID, lastError string) error {
	args := m.Called(ctx, intentID, lastError)
	return args.Error(0)
}

func (m *mockLedger) ListUnsettledIntents(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentIntent, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]models.PaymentIntent), args.Error(1)
}

func (m *mockLedger) ApplyTestReward(ctx context.Context, p repository.TestRewardParams) (*models.Transaction, *models.Transaction, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Transaction), args.Get(1).(*models.Transaction), args.Error(2)
}

func (m *mockLedger) ApplyTesterCredit(ctx context.Context, p repository.TesterCreditParams) (*models.Transaction, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockLedger) ApplySponsorCredit(ctx context.Context, p repository.SponsorCreditParams) (*models.Transaction, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockLedger) GetPlatformLedger(ctx context.Context) (*models.PlatformLedger, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlatformLedger), args.Error(1)
}

func (m *mockLedger) GetWallet(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	args := m.Called(ctx, profileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *mockLedger) ListTransactions(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, profileID, limit, offset)
	return args.Get(0).([]models.Transaction), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateTransfer(ctx context.Context, destination string, amount float64, idempotencyKey string, metadata map[string]string) (*gateway.Transfer, error) {
	args := m.Called(ctx, destination, amount, idempotencyKey, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Transfer), args.Error(1)
}

func (m *mockGateway) CreateRefund(ctx context.Context, paymentRef string, amount float64, reason, idempotencyKey string, metadata map[string]string) (*gateway.Refund, error) {
	args := m.Called(ctx, paymentRef, amount, reason, idempotencyKey, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *mockGateway) RetrieveBalance(ctx context.Context) (*gateway.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Balance), args.Error(1)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testerWithAccount() *models.Profile {
	account := "acct_tester"
	return &models.Profile{
		ID:               uuid.New(),
		Role:             models.RoleTester,
		GatewayAccountID: &account,
	}
}

func TestSettlementService_ProcessTestCompletion(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	session := &models.TestSession{ID: uuid.New()}
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New()}
	tester := testerWithAccount()
	intentID := uuid.New()

	ledger.On("GetOrCreateIntent", ctx, mock.AnythingOfType("*models.PaymentIntent")).
		Run(func(args mock.Arguments) {
			intent := args.Get(1).(*models.PaymentIntent)
			intent.ID = intentID
			intent.Status = models.IntentStatusPending
		}).Return(nil)
	gw.On("CreateTransfer", ctx, "acct_tester", 58.0, "test-reward-"+session.ID.String(), mock.Anything).
		Return(&gateway.Transfer{ID: "tr_1", Amount: 58}, nil)
	ledger.On("SetIntentCalled", ctx, intentID, "tr_1").Return(nil)
	ledger.On("ApplyTestReward", ctx, repository.TestRewardParams{
		SessionID:  session.ID,
		CampaignID: campaign.ID,
		TesterID:   tester.ID,
		SponsorID:  campaign.SponsorID,
		Payout:     58,
		Commission: 7.12,
		ExternalID: "tr_1",
	}).Return(&models.Transaction{}, &models.Transaction{}, nil)
	ledger.On("SetIntentSettled", ctx, intentID).Return(nil)

	err := svc.ProcessTestCompletion(ctx, session, campaign, tester, 58, 7.12)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestSettlementService_ProcessTestCompletion_ReplaySkipsGateway(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	session := &models.TestSession{ID: uuid.New()}
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New()}
	tester := testerWithAccount()
	intentID := uuid.New()

	// Интент уже подтверждён шлюзом: повторный вызов доводит только журнал.
	ledger.On("GetOrCreateIntent", ctx, mock.AnythingOfType("*models.PaymentIntent")).
		Run(func(args mock.Arguments) {
			intent := args.Get(1).(*models.PaymentIntent)
			intent.ID = intentID
			intent.Status = models.IntentStatusCalled
			externalID := "tr_prev"
			intent.ExternalID = &externalID
		}).Return(nil)
	ledger.On("ApplyTestReward", ctx, mock.MatchedBy(func(p repository.TestRewardParams) bool {
		return p.ExternalID == "tr_prev"
	})).Return(&models.Transaction{}, &models.Transaction{}, nil)
	ledger.On("SetIntentSettled", ctx, intentID).Return(nil)

	err := svc.ProcessTestCompletion(ctx, session, campaign, tester, 58, 7.12)

	assert.NoError(t, err)
	gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ledger.AssertExpectations(t)
}

func TestSettlementService_ProcessTestCompletion_WalletOnlyTransfer(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	session := &models.TestSession{ID: uuid.New()}
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New()}
	// Тестер без подключённого аккаунта шлюза получает внутреннее зачисление.
	tester := &models.Profile{ID: uuid.New(), Role: models.RoleTester}
	intentID := uuid.New()
	walletExternalID := "wallet-test-reward-" + session.ID.String()

	ledger.On("GetOrCreateIntent", ctx, mock.AnythingOfType("*models.PaymentIntent")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.PaymentIntent).ID = intentID
		}).Return(nil)
	ledger.On("SetIntentCalled", ctx, intentID, walletExternalID).Return(nil)
	ledger.On("ApplyTestReward", ctx, mock.MatchedBy(func(p repository.TestRewardParams) bool {
		return p.ExternalID == walletExternalID
	})).Return(&models.Transaction{}, &models.Transaction{}, nil)
	ledger.On("SetIntentSettled", ctx, intentID).Return(nil)

	err := svc.ProcessTestCompletion(ctx, session, campaign, tester, 58, 7.12)

	assert.NoError(t, err)
	gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ledger.AssertExpectations(t)
}

func TestSettlementService_ProcessTestCompletion_GatewayFailure(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	session := &models.TestSession{ID: uuid.New()}
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New()}
	tester := testerWithAccount()
	intentID := uuid.New()

	ledger.On("GetOrCreateIntent", ctx, mock.AnythingOfType("*models.PaymentIntent")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.PaymentIntent).ID = intentID
		}).Return(nil)
	gw.On("CreateTransfer", ctx, "acct_tester", 58.0, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway unavailable"))
	ledger.On("SetIntentFailed", ctx, intentID, "gateway unavailable").Return(nil)

	err := svc.ProcessTestCompletion(ctx, session, campaign, tester, 58, 7.12)

	assert.Error(t, err)
	// Журнал не менялся: интент остаётся в outbox для фоновой сверки.
	ledger.AssertNotCalled(t, "ApplyTestReward", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "SetIntentSettled", mock.Anything, mock.Anything)
	ledger.AssertExpectations(t)
}

func TestSettlementService_ProcessCampaignCancellationRefund(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	paymentRef := "pi_campaign"
	campaign := &models.Campaign{
		ID:              uuid.New(),
		SponsorID:       uuid.New(),
		EscrowAmount:    1000,
		PaymentIntentID: &paymentRef,
	}
	tester := testerWithAccount()
	impact := CampaignCancellationImpact{
		TotalEscrow:           1000,
		CancellationFee:       100,
		RefundToSponsor:       900,
		CompensationPerTester: 5,
		AffectedTesters:       1,
	}

	refundIntentID := uuid.New()
	compIntentID := uuid.New()

	ledger.On("GetOrCreateIntent", ctx, mock.MatchedBy(func(i *models.PaymentIntent) bool {
		return i.Kind == models.IntentKindRefund
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.PaymentIntent).ID = refundIntentID
	}).Return(nil)
	gw.On("CreateRefund", ctx, paymentRef, 900.0, models.IntentPurposeCampaignRefund, "campaign-refund-"+campaign.ID.String(), mock.Anything).
		Return(&gateway.Refund{ID: "re_1", Amount: 900}, nil)
	ledger.On("SetIntentCalled", ctx, refundIntentID, "re_1").Return(nil)
	ledger.On("ApplySponsorCredit", ctx, mock.MatchedBy(func(p repository.SponsorCreditParams) bool {
		return p.Amount == 900 && p.Fee == 100 && p.ExternalID == "re_1"
	})).Return(&models.Transaction{}, nil)
	ledger.On("SetIntentSettled", ctx, refundIntentID).Return(nil)

	compKey := fmt.Sprintf("tester-comp-%s-%s", campaign.ID, tester.ID)
	ledger.On("GetOrCreateIntent", ctx, mock.MatchedBy(func(i *models.PaymentIntent) bool {
		return i.Kind == models.IntentKindTransfer && i.IdempotencyKey == compKey
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.PaymentIntent).ID = compIntentID
	}).Return(nil)
	gw.On("CreateTransfer", ctx, "acct_tester", 5.0, compKey, mock.Anything).
		Return(&gateway.Transfer{ID: "tr_comp"}, nil)
	ledger.On("SetIntentCalled", ctx, compIntentID, "tr_comp").Return(nil)
	ledger.On("ApplyTesterCredit", ctx, mock.MatchedBy(func(p repository.TesterCreditParams) bool {
		return p.Amount == 5 && p.Type == models.TransactionTypeCancellationCompensation
	})).Return(&models.Transaction{}, nil)
	ledger.On("SetIntentSettled", ctx, compIntentID).Return(nil)

	err := svc.ProcessCampaignCancellationRefund(ctx, campaign, impact, []models.Profile{*tester})

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestSettlementService_ProcessCampaignCancellationRefund_NoPaymentRef(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	// Кампания без платёжной ссылки: возврат невозможен.
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New(), EscrowAmount: 500}
	impact := CampaignCancellationImpact{RefundToSponsor: 500}

	ledger.On("GetOrCreateIntent", ctx, mock.Anything).Return(nil)

	err := svc.ProcessCampaignCancellationRefund(ctx, campaign, impact, nil)

	assert.Error(t, err)
	gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_ProcessDisputeResolution_NoRefund(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	resolution := models.ResolutionNoRefund
	dispute := &models.Dispute{ID: uuid.New(), ResolutionType: &resolution}
	session := &models.TestSession{ID: uuid.New()}
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New()}
	tester := testerWithAccount()

	err := svc.ProcessDisputeResolution(ctx, dispute, session, campaign, tester, 115)

	assert.NoError(t, err)
	// Решение без возврата — только смена статуса: ни журнал, ни шлюз не трогаем.
	ledger.AssertNotCalled(t, "ApplySponsorCredit", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "ApplyTesterCredit", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "GetOrCreateIntent", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlementService_ProcessDisputeResolution_PartialRefund(t *testing.T) {
	ledger := new(mockLedger)
	gw := new(mockGateway)
	svc := NewSettlementService(ledger, gw, testLogger())
	ctx := context.Background()

	resolution := models.ResolutionPartialRefund
	refund := 40.0
	paymentRef := "pi_campaign"
	dispute := &models.Dispute{ID: uuid.New(), ResolutionType: &resolution, RefundAmount: &refund}
	session := &models.TestSession{ID: uuid.New()}
	campaign := &models.Campaign{ID: uuid.New(), SponsorID: uuid.New(), PaymentIntentID: &paymentRef}
	tester := testerWithAccount()

	ledger.On("GetOrCreateIntent", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.PaymentIntent).ID = uuid.New()
		}).Return(nil)
	gw.On("CreateTransfer", ctx, "acct_tester", 40.0, "dispute-tester-"+dispute.ID.String(), mock.Anything).
		Return(&gateway.Transfer{ID: "tr_d"}, nil)
	gw.On("CreateRefund", ctx, paymentRef, 60.0, models.IntentPurposeDisputeResolution, "dispute-sponsor-"+dispute.ID.String(), mock.Anything).
		Return(&gateway.Refund{ID: "re_d"}, nil)
	ledger.On("SetIntentCalled", ctx, mock.Anything, mock.Anything).Return(nil)
	ledger.On("ApplyTesterCredit", ctx, mock.MatchedBy(func(p repository.TesterCreditParams) bool {
		return p.Amount == 40
	})).Return(&models.Transaction{}, nil)
	ledger.On("ApplySponsorCredit", ctx, mock.MatchedBy(func(p repository.SponsorCreditParams) bool {
		return p.Amount == 60
	})).Return(&models.Transaction{}, nil)
	ledger.On("SetIntentSettled", ctx, mock.Anything).Return(nil)

	err := svc.ProcessDisputeResolution(ctx, dispute, session, campaign, tester, 100)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
	gw.AssertExpectations(t)
}
