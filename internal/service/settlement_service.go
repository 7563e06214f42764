package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/producttest-backend/internal/gateway"
	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
	"github.com/ignatzorin/producttest-backend/internal/repository"
)

// PaymentGateway — операции платёжного шлюза, нужные движку расчётов.
type PaymentGateway interface {
	CreateTransfer(ctx context.Context, destination string, amount float64, idempotencyKey string, metadata map[string]string) (*gateway.Transfer, error)
	CreateRefund(ctx context.Context, paymentRef string, amount float64, reason, idempotencyKey string, metadata map[string]string) (*gateway.Refund, error)
	RetrieveBalance(ctx context.Context) (*gateway.Balance, error)
}

// SettlementLedger — журнал и outbox движка расчётов.
type SettlementLedger interface {
	GetOrCreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	SetIntentCalled(ctx context.Context, intentID uuid.UUID, externalID string) error
	SetIntentSettled(ctx context.Context, intentID uuid.UUID) error
	SetIntentFailed(ctx context.Context, intentID uuid.UUID, lastError string) error
	ListUnsettledIntents(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentIntent, error)

	ApplyTestReward(ctx context.Context, p repository.TestRewardParams) (*models.Transaction, *models.Transaction, error)
	ApplyTesterCredit(ctx context.Context, p repository.TesterCreditParams) (*models.Transaction, error)
	ApplySponsorCredit(ctx context.Context, p repository.SponsorCreditParams) (*models.Transaction, error)

	GetPlatformLedger(ctx context.Context) (*models.PlatformLedger, error)
	GetWallet(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// SettlementService проводит деньги через платёжный шлюз и журнал по
// схеме outbox: интент записывается до вызова шлюза, журнал меняется
// только после подтверждённого ответа, интент закрывается последним.
// Каждая операция идемпотентна от начала до конца и переживает падение
// процесса на любом шаге: повторный вызов доводит её до конца.
type SettlementService struct {
	ledger  SettlementLedger
	gateway PaymentGateway
	log     *logrus.Logger
}

func NewSettlementService(ledger SettlementLedger, gw PaymentGateway, log *logrus.Logger) *SettlementService {
	return &SettlementService{ledger: ledger, gateway: gw, log: log}
}

// executeIntent регистрирует интент и доводит его до подтверждённого
// ответа шлюза. Возвращает внешний идентификатор операции.
// Перевод без подключённого аккаунта остаётся внутренним: деньги
// зачисляются на кошелёк без вызова шлюза.
func (s *SettlementService) executeIntent(ctx context.Context, intent *models.PaymentIntent) (string, error) {
	if err := s.ledger.GetOrCreateIntent(ctx, intent); err != nil {
		return "", fmt.Errorf("settlement: register intent %w", err)
	}

	// Шлюз уже подтвердил операцию — не вызываем повторно.
	if intent.ExternalID != nil {
		return *intent.ExternalID, nil
	}

	var externalID string
	switch intent.Kind {
	case models.IntentKindTransfer:
		if intent.Destination == nil {
			externalID = "wallet-" + intent.IdempotencyKey
		} else {
			transfer, err := s.gateway.CreateTransfer(ctx, *intent.Destination, intent.Amount, intent.IdempotencyKey, map[string]string{
				"purpose": intent.Purpose,
			})
			if err != nil {
				s.failIntent(ctx, intent.ID, err)
				return "", err
			}
			externalID = transfer.ID
		}
	case models.IntentKindRefund:
		if intent.PaymentRef == nil {
			return "", apperror.New(apperror.ErrCodeGateway, "возврат невозможен: исходный платёж не найден")
		}
		refund, err := s.gateway.CreateRefund(ctx, *intent.PaymentRef, intent.Amount, intent.Purpose, intent.IdempotencyKey, map[string]string{
			"purpose": intent.Purpose,
		})
		if err != nil {
			s.failIntent(ctx, intent.ID, err)
			return "", err
		}
		externalID = refund.ID
	default:
		return "", fmt.Errorf("settlement: unknown intent kind %q", intent.Kind)
	}

	if err := s.ledger.SetIntentCalled(ctx, intent.ID, externalID); err != nil {
		return "", fmt.Errorf("settlement: mark intent called %w", err)
	}

	return externalID, nil
}

func (s *SettlementService) failIntent(ctx context.Context, intentID uuid.UUID, cause error) {
	if err := s.ledger.SetIntentFailed(ctx, intentID, cause.Error()); err != nil {
		s.log.WithError(err).WithField("intent_id", intentID).Error("Не удалось сохранить ошибку интента")
	}
}

// ProcessTestCompletion выплачивает награду тестеру и фиксирует комиссию
// платформы за завершённый тест.
func (s *SettlementService) ProcessTestCompletion(ctx context.Context, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, payout, commission float64) error {
	intent := &models.PaymentIntent{
		Kind:           models.IntentKindTransfer,
		Purpose:        models.IntentPurposeTestReward,
		SessionID:      &session.ID,
		CampaignID:     &campaign.ID,
		ProfileID:      &tester.ID,
		Destination:    tester.GatewayAccountID,
		Amount:         payout,
		IdempotencyKey: fmt.Sprintf("test-reward-%s", session.ID),
	}

	externalID, err := s.executeIntent(ctx, intent)
	if err != nil {
		return err
	}

	if _, _, err := s.ledger.ApplyTestReward(ctx, repository.TestRewardParams{
		SessionID:  session.ID,
		CampaignID: campaign.ID,
		TesterID:   tester.ID,
		SponsorID:  campaign.SponsorID,
		Payout:     payout,
		Commission: commission,
		ExternalID: externalID,
	}); err != nil {
		return fmt.Errorf("settlement: apply test reward %w", err)
	}

	if err := s.ledger.SetIntentSettled(ctx, intent.ID); err != nil {
		return fmt.Errorf("settlement: settle intent %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"payout":     payout,
		"commission": commission,
	}).Info("Награда за тест выплачена")

	return nil
}

// ProcessSessionCancellationRefund возвращает тестеру потраченное на
// покупку вместе с бонусом; платформа удерживает часть обычной комиссии.
func (s *SettlementService) ProcessSessionCancellationRefund(ctx context.Context, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, impact SessionCancellationImpact) error {
	intent := &models.PaymentIntent{
		Kind:           models.IntentKindTransfer,
		Purpose:        models.IntentPurposeCancellationRefund,
		SessionID:      &session.ID,
		CampaignID:     &campaign.ID,
		ProfileID:      &tester.ID,
		Destination:    tester.GatewayAccountID,
		Amount:         impact.RefundAmount,
		IdempotencyKey: fmt.Sprintf("cancel-refund-%s", session.ID),
	}

	externalID, err := s.executeIntent(ctx, intent)
	if err != nil {
		return err
	}

	if _, err := s.ledger.ApplyTesterCredit(ctx, repository.TesterCreditParams{
		SessionID:   &session.ID,
		CampaignID:  campaign.ID,
		TesterID:    tester.ID,
		SponsorID:   campaign.SponsorID,
		Amount:      impact.RefundAmount,
		Commission:  impact.Commission,
		ExternalID:  externalID,
		Type:        models.TransactionTypeCancellationRefund,
		Description: "Возврат при отмене теста",
	}); err != nil {
		return fmt.Errorf("settlement: apply cancellation refund %w", err)
	}

	if err := s.ledger.SetIntentSettled(ctx, intent.ID); err != nil {
		return fmt.Errorf("settlement: settle intent %w", err)
	}

	return nil
}

// ProcessCampaignCancellationRefund возвращает спонсору остаток эскроу
// кампании и компенсирует каждого затронутого тестера.
func (s *SettlementService) ProcessCampaignCancellationRefund(ctx context.Context, campaign *models.Campaign, impact CampaignCancellationImpact, affectedTesters []models.Profile) error {
	if impact.RefundToSponsor > 0 {
		intent := &models.PaymentIntent{
			Kind:           models.IntentKindRefund,
			Purpose:        models.IntentPurposeCampaignRefund,
			CampaignID:     &campaign.ID,
			ProfileID:      &campaign.SponsorID,
			PaymentRef:     campaign.PaymentIntentID,
			Amount:         impact.RefundToSponsor,
			IdempotencyKey: fmt.Sprintf("campaign-refund-%s", campaign.ID),
		}

		externalID, err := s.executeIntent(ctx, intent)
		if err != nil {
			return err
		}

		if _, err := s.ledger.ApplySponsorCredit(ctx, repository.SponsorCreditParams{
			CampaignID:  campaign.ID,
			SponsorID:   campaign.SponsorID,
			Amount:      impact.RefundToSponsor,
			Fee:         impact.CancellationFee,
			ExternalID:  externalID,
			Type:        models.TransactionTypeSponsorRefund,
			Description: "Возврат эскроу при отмене кампании",
		}); err != nil {
			return fmt.Errorf("settlement: apply sponsor refund %w", err)
		}

		if err := s.ledger.SetIntentSettled(ctx, intent.ID); err != nil {
			return fmt.Errorf("settlement: settle intent %w", err)
		}
	}

	for i := range affectedTesters {
		tester := &affectedTesters[i]
		if err := s.compensateTester(ctx, campaign, tester, impact.CompensationPerTester); err != nil {
			return err
		}
	}

	return nil
}

func (s *SettlementService) compensateTester(ctx context.Context, campaign *models.Campaign, tester *models.Profile, amount float64) error {
	if amount <= 0 {
		return nil
	}

	intent := &models.PaymentIntent{
		Kind:           models.IntentKindTransfer,
		Purpose:        models.IntentPurposeTesterCompensation,
		CampaignID:     &campaign.ID,
		ProfileID:      &tester.ID,
		Destination:    tester.GatewayAccountID,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("tester-comp-%s-%s", campaign.ID, tester.ID),
	}

	externalID, err := s.executeIntent(ctx, intent)
	if err != nil {
		return err
	}

	if _, err := s.ledger.ApplyTesterCredit(ctx, repository.TesterCreditParams{
		CampaignID:  campaign.ID,
		TesterID:    tester.ID,
		SponsorID:   campaign.SponsorID,
		Amount:      amount,
		ExternalID:  externalID,
		Type:        models.TransactionTypeCancellationCompensation,
		Description: "Компенсация за отмену кампании",
	}); err != nil {
		return fmt.Errorf("settlement: apply tester compensation %w", err)
	}

	if err := s.ledger.SetIntentSettled(ctx, intent.ID); err != nil {
		return fmt.Errorf("settlement: settle intent %w", err)
	}

	return nil
}

// ProcessDisputeResolution проводит деньги по решению арбитра.
// refund_tester и partial_refund выплачивают тестеру, refund_sponsor и
// остаток частичного возврата уходят спонсору, no_refund оставляет
// средства сессии платформе.
func (s *SettlementService) ProcessDisputeResolution(ctx context.Context, dispute *models.Dispute, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, sessionAmount float64) error {
	switch dispute.Resolution() {
	case models.ResolutionRefundTester:
		return s.disputeTesterPayout(ctx, dispute, session, campaign, tester, sessionAmount)

	case models.ResolutionRefundSponsor:
		return s.disputeSponsorRefund(ctx, dispute, session, campaign, sessionAmount)

	case models.ResolutionPartialRefund:
		testerShare := round2(dispute.RefundAmountValue())
		sponsorShare := round2(sessionAmount - testerShare)
		if testerShare > 0 {
			if err := s.disputeTesterPayout(ctx, dispute, session, campaign, tester, testerShare); err != nil {
				return err
			}
		}
		if sponsorShare > 0 {
			return s.disputeSponsorRefund(ctx, dispute, session, campaign, sponsorShare)
		}
		return nil

	case models.ResolutionNoRefund:
		// Только смена статуса: деньги не двигаются, журнал и шлюз не трогаем.
		return nil

	default:
		return apperror.New(apperror.ErrCodeValidation, "неизвестный тип решения спора")
	}
}

func (s *SettlementService) disputeTesterPayout(ctx context.Context, dispute *models.Dispute, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, amount float64) error {
	intent := &models.PaymentIntent{
		Kind:           models.IntentKindTransfer,
		Purpose:        models.IntentPurposeDisputeResolution,
		SessionID:      &session.ID,
		CampaignID:     &campaign.ID,
		ProfileID:      &tester.ID,
		Destination:    tester.GatewayAccountID,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("dispute-tester-%s", dispute.ID),
	}

	externalID, err := s.executeIntent(ctx, intent)
	if err != nil {
		return err
	}

	if _, err := s.ledger.ApplyTesterCredit(ctx, repository.TesterCreditParams{
		SessionID:   &session.ID,
		CampaignID:  campaign.ID,
		TesterID:    tester.ID,
		SponsorID:   campaign.SponsorID,
		Amount:      amount,
		ExternalID:  externalID,
		Type:        models.TransactionTypeDisputeResolution,
		Description: "Выплата по решению спора",
	}); err != nil {
		return fmt.Errorf("settlement: apply dispute payout %w", err)
	}

	return s.ledger.SetIntentSettled(ctx, intent.ID)
}

func (s *SettlementService) disputeSponsorRefund(ctx context.Context, dispute *models.Dispute, session *models.TestSession, campaign *models.Campaign, amount float64) error {
	intent := &models.PaymentIntent{
		Kind:           models.IntentKindRefund,
		Purpose:        models.IntentPurposeDisputeResolution,
		SessionID:      &session.ID,
		CampaignID:     &campaign.ID,
		ProfileID:      &campaign.SponsorID,
		PaymentRef:     campaign.PaymentIntentID,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("dispute-sponsor-%s", dispute.ID),
	}

	externalID, err := s.executeIntent(ctx, intent)
	if err != nil {
		return err
	}

	if _, err := s.ledger.ApplySponsorCredit(ctx, repository.SponsorCreditParams{
		SessionID:   &session.ID,
		CampaignID:  campaign.ID,
		SponsorID:   campaign.SponsorID,
		Amount:      amount,
		ExternalID:  externalID,
		Type:        models.TransactionTypeDisputeResolution,
		Description: "Возврат спонсору по решению спора",
	}); err != nil {
		return fmt.Errorf("settlement: apply dispute refund %w", err)
	}

	return s.ledger.SetIntentSettled(ctx, intent.ID)
}

// PlatformBalance — сводка журнала платформы и баланса шлюза.
type PlatformBalance struct {
	Ledger  *models.PlatformLedger `json:"ledger"`
	Gateway *gateway.Balance       `json:"gateway,omitempty"`
}

// GetPlatformBalance возвращает журнал платформы вместе с live-балансом
// шлюза. Недоступность шлюза не ломает ответ.
func (s *SettlementService) GetPlatformBalance(ctx context.Context) (*PlatformBalance, error) {
	ledger, err := s.ledger.GetPlatformLedger(ctx)
	if err != nil {
		return nil, err
	}

	balance := &PlatformBalance{Ledger: ledger}

	gwBalance, err := s.gateway.RetrieveBalance(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Шлюз недоступен, отдаём только журнал")
	} else {
		balance.Gateway = gwBalance
	}

	return balance, nil
}
