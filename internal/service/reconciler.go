package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
)

// Поднимаем интенты, зависшие дольше этого срока, пачками.
const (
	reconcileLag       = 5 * time.Minute
	reconcileBatchSize = 50
)

// Reconciler — фоновая сверка незакрытых платёжных интентов.
// Каждая операция движка расчётов идемпотентна от начала до конца,
// поэтому сверка просто повторяет её с теми же ключами: шлюз
// дедуплицирует по Idempotency-Key, журнал — по external_id.
type Reconciler struct {
	ledger     SettlementLedger
	settlement *SettlementService
	sessions   SessionRepository
	campaigns  CampaignRepository
	profiles   ProfileRepository
	rules      *RulesService
	interval   time.Duration
	log        *logrus.Logger
}

func NewReconciler(
	ledger SettlementLedger,
	settlement *SettlementService,
	sessions SessionRepository,
	campaigns CampaignRepository,
	profiles ProfileRepository,
	rules *RulesService,
	interval time.Duration,
	log *logrus.Logger,
) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		settlement: settlement,
		sessions:   sessions,
		campaigns:  campaigns,
		profiles:   profiles,
		rules:      rules,
		interval:   interval,
		log:        log,
	}
}

// Run крутит цикл сверки до отмены контекста.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval).Info("Сверка выплат запущена")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Сверка выплат остановлена")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	cutoff := time.Now().Add(-reconcileLag)
	intents, err := r.ledger.ListUnsettledIntents(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		r.log.WithError(err).Error("Сверка: не удалось получить незакрытые интенты")
		return
	}

	for i := range intents {
		intent := &intents[i]
		if err := r.recoverIntent(ctx, intent); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"intent_id": intent.ID,
				"purpose":   intent.Purpose,
			}).Warn("Сверка: интент не доведён, попробуем позже")
		}
	}
}

// recoverIntent повторяет исходную операцию расчётов для зависшего интента.
// Интенты споров пропускаются: решение по ним повторяет арбитр.
func (r *Reconciler) recoverIntent(ctx context.Context, intent *models.PaymentIntent) error {
	switch intent.Purpose {
	case models.IntentPurposeTestReward:
		return r.recoverTestReward(ctx, intent)
	case models.IntentPurposeCancellationRefund:
		return r.recoverCancellationRefund(ctx, intent)
	case models.IntentPurposeCampaignRefund:
		return r.recoverCampaignRefund(ctx, intent)
	case models.IntentPurposeTesterCompensation:
		return r.recoverTesterCompensation(ctx, intent)
	case models.IntentPurposeDisputeResolution:
		return nil
	default:
		r.log.WithField("purpose", intent.Purpose).Warn("Сверка: неизвестное назначение интента")
		return nil
	}
}

func (r *Reconciler) recoverTestReward(ctx context.Context, intent *models.PaymentIntent) error {
	session, campaign, tester, err := r.loadContext(ctx, intent)
	if err != nil {
		return err
	}

	rules, err := r.rules.Current(ctx)
	if err != nil {
		return err
	}
	commission := CommissionForBase(intent.Amount, rules).PlatformCommission()

	return r.settlement.ProcessTestCompletion(ctx, session, campaign, tester, intent.Amount, commission)
}

func (r *Reconciler) recoverCancellationRefund(ctx context.Context, intent *models.PaymentIntent) error {
	session, campaign, tester, err := r.loadContext(ctx, intent)
	if err != nil {
		return err
	}

	rules, err := r.rules.Current(ctx)
	if err != nil {
		return err
	}
	impact := SessionCancellationImpactFor(
		derefFloat(session.SubmittedProductPrice),
		derefFloat(session.SubmittedShippingCost),
		campaign.Bonus,
		rules,
	)
	impact.RefundAmount = intent.Amount

	return r.settlement.ProcessSessionCancellationRefund(ctx, session, campaign, tester, impact)
}

func (r *Reconciler) recoverCampaignRefund(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.CampaignID == nil {
		return nil
	}
	campaign, err := r.campaigns.GetByID(ctx, *intent.CampaignID)
	if err != nil {
		return err
	}

	// Сбор восстанавливается из самого интента: возврат = эскроу - сбор.
	impact := CampaignCancellationImpact{
		TotalEscrow:     campaign.EscrowAmount,
		RefundToSponsor: intent.Amount,
		CancellationFee: round2(campaign.EscrowAmount - intent.Amount),
	}

	return r.settlement.ProcessCampaignCancellationRefund(ctx, campaign, impact, nil)
}

func (r *Reconciler) recoverTesterCompensation(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.CampaignID == nil || intent.ProfileID == nil {
		return nil
	}
	campaign, err := r.campaigns.GetByID(ctx, *intent.CampaignID)
	if err != nil {
		return err
	}
	tester, err := r.profiles.GetByID(ctx, *intent.ProfileID)
	if err != nil {
		return err
	}

	impact := CampaignCancellationImpact{CompensationPerTester: intent.Amount}
	return r.settlement.ProcessCampaignCancellationRefund(ctx, campaign, impact, []models.Profile{*tester})
}

func (r *Reconciler) loadContext(ctx context.Context, intent *models.PaymentIntent) (*models.TestSession, *models.Campaign, *models.Profile, error) {
	if intent.SessionID == nil {
		return nil, nil, nil, apperror.New(apperror.ErrCodeInternal, "интент без сессии")
	}
	session, err := r.sessions.GetByID(ctx, *intent.SessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	campaign, err := r.campaigns.GetByID(ctx, session.CampaignID)
	if err != nil {
		return nil, nil, nil, err
	}
	tester, err := r.profiles.GetByID(ctx, session.TesterID)
	if err != nil {
		return nil, nil, nil, err
	}
	return session, campaign, tester, nil
}
