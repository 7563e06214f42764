package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
	"github.com/ignatzorin/producttest-backend/internal/repository/common"
)

// CancellationCampaignRepository — операции над кампаниями при отмене.
type CancellationCampaignRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	MarkCancelled(ctx context.Context, campaignID uuid.UUID) error
}

// CancellationSessionRepository — массовые операции над сессиями кампании.
type CancellationSessionRepository interface {
	ListAcceptedTesterIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error)
	CancelAllNonTerminal(ctx context.Context, campaignID uuid.UUID, reason string) (int, error)
}

// CampaignSettlement — возврат спонсору и компенсации при отмене кампании.
type CampaignSettlement interface {
	ProcessCampaignCancellationRefund(ctx context.Context, campaign *models.Campaign, impact CampaignCancellationImpact, affectedTesters []models.Profile) error
}

// CancellationService считает и проводит отмену кампании: сначала деньги,
// потом состояние. Неудачный возврат оставляет кампанию активной.
type CancellationService struct {
	campaigns  CancellationCampaignRepository
	sessions   CancellationSessionRepository
	profiles   ProfileRepository
	rules      *RulesService
	settlement CampaignSettlement
	notifier   Notifier
	log        *logrus.Logger
}

func NewCancellationService(
	campaigns CancellationCampaignRepository,
	sessions CancellationSessionRepository,
	profiles ProfileRepository,
	rules *RulesService,
	settlement CampaignSettlement,
	notifier Notifier,
	log *logrus.Logger,
) *CancellationService {
	return &CancellationService{
		campaigns:  campaigns,
		sessions:   sessions,
		profiles:   profiles,
		rules:      rules,
		settlement: settlement,
		notifier:   notifier,
		log:        log,
	}
}

// PreviewImpact считает финансовые последствия отмены без каких-либо
// изменений: спонсор видит цену решения до подтверждения.
func (s *CancellationService) PreviewImpact(ctx context.Context, actor models.Actor, campaignID uuid.UUID) (*CampaignCancellationImpact, error) {
	campaign, err := s.getOwnedCampaign(ctx, actor, campaignID)
	if err != nil {
		return nil, err
	}

	rules, err := s.rules.Current(ctx)
	if err != nil {
		return nil, err
	}

	testerIDs, err := s.sessions.ListAcceptedTesterIDs(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	impact := CampaignCancellationImpactFor(campaign, rules, len(testerIDs), time.Now())
	return &impact, nil
}

// CancelCampaign отменяет кампанию спонсором: возврат эскроу и компенсации
// проводятся до смены статуса, затем кампания помечается CANCELLED и все
// незавершённые сессии отменяются.
func (s *CancellationService) CancelCampaign(ctx context.Context, actor models.Actor, campaignID uuid.UUID, reason string) (*CampaignCancellationImpact, error) {
	campaign, err := s.getOwnedCampaign(ctx, actor, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "отменить можно только активную кампанию")
	}

	rules, err := s.rules.Current(ctx)
	if err != nil {
		return nil, err
	}

	testerIDs, err := s.sessions.ListAcceptedTesterIDs(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	testers := make([]models.Profile, 0, len(testerIDs))
	for _, id := range testerIDs {
		profile, err := s.profiles.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		testers = append(testers, *profile)
	}

	impact := CampaignCancellationImpactFor(campaign, rules, len(testers), time.Now())

	if err := s.settlement.ProcessCampaignCancellationRefund(ctx, campaign, impact, testers); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "возврат не прошёл, кампания не отменена")
	}

	if err := s.finalizeCancellation(ctx, campaign, reason, testerIDs); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"campaign_id":      campaign.ID,
		"refund":           impact.RefundToSponsor,
		"cancellation_fee": impact.CancellationFee,
		"affected_testers": impact.AffectedTesters,
	}).Info("Кампания отменена спонсором")

	return &impact, nil
}

// AdminCancelCampaign — принудительная отмена арбитром без каких-либо
// денежных движений.
func (s *CancellationService) AdminCancelCampaign(ctx context.Context, actor models.Actor, campaignID uuid.UUID, reason string) error {
	if !actor.IsArbiter() {
		return apperror.New(apperror.ErrCodeForbidden, "принудительная отмена доступна только арбитру")
	}

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return apperror.ErrCampaignNotFound
		}
		return err
	}
	if campaign.Status != models.CampaignStatusActive {
		return apperror.New(apperror.ErrCodeInvalidState, "отменить можно только активную кампанию")
	}

	testerIDs, err := s.sessions.ListAcceptedTesterIDs(ctx, campaignID)
	if err != nil {
		return err
	}

	if err := s.finalizeCancellation(ctx, campaign, reason, testerIDs); err != nil {
		return err
	}

	s.log.WithField("campaign_id", campaign.ID).Warn("Кампания отменена арбитром")
	return nil
}

func (s *CancellationService) finalizeCancellation(ctx context.Context, campaign *models.Campaign, reason string, testerIDs []uuid.UUID) error {
	if err := s.campaigns.MarkCancelled(ctx, campaign.ID); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return apperror.New(apperror.ErrCodeInvalidState, "кампания уже отменена")
		}
		return err
	}

	cancelled, err := s.sessions.CancelAllNonTerminal(ctx, campaign.ID, reason)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"sessions":    cancelled,
	}).Info("Сессии кампании отменены")

	for _, testerID := range testerIDs {
		s.notifier.Notify(testerID, models.EventCampaignCancelled, map[string]interface{}{
			"campaign_id": campaign.ID,
			"reason":      reason,
		})
	}

	return nil
}

func (s *CancellationService) getOwnedCampaign(ctx context.Context, actor models.Actor, campaignID uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrCampaignNotFound
		}
		return nil, err
	}
	if !actor.IsArbiter() && campaign.SponsorID != actor.ID {
		return nil, apperror.ErrForbidden
	}
	return campaign, nil
}
