package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
	"github.com/ignatzorin/producttest-backend/internal/repository/common"
)

// DisputeRepository — хранилище споров.
type DisputeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Dispute, error)
	Create(ctx context.Context, dispute *models.Dispute) error
	Resolve(ctx context.Context, dispute *models.Dispute) error
	ListByProfile(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	ListOpen(ctx context.Context, limit, offset int) ([]models.Dispute, error)
}

// DisputeSettlement — денежные движения по решению спора.
type DisputeSettlement interface {
	ProcessDisputeResolution(ctx context.Context, dispute *models.Dispute, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, sessionAmount float64) error
}

// DisputeService открывает и разрешает споры по тестовым сессиям.
// Любая из сторон может открыть спор, решает только арбитр; возврат
// по решению проводится до закрытия спора, неудача блокирует решение.
type DisputeService struct {
	disputes   DisputeRepository
	sessions   SessionRepository
	campaigns  CampaignRepository
	profiles   ProfileRepository
	settlement DisputeSettlement
	notifier   Notifier
	log        *logrus.Logger
}

func NewDisputeService(
	disputes DisputeRepository,
	sessions SessionRepository,
	campaigns CampaignRepository,
	profiles ProfileRepository,
	settlement DisputeSettlement,
	notifier Notifier,
	log *logrus.Logger,
) *DisputeService {
	return &DisputeService{
		disputes:   disputes,
		sessions:   sessions,
		campaigns:  campaigns,
		profiles:   profiles,
		settlement: settlement,
		notifier:   notifier,
		log:        log,
	}
}

// CreateDispute открывает спор по сессии. Доступно тестеру сессии и
// спонсору кампании из статусов SUBMITTED, PURCHASE_VALIDATED, COMPLETED.
func (s *DisputeService) CreateDispute(ctx context.Context, actor models.Actor, sessionID uuid.UUID, reason string) (*models.Dispute, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrSessionNotFound
		}
		return nil, err
	}

	campaign, err := s.campaigns.GetByID(ctx, session.CampaignID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrCampaignNotFound
		}
		return nil, err
	}

	if session.TesterID != actor.ID && campaign.SponsorID != actor.ID {
		return nil, apperror.ErrForbidden
	}

	disputable := false
	for _, status := range models.DisputableSessionStatuses {
		if session.Status == status {
			disputable = true
			break
		}
	}
	if !disputable {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState,
			"спор нельзя открыть из статуса %q", session.Status)
	}

	if existing, err := s.disputes.GetOpenBySessionID(ctx, sessionID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperror.New(apperror.ErrCodeConflict, "по сессии уже открыт спор")
	}

	dispute := &models.Dispute{
		SessionID:   session.ID,
		CampaignID:  campaign.ID,
		InitiatorID: actor.ID,
		Reason:      reason,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, err
	}

	prev := session.Status
	now := dispute.CreatedAt
	session.Status = models.SessionStatusDisputed
	session.DisputedAt = &now

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "статус сессии изменился, повторите запрос")
		}
		return nil, err
	}

	counterparty := session.TesterID
	if actor.ID == session.TesterID {
		counterparty = campaign.SponsorID
	}
	s.notifier.Notify(counterparty, models.EventDisputeOpened, map[string]interface{}{
		"dispute_id": dispute.ID,
		"session_id": session.ID,
		"reason":     reason,
	})

	return dispute, nil
}

// ResolveDisputeInput — решение арбитра по спору.
type ResolveDisputeInput struct {
	ResolutionType string   `json:"resolution_type" binding:"required"`
	Note           *string  `json:"note"`
	RefundAmount   *float64 `json:"refund_amount"`
}

// ResolveDispute выносит решение арбитра. Деньги двигаются до закрытия
// спора; после успешного проведения спор закрывается, сессия всегда
// заканчивает в COMPLETED.
func (s *DisputeService) ResolveDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID, input ResolveDisputeInput) (*models.Dispute, error) {
	if !actor.IsArbiter() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "разрешать споры может только арбитр")
	}

	if _, ok := models.ValidResolutionTypes[input.ResolutionType]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип решения спора")
	}
	if input.ResolutionType == models.ResolutionPartialRefund &&
		(input.RefundAmount == nil || *input.RefundAmount <= 0) {
		return nil, apperror.New(apperror.ErrCodeValidation, "для частичного возврата укажите сумму")
	}

	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	if dispute.Status != models.DisputeStatusOpen {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
	}

	session, err := s.sessions.GetByID(ctx, dispute.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusDisputed {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState,
			"сессия спора в статусе %q, ожидается %q", session.Status, models.SessionStatusDisputed)
	}

	campaign, err := s.campaigns.GetByID(ctx, session.CampaignID)
	if err != nil {
		return nil, err
	}
	tester, err := s.profiles.GetByID(ctx, session.TesterID)
	if err != nil {
		return nil, err
	}

	dispute.ResolutionType = &input.ResolutionType
	dispute.ResolutionNote = input.Note
	dispute.RefundAmount = input.RefundAmount
	dispute.ResolvedBy = &actor.ID

	sessionAmount := s.sessionAmount(session, campaign)
	if input.ResolutionType == models.ResolutionRefundSponsor && input.RefundAmount != nil {
		sessionAmount = *input.RefundAmount
	}

	if err := s.settlement.ProcessDisputeResolution(ctx, dispute, session, campaign, tester, sessionAmount); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "возврат по спору не прошёл, решение не зафиксировано")
	}

	if err := s.disputes.Resolve(ctx, dispute); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже закрыт")
		}
		return nil, err
	}

	prev := session.Status
	session.Status = models.SessionStatusCompleted
	if session.CompletedAt == nil {
		now := *dispute.ResolvedAt
		session.CompletedAt = &now
	}
	if err := s.sessions.Update(ctx, session, prev); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "статус сессии изменился, повторите запрос")
		}
		return nil, err
	}

	payload := map[string]interface{}{
		"dispute_id":      dispute.ID,
		"session_id":      session.ID,
		"resolution_type": input.ResolutionType,
	}
	s.notifier.Notify(session.TesterID, models.EventDisputeResolved, payload)
	s.notifier.Notify(campaign.SponsorID, models.EventDisputeResolved, payload)

	s.log.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"resolution": input.ResolutionType,
		"amount":     sessionAmount,
	}).Info("Спор разрешён")

	return dispute, nil
}

// GetDispute возвращает спор с проверкой видимости.
func (s *DisputeService) GetDispute(ctx context.Context, actor models.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	if actor.IsArbiter() || dispute.InitiatorID == actor.ID {
		return dispute, nil
	}

	session, err := s.sessions.GetByID(ctx, dispute.SessionID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaigns.GetByID(ctx, session.CampaignID)
	if err != nil {
		return nil, err
	}
	if session.TesterID != actor.ID && campaign.SponsorID != actor.ID {
		return nil, apperror.ErrForbidden
	}

	return dispute, nil
}

// GetSessionDispute возвращает открытый спор сессии.
func (s *DisputeService) GetSessionDispute(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.disputes.GetOpenBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, apperror.ErrDisputeNotFound
	}
	return s.GetDispute(ctx, actor, dispute.ID)
}

// ListDisputes возвращает споры: арбитру — открытые по всей платформе,
// остальным — их собственные.
func (s *DisputeService) ListDisputes(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Dispute, error) {
	if actor.IsArbiter() {
		return s.disputes.ListOpen(ctx, limit, offset)
	}
	return s.disputes.ListByProfile(ctx, actor.ID, limit, offset)
}

// sessionAmount — полная стоимость сессии для возвратов по спору:
// подтверждённая награда либо цена товара с доставкой и бонусом.
func (s *DisputeService) sessionAmount(session *models.TestSession, campaign *models.Campaign) float64 {
	if session.RewardAmount != nil {
		return *session.RewardAmount
	}
	return RewardForSession(
		derefFloat(session.SubmittedProductPrice),
		derefFloat(session.SubmittedShippingCost),
		campaign.Bonus,
	)
}
