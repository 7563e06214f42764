package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
	"github.com/ignatzorin/producttest-backend/internal/repository"
	"github.com/ignatzorin/producttest-backend/internal/repository/common"
)

// SessionRepository — хранилище тестовых сессий.
type SessionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.TestSession, error)
	CreateWithSlot(ctx context.Context, session *models.TestSession) error
	Update(ctx context.Context, session *models.TestSession, expected models.SessionStatus) error
	RejectWithSlotRestore(ctx context.Context, session *models.TestSession, expected models.SessionStatus) error
	CancelWithSlotRestore(ctx context.Context, session *models.TestSession, expected models.SessionStatus, bannedUntil *time.Time) error
	UpsertStepProgress(ctx context.Context, progress *models.StepProgress) error
	CountCompletedSteps(ctx context.Context, sessionID uuid.UUID) (int, error)
	CountScheduledOn(ctx context.Context, campaignID uuid.UUID, day time.Time) (int, error)
	ListByTester(ctx context.Context, testerID uuid.UUID, limit, offset int) ([]models.TestSession, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.TestSession, error)
}

// CampaignRepository — read-mostly доступ к кампаниям.
type CampaignRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListScheduleSlots(ctx context.Context, campaignID uuid.UUID) ([]models.ScheduleSlot, error)
}

// ProfileRepository — доступ к профилям участников.
type ProfileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	IncrementCompletedTests(ctx context.Context, id uuid.UUID) error
}

// Notifier доставляет уведомления о событиях жизненного цикла.
// Доставка асинхронна и никогда не блокирует переход.
type Notifier interface {
	Notify(profileID uuid.UUID, event string, payload map[string]interface{})
}

// SettlementCoordinator — денежные операции, вызываемые из переходов.
type SettlementCoordinator interface {
	ProcessTestCompletion(ctx context.Context, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, payout, commission float64) error
	ProcessSessionCancellationRefund(ctx context.Context, session *models.TestSession, campaign *models.Campaign, tester *models.Profile, impact SessionCancellationImpact) error
}

// Горизонт поиска окна в графике раздачи.
const scheduleHorizonDays = 60

// Лимит неудачных попыток проверки цены до ручного ввода названия товара.
const maxPriceAttempts = 2

// SessionService реализует машину состояний тестовой сессии.
// Каждая операция проверяет принадлежность актора и легальность перехода
// по таблице; условие на текущий статус перепроверяется в WHERE самого
// UPDATE, так что гонка двух конкурентных запросов закрывается на уровне БД.
type SessionService struct {
	sessions   SessionRepository
	campaigns  CampaignRepository
	profiles   ProfileRepository
	rules      *RulesService
	settlement SettlementCoordinator
	notifier   Notifier
	log        *logrus.Logger
}

func NewSessionService(
	sessions SessionRepository,
	campaigns CampaignRepository,
	profiles ProfileRepository,
	rules *RulesService,
	settlement SettlementCoordinator,
	notifier Notifier,
	log *logrus.Logger,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		campaigns:  campaigns,
		profiles:   profiles,
		rules:      rules,
		settlement: settlement,
		notifier:   notifier,
		log:        log,
	}
}

// ApplyInput — заявка тестера на участие в кампании.
type ApplyInput struct {
	CampaignID uuid.UUID `json:"campaign_id" binding:"required"`
	Message    *string   `json:"message"`
}

// Apply создаёт заявку тестера: проверяет бан, онбординг и порог KYC,
// подбирает дату покупки по графику и атомарно списывает слот кампании.
func (s *SessionService) Apply(ctx context.Context, actor models.Actor, input ApplyInput) (*models.TestSession, error) {
	if !actor.IsTester() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "подать заявку может только тестер")
	}

	campaign, err := s.getCampaign(ctx, input.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "кампания не принимает заявки")
	}
	if campaign.AvailableSlots <= 0 {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "в кампании нет свободных слотов")
	}

	profile, err := s.profiles.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, s.mapNotFound(err, apperror.ErrProfileNotFound)
	}

	now := time.Now()
	if profile.IsBanned(now) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "аккаунт временно заблокирован за отмены").
			WithDetails(map[string]interface{}{
				"reason":       "banned",
				"banned_until": profile.BannedUntil,
			})
	}

	if !campaign.SkipOnboardingCheck && !profile.OnboardingCompleted {
		return nil, apperror.New(apperror.ErrCodeForbidden, "требуется завершить онбординг в платёжном шлюзе").
			WithDetails(map[string]interface{}{
				"reason": "onboarding_required",
			})
	}

	rules, err := s.rules.Current(ctx)
	if err != nil {
		return nil, err
	}
	if profile.CompletedTests >= rules.KYCTestThreshold && !profile.IdentityVerified {
		return nil, apperror.New(apperror.ErrCodeForbidden, "требуется верификация личности").
			WithDetails(map[string]interface{}{
				"reason":          "identity_verification_required",
				"completed_tests": profile.CompletedTests,
				"threshold":       rules.KYCTestThreshold,
			})
	}

	scheduledDate, err := s.nextPurchaseDate(ctx, campaign, now)
	if err != nil {
		return nil, err
	}

	session := &models.TestSession{
		CampaignID:            campaign.ID,
		TesterID:              actor.ID,
		Status:                models.SessionStatusPending,
		Message:               input.Message,
		ScheduledPurchaseDate: scheduledDate,
	}
	if campaign.AutoAccept {
		session.Status = models.SessionStatusAccepted
		session.AcceptedAt = &now
	}

	if err := s.sessions.CreateWithSlot(ctx, session); err != nil {
		if errors.Is(err, repository.ErrNoAvailableSlots) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "в кампании нет свободных слотов")
		}
		return nil, err
	}

	s.notifier.Notify(campaign.SponsorID, models.EventSessionApplied, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
	})

	return session, nil
}

// Accept принимает заявку. Только спонсор кампании, только из PENDING.
func (s *SessionService) Accept(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedBySponsor(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.requireTransition(session, models.SessionStatusAccepted); err != nil {
		return nil, err
	}

	prev := session.Status
	now := time.Now()
	session.Status = models.SessionStatusAccepted
	session.AcceptedAt = &now

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(session.TesterID, models.EventSessionAccepted, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
	})

	return session, nil
}

// Reject отклоняет заявку и возвращает слот кампании.
func (s *SessionService) Reject(ctx context.Context, actor models.Actor, sessionID uuid.UUID, reason string) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedBySponsor(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.requireTransition(session, models.SessionStatusRejected); err != nil {
		return nil, err
	}

	prev := session.Status
	session.Status = models.SessionStatusRejected
	session.RejectionReason = &reason

	if err := s.sessions.RejectWithSlotRestore(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(session.TesterID, models.EventSessionRejected, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
		"reason":      reason,
	})

	return session, nil
}

// ValidatePrice проверяет найденную тестером цену против диапазона кампании.
// После двух неудачных попыток остаётся только ручной ввод названия товара.
func (s *SessionService) ValidatePrice(ctx context.Context, actor models.Actor, sessionID uuid.UUID, price float64) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedByTester(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if !campaign.RequiresProcedure() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "кампания не требует проверки цены")
	}
	if session.Status != models.SessionStatusProceduresCompleted {
		return nil, s.invalidStateErr(session, models.SessionStatusPriceValidated)
	}

	if session.PriceAttempts >= maxPriceAttempts {
		return nil, apperror.New(apperror.ErrCodeValidation, "попытки исчерпаны, укажите название товара вручную").
			WithDetails(map[string]interface{}{
				"fallback": "manual_title",
				"attempts": session.PriceAttempts,
			})
	}

	priceMin, priceMax := campaignPriceRange(campaign)
	if price < priceMin || price > priceMax {
		session.PriceAttempts++
		if err := s.sessions.Update(ctx, session, session.Status); err != nil {
			return nil, s.mapUpdateErr(err)
		}

		details := map[string]interface{}{
			"expected_min": priceMin,
			"expected_max": priceMax,
			"attempt":      session.PriceAttempts,
			"max_attempts": maxPriceAttempts,
		}
		if session.PriceAttempts >= maxPriceAttempts {
			details["fallback"] = "manual_title"
		}
		return nil, apperror.Newf(apperror.ErrCodeValidation,
			"неверная цена, ожидается от %.2f до %.2f, попытка %d/%d",
			priceMin, priceMax, session.PriceAttempts, maxPriceAttempts,
		).WithDetails(details)
	}

	prev := session.Status
	session.Status = models.SessionStatusPriceValidated
	session.ValidatedPrice = &price

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	return session, nil
}

// SubmitPurchaseInput — отчёт тестера о покупке.
type SubmitPurchaseInput struct {
	OrderNumber  string  `json:"order_number" binding:"required"`
	ProductPrice float64 `json:"product_price" binding:"required,gt=0"`
	ShippingCost float64 `json:"shipping_cost" binding:"gte=0"`
	ProofURL     *string `json:"proof_url"`
}

// SubmitPurchase фиксирует покупку. Для кампаний по прямой ссылке покупка
// доступна сразу после принятия, для процедурных — после проверки цены.
// Без флага обхода дата покупки должна попадать в окно ±1 день от графика.
func (s *SessionService) SubmitPurchase(ctx context.Context, actor models.Actor, sessionID uuid.UUID, input SubmitPurchaseInput) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedByTester(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	required := models.SessionStatusAccepted
	if campaign.RequiresProcedure() {
		required = models.SessionStatusPriceValidated
	}
	if session.Status != required {
		return nil, s.invalidStateErr(session, models.SessionStatusPurchaseSubmitted)
	}

	now := time.Now()
	if !campaign.SkipPurchaseWindow && session.ScheduledPurchaseDate != nil {
		if !withinPurchaseWindow(now, *session.ScheduledPurchaseDate) {
			return nil, apperror.New(apperror.ErrCodeValidation, "покупка вне окна графика раздачи").
				WithDetails(map[string]interface{}{
					"scheduled_purchase_date": session.ScheduledPurchaseDate,
				})
		}
	}

	prev := session.Status
	session.Status = models.SessionStatusPurchaseSubmitted
	session.OrderNumber = &input.OrderNumber
	session.SubmittedProductPrice = &input.ProductPrice
	session.SubmittedShippingCost = &input.ShippingCost
	session.PurchaseProofURL = input.ProofURL
	session.PurchaseSubmittedAt = &now

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(campaign.SponsorID, models.EventPurchaseSubmitted, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
	})

	return session, nil
}

// ValidatePurchaseInput — подтверждение покупки спонсором.
// Override-поля позволяют поправить заявленные тестером суммы.
type ValidatePurchaseInput struct {
	PriceOverride    *float64 `json:"price_override"`
	ShippingOverride *float64 `json:"shipping_override"`
	Comment          *string  `json:"comment"`
}

// ValidatePurchase подтверждает покупку. Только спонсор, только из
// PURCHASE_SUBMITTED.
func (s *SessionService) ValidatePurchase(ctx context.Context, actor models.Actor, sessionID uuid.UUID, input ValidatePurchaseInput) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedBySponsor(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.requireTransition(session, models.SessionStatusPurchaseValidated); err != nil {
		return nil, err
	}

	prev := session.Status
	now := time.Now()
	session.Status = models.SessionStatusPurchaseValidated
	session.PurchaseValidatedAt = &now
	session.PurchaseComment = input.Comment
	if input.PriceOverride != nil {
		session.SubmittedProductPrice = input.PriceOverride
	}
	if input.ShippingOverride != nil {
		session.SubmittedShippingCost = input.ShippingOverride
	}

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(session.TesterID, models.EventPurchaseValidated, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
	})

	return session, nil
}

// RejectPurchase возвращает сессию в ACCEPTED для повторной подачи покупки.
func (s *SessionService) RejectPurchase(ctx context.Context, actor models.Actor, sessionID uuid.UUID, reason string) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedBySponsor(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusPurchaseSubmitted {
		return nil, s.invalidStateErr(session, models.SessionStatusAccepted)
	}

	prev := session.Status
	session.Status = models.SessionStatusAccepted
	session.PurchaseRejectReason = &reason

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(session.TesterID, models.EventPurchaseRejected, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
		"reason":      reason,
	})

	return session, nil
}

// CompleteStep отмечает шаг процедуры выполненным. Когда выполнены все
// шаги кампании, сессия переходит в PROCEDURES_COMPLETED.
func (s *SessionService) CompleteStep(ctx context.Context, actor models.Actor, sessionID, stepID uuid.UUID, submissionData json.RawMessage) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedByTester(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if !campaign.RequiresProcedure() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "кампания не содержит шагов процедуры")
	}

	switch session.Status {
	case models.SessionStatusAccepted, models.SessionStatusInProgress, models.SessionStatusProceduresCompleted:
	default:
		return nil, s.invalidStateErr(session, models.SessionStatusInProgress)
	}

	if err := s.sessions.UpsertStepProgress(ctx, &models.StepProgress{
		SessionID:      session.ID,
		StepID:         stepID,
		SubmissionData: submissionData,
	}); err != nil {
		return nil, err
	}

	completed, err := s.sessions.CountCompletedSteps(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	next := models.SessionStatusInProgress
	if completed >= campaign.TotalSteps {
		next = models.SessionStatusProceduresCompleted
	}
	if next == session.Status {
		return session, nil
	}

	prev := session.Status
	session.Status = next
	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	return session, nil
}

// SubmitTest отправляет тест на приёмку спонсору.
func (s *SessionService) SubmitTest(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedByTester(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusPurchaseValidated {
		return nil, s.invalidStateErr(session, models.SessionStatusSubmitted)
	}

	prev := session.Status
	session.Status = models.SessionStatusSubmitted

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(campaign.SponsorID, models.EventTestSubmitted, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
	})

	return session, nil
}

// Complete принимает тест: считает награду, переводит сессию в COMPLETED
// и запускает выплату. Ошибка выплаты логируется, но завершение не
// откатывает: платёж доводит фоновая сверка.
func (s *SessionService) Complete(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedBySponsor(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusSubmitted {
		return nil, s.invalidStateErr(session, models.SessionStatusCompleted)
	}
	if session.SubmittedProductPrice == nil || session.SubmittedShippingCost == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "в сессии нет подтверждённой покупки")
	}

	rules, err := s.rules.Current(ctx)
	if err != nil {
		return nil, err
	}

	reward := RewardForSession(*session.SubmittedProductPrice, *session.SubmittedShippingCost, campaign.Bonus)
	commission := CommissionForBase(reward, rules).PlatformCommission()

	prev := session.Status
	now := time.Now()
	session.Status = models.SessionStatusCompleted
	session.RewardAmount = &reward
	session.CompletedAt = &now

	if err := s.sessions.Update(ctx, session, prev); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	if err := s.profiles.IncrementCompletedTests(ctx, session.TesterID); err != nil {
		s.log.WithError(err).WithField("tester_id", session.TesterID).Error("Не удалось увеличить счётчик тестов")
	}

	tester, err := s.profiles.GetByID(ctx, session.TesterID)
	if err != nil {
		s.log.WithError(err).WithField("tester_id", session.TesterID).Error("Профиль тестера недоступен, выплата отложена")
		return session, nil
	}

	if err := s.settlement.ProcessTestCompletion(ctx, session, campaign, tester, reward, commission); err != nil {
		// Сессия остаётся COMPLETED: интент уже в outbox, выплату доведёт сверка.
		s.log.WithError(err).WithFields(logrus.Fields{
			"session_id": session.ID,
			"reward":     reward,
		}).Error("Выплата за тест не прошла, будет повторена")
	}

	s.notifier.Notify(session.TesterID, models.EventSessionCompleted, map[string]interface{}{
		"session_id":    session.ID,
		"campaign_id":   campaign.ID,
		"reward_amount": reward,
	})

	return session, nil
}

// Cancel отменяет сессию тестером. После подтверждённой покупки возврат
// проводится до фиксации отмены: неудачный возврат блокирует переход.
// Вне льготного периода тестер получает бан и рост счётчика отмен.
func (s *SessionService) Cancel(ctx context.Context, actor models.Actor, sessionID uuid.UUID, reason string) (*models.TestSession, error) {
	session, campaign, err := s.getOwnedByTester(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	cancellable := false
	for _, status := range models.CancellableSessionStatuses {
		if session.Status == status {
			cancellable = true
			break
		}
	}
	if !cancellable {
		return nil, s.invalidStateErr(session, models.SessionStatusCancelled)
	}

	rules, err := s.rules.Current(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if session.Status == models.SessionStatusPurchaseValidated {
		tester, err := s.profiles.GetByID(ctx, session.TesterID)
		if err != nil {
			return nil, s.mapNotFound(err, apperror.ErrProfileNotFound)
		}

		impact := SessionCancellationImpactFor(
			derefFloat(session.SubmittedProductPrice),
			derefFloat(session.SubmittedShippingCost),
			campaign.Bonus,
			rules,
		)
		if err := s.settlement.ProcessSessionCancellationRefund(ctx, session, campaign, tester, impact); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "возврат не прошёл, отмена не выполнена")
		}
	}

	var bannedUntil *time.Time
	if session.AcceptedAt != nil {
		grace := time.Duration(rules.GracePeriodMinutes) * time.Minute
		if now.Sub(*session.AcceptedAt) > grace {
			until := now.AddDate(0, 0, rules.CancellationBanDays)
			bannedUntil = &until
		}
	}

	prev := session.Status
	session.Status = models.SessionStatusCancelled
	session.CancellationReason = &reason
	session.CancelledAt = &now

	if err := s.sessions.CancelWithSlotRestore(ctx, session, prev, bannedUntil); err != nil {
		return nil, s.mapUpdateErr(err)
	}

	s.notifier.Notify(campaign.SponsorID, models.EventSessionCancelled, map[string]interface{}{
		"session_id":  session.ID,
		"campaign_id": campaign.ID,
		"reason":      reason,
	})

	return session, nil
}

// GetSession возвращает сессию с проверкой видимости: тестер видит свои,
// спонсор — сессии своих кампаний, арбитр — любые.
func (s *SessionService) GetSession(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.TestSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, s.mapNotFound(err, apperror.ErrSessionNotFound)
	}

	if actor.IsArbiter() || session.TesterID == actor.ID {
		return session, nil
	}

	campaign, err := s.getCampaign(ctx, session.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.SponsorID != actor.ID {
		return nil, apperror.ErrForbidden
	}

	return session, nil
}

// ListMySessions возвращает сессии тестера.
func (s *SessionService) ListMySessions(ctx context.Context, actor models.Actor, limit, offset int) ([]models.TestSession, error) {
	return s.sessions.ListByTester(ctx, actor.ID, limit, offset)
}

// ListCampaignSessions возвращает сессии кампании для её спонсора.
func (s *SessionService) ListCampaignSessions(ctx context.Context, actor models.Actor, campaignID uuid.UUID, limit, offset int) ([]models.TestSession, error) {
	campaign, err := s.getCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !actor.IsArbiter() && campaign.SponsorID != actor.ID {
		return nil, apperror.ErrForbidden
	}

	return s.sessions.ListByCampaign(ctx, campaignID, limit, offset)
}

// nextPurchaseDate подбирает ближайшее будущее окно графика раздачи
// с незаполненным лимитом. Кампания без графика окна не требует.
func (s *SessionService) nextPurchaseDate(ctx context.Context, campaign *models.Campaign, now time.Time) (*time.Time, error) {
	slots, err := s.campaigns.ListScheduleSlots(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	type candidate struct {
		date     time.Time
		maxUnits int
	}
	var candidates []candidate

	for _, slot := range slots {
		switch {
		case slot.FixedDate != nil:
			if slot.FixedDate.After(today) {
				candidates = append(candidates, candidate{date: *slot.FixedDate, maxUnits: slot.MaxUnits})
			}
		case slot.Weekday != nil:
			for i := 1; i <= scheduleHorizonDays; i++ {
				day := today.AddDate(0, 0, i)
				if int(day.Weekday()) == *slot.Weekday {
					candidates = append(candidates, candidate{date: day, maxUnits: slot.MaxUnits})
				}
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].date.Before(candidates[j].date)
	})

	for _, c := range candidates {
		taken, err := s.sessions.CountScheduledOn(ctx, campaign.ID, c.date)
		if err != nil {
			return nil, err
		}
		if taken < c.maxUnits {
			date := c.date
			return &date, nil
		}
	}

	return nil, apperror.New(apperror.ErrCodeValidation, "в графике кампании нет свободных окон")
}

func (s *SessionService) getCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapNotFound(err, apperror.ErrCampaignNotFound)
	}
	return campaign, nil
}

func (s *SessionService) getOwnedByTester(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.TestSession, *models.Campaign, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, s.mapNotFound(err, apperror.ErrSessionNotFound)
	}
	if session.TesterID != actor.ID {
		return nil, nil, apperror.ErrForbidden
	}

	campaign, err := s.getCampaign(ctx, session.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	return session, campaign, nil
}

func (s *SessionService) getOwnedBySponsor(ctx context.Context, actor models.Actor, sessionID uuid.UUID) (*models.TestSession, *models.Campaign, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, s.mapNotFound(err, apperror.ErrSessionNotFound)
	}

	campaign, err := s.getCampaign(ctx, session.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	if campaign.SponsorID != actor.ID {
		return nil, nil, apperror.ErrForbidden
	}
	return session, campaign, nil
}

// requireTransition проверяет ребро графа из текущего статуса.
func (s *SessionService) requireTransition(session *models.TestSession, next models.SessionStatus) error {
	if !session.Status.CanTransitionTo(next) {
		return s.invalidStateErr(session, next)
	}
	return nil
}

func (s *SessionService) invalidStateErr(session *models.TestSession, next models.SessionStatus) error {
	return apperror.Newf(apperror.ErrCodeInvalidState,
		"переход из статуса %q в %q невозможен", session.Status, next,
	).WithDetails(map[string]interface{}{
		"current_status": session.Status,
		"target_status":  next,
	})
}

func (s *SessionService) mapNotFound(err error, appErr *apperror.AppError) error {
	if errors.Is(err, common.ErrNotFound) {
		return appErr
	}
	return err
}

func (s *SessionService) mapUpdateErr(err error) error {
	if errors.Is(err, common.ErrStatusConflict) {
		return apperror.New(apperror.ErrCodeInvalidState, "статус сессии изменился, повторите запрос")
	}
	return err
}

func campaignPriceRange(campaign *models.Campaign) (float64, float64) {
	var min, max float64
	if campaign.PriceRangeMin != nil {
		min = *campaign.PriceRangeMin
	}
	if campaign.PriceRangeMax != nil {
		max = *campaign.PriceRangeMax
	}
	return min, max
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// withinPurchaseWindow проверяет попадание даты покупки в окно
// ±1 день от запланированной даты (по календарным дням).
func withinPurchaseWindow(purchase, scheduled time.Time) bool {
	p := time.Date(purchase.Year(), purchase.Month(), purchase.Day(), 0, 0, 0, 0, time.UTC)
	sch := time.Date(scheduled.Year(), scheduled.Month(), scheduled.Day(), 0, 0, 0, 0, time.UTC)
	diff := p.Sub(sch)
	return diff >= -24*time.Hour && diff <= 24*time.Hour
}
