package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/repository/common"
)

var (
	ErrNoAvailableSlots = errors.New("no available slots")
	ErrStatusConflict   = common.ErrStatusConflict
)

type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetByID возвращает сессию по идентификатору.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TestSession, error) {
	return common.GetByID[models.TestSession](ctx, r.db, "test_sessions", id, common.ErrNotFound)
}

// CreateWithSlot создаёт сессию и списывает один слот кампании атомарно.
// Если свободных слотов нет, возвращает ErrNoAvailableSlots.
func (r *SessionRepository) CreateWithSlot(ctx context.Context, session *models.TestSession) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE campaigns SET available_slots = available_slots - 1, updated_at = NOW()
			WHERE id = $1 AND available_slots > 0
		`, session.CampaignID)
		if err != nil {
			return fmt.Errorf("session repository: decrement slots %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNoAvailableSlots
		}

		return tx.GetContext(ctx, session, `
			INSERT INTO test_sessions (campaign_id, tester_id, status, message, scheduled_purchase_date, accepted_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		`, session.CampaignID, session.TesterID, session.Status, session.Message, session.ScheduledPurchaseDate, session.AcceptedAt)
	})
}

// Update сохраняет изменяемые поля сессии с проверкой ожидаемого статуса.
// Предикат по статусу закрывает гонку read-then-write: конкурентный переход
// обнаруживается по нулевому числу затронутых строк.
func (r *SessionRepository) Update(ctx context.Context, session *models.TestSession, expected models.SessionStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE test_sessions SET
			status = $3,
			accepted_at = $4,
			rejection_reason = $5,
			price_attempts = $6,
			validated_price = $7,
			order_number = $8,
			submitted_product_price = $9,
			submitted_shipping_cost = $10,
			purchase_proof_url = $11,
			purchase_submitted_at = $12,
			purchase_validated_at = $13,
			purchase_comment = $14,
			purchase_reject_reason = $15,
			reward_amount = $16,
			completed_at = $17,
			disputed_at = $18,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, session.ID, expected,
		session.Status, session.AcceptedAt, session.RejectionReason,
		session.PriceAttempts, session.ValidatedPrice,
		session.OrderNumber, session.SubmittedProductPrice, session.SubmittedShippingCost,
		session.PurchaseProofURL, session.PurchaseSubmittedAt, session.PurchaseValidatedAt,
		session.PurchaseComment, session.PurchaseRejectReason,
		session.RewardAmount, session.CompletedAt, session.DisputedAt)
	if err != nil {
		return fmt.Errorf("session repository: update %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// RejectWithSlotRestore отклоняет заявку и возвращает слот кампании.
func (r *SessionRepository) RejectWithSlotRestore(ctx context.Context, session *models.TestSession, expected models.SessionStatus) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE test_sessions SET status = $3, rejection_reason = $4, updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, session.ID, expected, session.Status, session.RejectionReason)
		if err != nil {
			return fmt.Errorf("session repository: reject %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStatusConflict
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE campaigns SET available_slots = available_slots + 1, updated_at = NOW()
			WHERE id = $1
		`, session.CampaignID)
		return err
	})
}

// CancelWithSlotRestore отменяет сессию, возвращает слот и, если отмена
// вне грейс-периода, применяет бан и инкрементирует счётчик отмен тестера.
func (r *SessionRepository) CancelWithSlotRestore(ctx context.Context, session *models.TestSession, expected models.SessionStatus, bannedUntil *time.Time) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE test_sessions SET status = $3, cancellation_reason = $4, cancelled_at = $5, updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, session.ID, expected, session.Status, session.CancellationReason, session.CancelledAt)
		if err != nil {
			return fmt.Errorf("session repository: cancel %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStatusConflict
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE campaigns SET available_slots = available_slots + 1, updated_at = NOW()
			WHERE id = $1
		`, session.CampaignID); err != nil {
			return err
		}

		if bannedUntil != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE profiles SET banned_until = $2, cancelled_tests = cancelled_tests + 1, updated_at = NOW()
				WHERE id = $1
			`, session.TesterID, bannedUntil)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// UpsertStepProgress сохраняет прогресс по шагу процедуры.
func (r *SessionRepository) UpsertStepProgress(ctx context.Context, progress *models.StepProgress) error {
	return r.db.GetContext(ctx, progress, `
		INSERT INTO step_progress (session_id, step_id, submission_data, completed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, step_id)
		DO UPDATE SET submission_data = EXCLUDED.submission_data, completed_at = NOW()
		RETURNING *
	`, progress.SessionID, progress.StepID, progress.SubmissionData)
}

// CountCompletedSteps возвращает число выполненных шагов сессии.
func (r *SessionRepository) CountCompletedSteps(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM step_progress WHERE session_id = $1`, sessionID)
	return count, err
}

// CountScheduledOn возвращает число живых сессий кампании,
// назначенных на указанную дату покупки.
func (r *SessionRepository) CountScheduledOn(ctx context.Context, campaignID uuid.UUID, day time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM test_sessions
		WHERE campaign_id = $1
		  AND scheduled_purchase_date::date = $2::date
		  AND status NOT IN ('cancelled', 'rejected')
	`, campaignID, day)
	return count, err
}

// ListByTester возвращает сессии тестера.
func (r *SessionRepository) ListByTester(ctx context.Context, testerID uuid.UUID, limit, offset int) ([]models.TestSession, error) {
	var sessions []models.TestSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM test_sessions WHERE tester_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, testerID, limit, offset)
	return sessions, err
}

// ListByCampaign возвращает сессии кампании.
func (r *SessionRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]models.TestSession, error) {
	var sessions []models.TestSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM test_sessions WHERE campaign_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	return sessions, err
}

// ListAcceptedTesterIDs возвращает тестеров кампании, чьи заявки были приняты
// и чьи сессии ещё живы (для компенсации при отмене кампании).
func (r *SessionRepository) ListAcceptedTesterIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT tester_id FROM test_sessions
		WHERE campaign_id = $1
		  AND accepted_at IS NOT NULL
		  AND status NOT IN ('completed', 'cancelled', 'rejected')
	`, campaignID)
	return ids, err
}

// CancelAllNonTerminal отменяет все живые сессии кампании.
// Слоты не возвращаются: кампания закрывается целиком.
func (r *SessionRepository) CancelAllNonTerminal(ctx context.Context, campaignID uuid.UUID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE test_sessions SET status = 'cancelled', cancellation_reason = $2, cancelled_at = NOW(), updated_at = NOW()
		WHERE campaign_id = $1 AND status NOT IN ('completed', 'cancelled', 'rejected')
	`, campaignID, reason)
	if err != nil {
		return 0, fmt.Errorf("session repository: cancel all %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}
