package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/repository/common"
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, common.ErrNotFound)
}

// GetOpenBySessionID возвращает открытый спор по сессии, nil если его нет.
func (r *DisputeRepository) GetOpenBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.GetContext(ctx, &dispute, `
		SELECT * FROM disputes WHERE session_id = $1 AND status = 'open'
	`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &dispute, nil
}

func (r *DisputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	err := r.db.GetContext(ctx, dispute, `
		INSERT INTO disputes (session_id, campaign_id, initiator_id, reason, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING *
	`, dispute.SessionID, dispute.CampaignID, dispute.InitiatorID, dispute.Reason)
	if err != nil {
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

// Resolve закрывает спор с вынесенным решением. Если спор уже закрыт,
// возвращает common.ErrStatusConflict.
func (r *DisputeRepository) Resolve(ctx context.Context, dispute *models.Dispute) error {
	err := r.db.GetContext(ctx, dispute, `
		UPDATE disputes SET
			status = 'resolved',
			resolution_type = $2,
			refund_amount = $3,
			resolution_note = $4,
			resolved_by = $5,
			resolved_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING *
	`, dispute.ID, dispute.ResolutionType, dispute.RefundAmount, dispute.ResolutionNote, dispute.ResolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrStatusConflict
		}
		return fmt.Errorf("dispute repository: resolve %w", err)
	}
	return nil
}

// ListByProfile возвращает споры по сессиям, в которых профиль участвует
// как тестер или как спонсор кампании.
func (r *DisputeRepository) ListByProfile(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT d.* FROM disputes d
		JOIN test_sessions s ON s.id = d.session_id
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE s.tester_id = $1 OR c.sponsor_id = $1
		ORDER BY d.created_at DESC
		LIMIT $2 OFFSET $3
	`, profileID, limit, offset)
	return disputes, err
}

// ListOpen возвращает открытые споры для арбитра.
func (r *DisputeRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes WHERE status = 'open' ORDER BY created_at LIMIT $1 OFFSET $2
	`, limit, offset)
	return disputes, err
}
