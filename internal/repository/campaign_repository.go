package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/repository/common"
)

type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// GetByID возвращает кампанию по идентификатору.
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return common.GetByID[models.Campaign](ctx, r.db, "campaigns", id, common.ErrNotFound)
}

// ListScheduleSlots возвращает окна графика раздачи кампании.
func (r *CampaignRepository) ListScheduleSlots(ctx context.Context, campaignID uuid.UUID) ([]models.ScheduleSlot, error) {
	var slots []models.ScheduleSlot
	err := r.db.SelectContext(ctx, &slots, `
		SELECT * FROM campaign_schedule_slots WHERE campaign_id = $1 ORDER BY fixed_date NULLS LAST, weekday NULLS LAST
	`, campaignID)
	return slots, err
}

// MarkCancelled переводит кампанию в статус cancelled.
// Возвращает ErrStatusConflict, если кампания уже не активна.
func (r *CampaignRepository) MarkCancelled(ctx context.Context, campaignID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, campaignID)
	if err != nil {
		return fmt.Errorf("campaign repository: mark cancelled %w", err)
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
