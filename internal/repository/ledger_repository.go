package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/producttest-backend/internal/models"
)

var (
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	ErrIntentNotFound     = errors.New("payment intent not found")
)

// LedgerRepository — единственная точка записи в platform_ledger, wallets,
// transactions и payment_intents. Каждая операция атомарна: баланс и
// журнальная строка меняются в одной транзакции БД.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetPlatformLedger возвращает строку баланса платформы.
func (r *LedgerRepository) GetPlatformLedger(ctx context.Context) (*models.PlatformLedger, error) {
	var ledger models.PlatformLedger
	err := r.db.GetContext(ctx, &ledger, `SELECT * FROM platform_ledger WHERE id = 1`)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: get platform ledger %w", err)
	}
	return &ledger, nil
}

// GetWallet возвращает кошелёк профиля, создаёт если не существует.
func (r *LedgerRepository) GetWallet(ctx context.Context, profileID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `
		INSERT INTO wallets (profile_id, balance, pending_balance, total_earned, total_withdrawn)
		VALUES ($1, 0, 0, 0, 0)
		ON CONFLICT (profile_id) DO UPDATE SET updated_at = NOW()
		RETURNING *
	`
	if err := r.db.GetContext(ctx, &wallet, query, profileID); err != nil {
		return nil, fmt.Errorf("ledger repository: get wallet %w", err)
	}
	return &wallet, nil
}

// ListTransactions возвращает историю транзакций профиля.
func (r *LedgerRepository) ListTransactions(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT * FROM transactions WHERE profile_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, profileID, limit, offset)
	return transactions, err
}

// GetOrCreateIntent возвращает интент по ключу идемпотентности,
// создавая при первом обращении.
func (r *LedgerRepository) GetOrCreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.GetContext(ctx, intent, `
		INSERT INTO payment_intents (kind, purpose, session_id, campaign_id, profile_id, destination, payment_ref, amount, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		ON CONFLICT (idempotency_key) DO UPDATE SET updated_at = NOW()
		RETURNING *
	`, intent.Kind, intent.Purpose, intent.SessionID, intent.CampaignID, intent.ProfileID,
		intent.Destination, intent.PaymentRef, intent.Amount, intent.IdempotencyKey)
}

// SetIntentCalled фиксирует подтверждённый ответ шлюза.
func (r *LedgerRepository) SetIntentCalled(ctx context.Context, intentID uuid.UUID, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = 'called', external_id = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status != 'settled'
	`, intentID, externalID)
	return err
}

// SetIntentSettled помечает интент применённым к журналу.
func (r *LedgerRepository) SetIntentSettled(ctx context.Context, intentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = 'settled', settled_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, intentID)
	return err
}

// SetIntentFailed сохраняет ошибку вызова шлюза.
func (r *LedgerRepository) SetIntentFailed(ctx context.Context, intentID uuid.UUID, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status != 'settled'
	`, intentID, lastError)
	return err
}

// ListUnsettledIntents возвращает интенты, застрявшие до отметки settled.
func (r *LedgerRepository) ListUnsettledIntents(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.SelectContext(ctx, &intents, `
		SELECT * FROM payment_intents
		WHERE status IN ('pending', 'called', 'failed') AND updated_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	return intents, err
}

// TestRewardParams — параметры зачисления награды за завершённый тест.
type TestRewardParams struct {
	SessionID  uuid.UUID
	CampaignID uuid.UUID
	TesterID   uuid.UUID
	SponsorID  uuid.UUID
	Payout     float64
	Commission float64
	ExternalID string
}

// ApplyTestReward атомарно отражает выплату тестеру и комиссию платформы:
// эскроу уменьшается на payout+commission, комиссия зачисляется на
// commission_balance, кошелёк тестера пополняется, создаются две
// журнальные строки. Повторный вызов с тем же ExternalID ничего не меняет.
func (r *LedgerRepository) ApplyTestReward(ctx context.Context, p TestRewardParams) (*models.Transaction, *models.Transaction, error) {
	var reward, commission *models.Transaction

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// Идемпотентность: внешний id уникален по таблице.
	var existing models.Transaction
	err = tx.GetContext(ctx, &existing, `SELECT * FROM transactions WHERE external_id = $1`, p.ExternalID)
	if err == nil {
		reward = &existing
		var comm models.Transaction
		if err := tx.GetContext(ctx, &comm, `
			SELECT * FROM transactions WHERE session_id = $1 AND type = $2
		`, p.SessionID, models.TransactionTypePlatformCommission); err == nil {
			commission = &comm
		}
		return reward, commission, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}

	if err := r.debitEscrow(ctx, tx, p.Payout+p.Commission); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE platform_ledger SET
			commission_balance = commission_balance + $1,
			total_paid_out = total_paid_out + $2,
			updated_at = NOW()
		WHERE id = 1
	`, p.Commission, p.Payout); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (profile_id, balance, pending_balance, total_earned, total_withdrawn)
		VALUES ($1, $2, 0, $2, 0)
		ON CONFLICT (profile_id) DO UPDATE SET
			balance = wallets.balance + $2,
			total_earned = wallets.total_earned + $2,
			updated_at = NOW()
	`, p.TesterID, p.Payout); err != nil {
		return nil, nil, err
	}

	reward = &models.Transaction{}
	if err := tx.GetContext(ctx, reward, `
		INSERT INTO transactions (profile_id, campaign_id, session_id, type, amount, status, description, external_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', 'Награда за завершённый тест', $6, NOW())
		RETURNING *
	`, p.TesterID, p.CampaignID, p.SessionID, models.TransactionTypeTestReward, p.Payout, p.ExternalID); err != nil {
		return nil, nil, err
	}

	commission = &models.Transaction{}
	if err := tx.GetContext(ctx, commission, `
		INSERT INTO transactions (profile_id, campaign_id, session_id, type, amount, status, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', 'Комиссия платформы', NOW())
		RETURNING *
	`, p.SponsorID, p.CampaignID, p.SessionID, models.TransactionTypePlatformCommission, p.Commission); err != nil {
		return nil, nil, err
	}

	return reward, commission, tx.Commit()
}

// TesterCreditParams — параметры зачисления на кошелёк тестера
// (возврат при отмене, компенсация, решение спора в пользу тестера).
type TesterCreditParams struct {
	SessionID   *uuid.UUID
	CampaignID  uuid.UUID
	TesterID    uuid.UUID
	SponsorID   uuid.UUID
	Amount      float64
	Commission  float64
	ExternalID  string
	Type        string
	Description string
}

// ApplyTesterCredit атомарно зачисляет сумму на кошелёк тестера,
// уменьшая эскроу; опциональная комиссия уходит на commission_balance.
func (r *LedgerRepository) ApplyTesterCredit(ctx context.Context, p TesterCreditParams) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing models.Transaction
	err = tx.GetContext(ctx, &existing, `SELECT * FROM transactions WHERE external_id = $1`, p.ExternalID)
	if err == nil {
		return &existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err := r.debitEscrow(ctx, tx, p.Amount+p.Commission); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE platform_ledger SET
			commission_balance = commission_balance + $1,
			total_refunded = total_refunded + $2,
			updated_at = NOW()
		WHERE id = 1
	`, p.Commission, p.Amount); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (profile_id, balance, pending_balance, total_earned, total_withdrawn)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (profile_id) DO UPDATE SET
			balance = wallets.balance + $2,
			updated_at = NOW()
	`, p.TesterID, p.Amount); err != nil {
		return nil, err
	}

	var transaction models.Transaction
	if err := tx.GetContext(ctx, &transaction, `
		INSERT INTO transactions (profile_id, campaign_id, session_id, type, amount, status, description, external_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', $6, $7, NOW())
		RETURNING *
	`, p.TesterID, p.CampaignID, p.SessionID, p.Type, p.Amount, p.Description, p.ExternalID); err != nil {
		return nil, err
	}

	if p.Commission > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (profile_id, campaign_id, session_id, type, amount, status, description, completed_at)
			VALUES ($1, $2, $3, $4, $5, 'completed', 'Комиссия платформы при отмене', NOW())
		`, p.SponsorID, p.CampaignID, p.SessionID, models.TransactionTypePlatformCommission, p.Commission); err != nil {
			return nil, err
		}
	}

	return &transaction, tx.Commit()
}

// SponsorCreditParams — параметры возврата в сторону спонсора.
// Деньги уходят возвратом по исходному платежу в шлюзе, кошелёк не трогается.
type SponsorCreditParams struct {
	SessionID   *uuid.UUID
	CampaignID  uuid.UUID
	SponsorID   uuid.UUID
	Amount      float64
	Fee         float64
	ExternalID  string
	Type        string
	Description string
}

// ApplySponsorCredit атомарно отражает возврат спонсору: эскроу уменьшается
// на сумму возврата, удержанный сбор уходит на commission_balance.
func (r *LedgerRepository) ApplySponsorCredit(ctx context.Context, p SponsorCreditParams) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing models.Transaction
	err = tx.GetContext(ctx, &existing, `SELECT * FROM transactions WHERE external_id = $1`, p.ExternalID)
	if err == nil {
		return &existing, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err := r.debitEscrow(ctx, tx, p.Amount+p.Fee); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE platform_ledger SET
			commission_balance = commission_balance + $1,
			total_refunded = total_refunded + $2,
			updated_at = NOW()
		WHERE id = 1
	`, p.Fee, p.Amount); err != nil {
		return nil, err
	}

	var transaction models.Transaction
	if err := tx.GetContext(ctx, &transaction, `
		INSERT INTO transactions (profile_id, campaign_id, session_id, type, amount, status, description, external_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', $6, $7, NOW())
		RETURNING *
	`, p.SponsorID, p.CampaignID, p.SessionID, p.Type, p.Amount, p.Description, p.ExternalID); err != nil {
		return nil, err
	}

	return &transaction, tx.Commit()
}

// debitEscrow уменьшает эскроу с защитой от ухода в минус.
func (r *LedgerRepository) debitEscrow(ctx context.Context, tx *sqlx.Tx, amount float64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE platform_ledger SET escrow_balance = escrow_balance - $1, updated_at = NOW()
		WHERE id = 1 AND escrow_balance >= $1
	`, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: debit escrow %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientEscrow
	}
	return nil
}
