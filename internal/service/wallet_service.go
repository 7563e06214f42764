package service

import (
	"context"

	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/pkg/apperror"
)

// WalletService отдаёт кошельки и историю транзакций. Запись в кошельки
// идёт только через движок расчётов.
type WalletService struct {
	ledger     SettlementLedger
	settlement *SettlementService
}

func NewWalletService(ledger SettlementLedger, settlement *SettlementService) *WalletService {
	return &WalletService{ledger: ledger, settlement: settlement}
}

// GetMyWallet возвращает кошелёк актора, создавая его при первом обращении.
func (s *WalletService) GetMyWallet(ctx context.Context, actor models.Actor) (*models.Wallet, error) {
	return s.ledger.GetWallet(ctx, actor.ID)
}

// ListMyTransactions возвращает историю транзакций актора.
func (s *WalletService) ListMyTransactions(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Transaction, error) {
	return s.ledger.ListTransactions(ctx, actor.ID, limit, offset)
}

// PlatformBalance возвращает журнал платформы и баланс шлюза. Только арбитр.
func (s *WalletService) PlatformBalance(ctx context.Context, actor models.Actor) (*PlatformBalance, error) {
	if !actor.IsArbiter() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "баланс платформы доступен только арбитру")
	}
	return s.settlement.GetPlatformBalance(ctx)
}
