package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
)

// Deposit credits available balance on a source account.
func (uc *PaymentUsecase) Deposit(ctx context.Context, accountID uuid.UUID, amount domain.Amount) (*domain.Balance, error) {
	if accountID == uuid.Nil || amount.AssetCode == "" || amount.Value == 0 {
		return nil, fmt.Errorf("%w: an account and a positive amount are required", domain.ErrValidation)
	}
	if err := uc.ledger.Deposit(ctx, accountID, amount); err != nil {
		return nil, err
	}
	uc.logger.Info("account credited",
		zap.String("account_id", accountID.String()),
		zap.String("amount", amount.String()))
	return uc.ledger.Balance(ctx, accountID, amount.AssetCode)
}

func (uc *PaymentUsecase) Balance(ctx context.Context, accountID uuid.UUID, assetCode string) (*domain.Balance, error) {
	return uc.ledger.Balance(ctx, accountID, assetCode)
}
