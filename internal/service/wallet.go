package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tharshan2001/bullbear-system/internal/model"
	"github.com/tharshan2001/bullbear-system/internal/repository"
	"github.com/tharshan2001/bullbear-system/internal/validation"
)

// withdrawalFeeRate — плоская комиссия на вывод средств.
var withdrawalFeeRate = decimal.RequireFromString("0.05")

// swapRate — курс обмена usdt/cw.
var swapRate = decimal.RequireFromString("1")

// feeBreakdown — результат применения комиссии на вывод.
type feeBreakdown struct {
	Net            decimal.Decimal
	Fee            decimal.Decimal
	UpdatedBalance decimal.Decimal
}

// GetBalance возвращает балансы пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// RequestWithdrawal создаёт заявку на вывод usdt во внешнюю сеть.
// Требуется баланс не меньше суммы вместе с комиссией; предварительная
// проверка выполняется по чтению, окончательная — условным списанием,
// так что параллельные траты не могут пройти мимо неё.
func (s *Service) RequestWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, network, address string) (*model.WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidInput)
	}
	if !validation.IsValidWithdrawal(network, address) {
		return nil, fmt.Errorf("%w: bad network or address", ErrInvalidInput)
	}

	fee := model.Round2(amount.Mul(withdrawalFeeRate))

	// Предварительная проверка запаса до каких-либо списаний.
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.USDT.LessThan(amount.Add(fee)) {
		return nil, repository.ErrInsufficientFunds
	}

	breakdown, err := s.applyWithdrawalFee(ctx, userID, amount)
	if err != nil {
		return nil, err
	}

	tx := &model.WalletTransaction{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           model.TransactionWithdrawal,
		Status:         model.TransactionPending,
		Currency:       model.CurrencyUSDT,
		Amount:         breakdown.Net,
		Fee:            breakdown.Fee,
		Network:        network,
		NetworkAddress: address,
	}
	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert withdrawal transaction: %w", err)
	}

	s.notify(ctx, userID,
		fmt.Sprintf("withdrawal requested: %s usdt, fee %s usdt", breakdown.Net.StringFixed(2), breakdown.Fee.StringFixed(2)),
		string(model.TransactionWithdrawal))

	return tx, nil
}

// applyWithdrawalFee рассчитывает комиссию и списывает сумму вместе с ней
// одной условной операцией. Если к моменту списания параллельные траты
// уменьшили баланс, возвращается ErrInsufficientFunds без побочных эффектов.
func (s *Service) applyWithdrawalFee(ctx context.Context, userID int64, requested decimal.Decimal) (*feeBreakdown, error) {
	fee := model.Round2(requested.Mul(withdrawalFeeRate))

	if err := s.repo.DebitIfSufficient(ctx, userID, model.CurrencyUSDT, requested.Add(fee)); err != nil {
		return nil, err
	}

	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read balance after debit: %w", err)
	}

	return &feeBreakdown{
		Net:            requested,
		Fee:            fee,
		UpdatedBalance: balance.USDT,
	}, nil
}

// TransferToCW переводит usdt во внутреннюю валюту cw один к одному.
// Списание — первая и единственная нога, которая может не пройти.
func (s *Service) TransferToCW(ctx context.Context, userID int64, amount decimal.Decimal) (*model.WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrInvalidInput)
	}

	amount = model.Round2(amount)
	if err := s.repo.Transfer(ctx, userID, model.CurrencyUSDT, model.CurrencyCW, amount, amount); err != nil {
		return nil, err
	}

	tx := &model.WalletTransaction{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     model.TransactionTransfer,
		Status:   model.TransactionCompleted,
		Currency: model.CurrencyUSDT,
		Amount:   amount,
		Fee:      decimal.Zero,
		Meta:     "usdt -> cw",
	}
	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transfer transaction: %w", err)
	}

	return tx, nil
}

// Swap обменивает средства между usdt и cw по текущему курсу.
func (s *Service) Swap(ctx context.Context, userID int64, from model.Currency, amount decimal.Decimal) (*model.WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: swap amount must be positive", ErrInvalidInput)
	}

	var to model.Currency
	switch from {
	case model.CurrencyUSDT:
		to = model.CurrencyCW
	case model.CurrencyCW:
		to = model.CurrencyUSDT
	default:
		return nil, fmt.Errorf("%w: unknown currency %q", ErrInvalidInput, from)
	}

	amount = model.Round2(amount)
	credited := model.Round2(amount.Mul(swapRate))

	if err := s.repo.Transfer(ctx, userID, from, to, amount, credited); err != nil {
		return nil, err
	}

	tx := &model.WalletTransaction{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     model.TransactionSwap,
		Status:   model.TransactionCompleted,
		Currency: from,
		Amount:   amount,
		Fee:      decimal.Zero,
		Meta:     fmt.Sprintf("%s -> %s", from, to),
	}
	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert swap transaction: %w", err)
	}

	return tx, nil
}
