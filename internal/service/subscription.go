package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tharshan2001/bullbear-system/internal/model"
	"github.com/tharshan2001/bullbear-system/internal/repository"
)

// PurchaseSubscription покупает или продлевает подписку на продукт.
//
// Оплата списывается условной операцией, после чего запускаются агрегатор
// продаж и распределение комиссии. Если распределение не удалось, покупка
// не откатывается: покупатель остаётся с оплаченной подпиской, ошибка
// возвращается и логируется для расследования.
func (s *Service) PurchaseSubscription(ctx context.Context, userID, productID int64) (*model.Subscription, *model.DistributionResult, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	if product.Kind != model.ProductSubscription {
		return nil, nil, fmt.Errorf("%w: product %d is not a subscription", ErrInvalidInput, productID)
	}

	existing, err := s.repo.GetSubscription(ctx, userID, productID)
	if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, nil, err
	}
	if existing != nil && existing.Status == model.SubscriptionPending {
		return nil, nil, fmt.Errorf("%w: subscription is awaiting activation", ErrSubscriptionState)
	}

	txID, err := s.payForProduct(ctx, userID, product)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	duration := time.Duration(product.DurationDays) * 24 * time.Hour

	var sub *model.Subscription
	switch {
	case existing == nil:
		sub = &model.Subscription{
			UserID:       userID,
			ProductID:    productID,
			Status:       model.SubscriptionPending,
			SubscribedAt: now,
			ExpiresAt:    now.Add(duration),
		}
		id, err := s.repo.CreateSubscription(ctx, sub)
		if err != nil {
			return nil, nil, err
		}
		sub.ID = id

	case existing.Status == model.SubscriptionActive:
		// Продление активной подписки: срок растёт от текущей даты окончания.
		sub = existing
		if sub.ExpiresAt.Before(now) {
			sub.ExpiresAt = now
		}
		sub.ExpiresAt = sub.ExpiresAt.Add(duration)
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return nil, nil, err
		}

	default:
		// Повторная покупка после expired/inactive возвращает подписку
		// в pending со сброшенными датами.
		sub = existing
		sub.Status = model.SubscriptionPending
		sub.SubscribedAt = now
		sub.ExpiresAt = now.Add(duration)
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return nil, nil, err
		}
	}

	result, err := s.settlePurchase(ctx, userID, product, txID)
	if err != nil {
		return sub, nil, err
	}

	return sub, result, nil
}

// UpgradePremium включает или продлевает премиум-статус пользователя.
func (s *Service) UpgradePremium(ctx context.Context, userID, productID int64) (*model.DistributionResult, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Kind != model.ProductPremium {
		return nil, fmt.Errorf("%w: product %d is not a premium upgrade", ErrInvalidInput, productID)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	txID, err := s.payForProduct(ctx, userID, product)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	base := now
	if user.Premium.Active && user.Premium.ExpiresAt != nil && user.Premium.ExpiresAt.After(now) {
		base = *user.Premium.ExpiresAt
	}
	expiresAt := base.Add(time.Duration(product.DurationDays) * 24 * time.Hour)

	if err := s.repo.SetPremium(ctx, userID, now, expiresAt); err != nil {
		return nil, err
	}

	return s.settlePurchase(ctx, userID, product, txID)
}

// GetSubscriptionsByUser возвращает подписки пользователя.
func (s *Service) GetSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	return s.repo.ListSubscriptionsByUser(ctx, userID)
}

// payForProduct списывает цену продукта с usdt-кошелька покупателя.
// Операция записывается как pending и помечается completed после списания;
// отказ списания помечает её rejected.
func (s *Service) payForProduct(ctx context.Context, userID int64, product *model.Product) (uuid.UUID, error) {
	tx := &model.WalletTransaction{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     model.TransactionPurchase,
		Status:   model.TransactionPending,
		Currency: model.CurrencyUSDT,
		Amount:   product.Price,
		Meta:     product.Name,
	}
	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return uuid.Nil, fmt.Errorf("insert purchase transaction: %w", err)
	}

	if err := s.repo.DebitIfSufficient(ctx, userID, model.CurrencyUSDT, product.Price); err != nil {
		if stErr := s.repo.UpdateTransactionStatus(ctx, tx.ID, model.TransactionRejected); stErr != nil {
			s.logger.Warn("mark purchase rejected failed",
				zap.String("txID", tx.ID.String()), zap.Error(stErr))
		}
		return uuid.Nil, err
	}

	if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, model.TransactionCompleted); err != nil {
		return uuid.Nil, fmt.Errorf("mark purchase completed: %w", err)
	}

	return tx.ID, nil
}

// settlePurchase запускает учёт продаж и распределение комиссии после оплаты.
func (s *Service) settlePurchase(ctx context.Context, userID int64, product *model.Product, txID uuid.UUID) (*model.DistributionResult, error) {
	if err := s.RecordSale(ctx, userID, product.Price); err != nil {
		return nil, fmt.Errorf("record sale: %w", err)
	}

	result, err := s.Distribute(ctx, userID, product.Price, txID.String())
	if err != nil {
		// Покупка уже оплачена; см. журнал комиссий по source_ref для разбора.
		s.logger.Error("commission distribution failed",
			zap.Int64("buyerID", userID),
			zap.String("sourceRef", txID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("distribute commission: %w", err)
	}

	return result, nil
}
