package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tharshan2001/bullbear-system/internal/repository"
)

// RecordSale фиксирует завершённую покупку в счётчиках продаж:
// личные продажи — у покупателя, продажи прямого спонсора — у поколения 0,
// групповые — у всех остальных предков по цепочке.
//
// Ошибка на любом шаге возвращается вызывающему: молчаливая потеря
// исказила бы показатели, по которым пользователи судят о праве на комиссию.
func (s *Service) RecordSale(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: sale amount must be positive", ErrInvalidInput)
	}

	if err := s.repo.AddSales(ctx, userID, repository.SalesPersonal, amount); err != nil {
		return fmt.Errorf("record personal sales: %w", err)
	}

	chain, err := s.resolveChain(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve sales chain: %w", err)
	}

	for _, ancestor := range chain {
		field := repository.SalesGroup
		if ancestor.Generation == 0 {
			field = repository.SalesDirectSponsor
		}

		if err := s.repo.AddSales(ctx, ancestor.ID, field, amount); err != nil {
			return fmt.Errorf("record sales for user %d: %w", ancestor.ID, err)
		}
	}

	return nil
}
