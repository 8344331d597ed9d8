package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// currencyColumn сопоставляет валюту с колонкой таблицы users.
// Имя колонки подставляется в SQL, поэтому проверка здесь обязательна.
func currencyColumn(c model.Currency) (string, error) {
	switch c {
	case model.CurrencyUSDT:
		return "usdt", nil
	case model.CurrencyCW:
		return "cw", nil
	default:
		return "", fmt.Errorf("unknown currency %q", c)
	}
}

// DebitIfSufficient атомарно проверяет достаточность средств и списывает сумму.
// Проверка и списание выполняются одним UPDATE, поэтому параллельные списания
// с одного счёта не могут увести баланс в минус.
func (r *PostgresRepository) DebitIfSufficient(ctx context.Context, userID int64, currency model.Currency, amount decimal.Decimal) error {
	col, err := currencyColumn(currency)
	if err != nil {
		return err
	}

	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE users
			 SET `+col+` = `+col+` - $2::numeric, wallet_updated_at = now()
			 WHERE id = $1 AND `+col+` >= $2::numeric`,
			userID, amount.StringFixed(2),
		)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}
		if cmdTag.RowsAffected() == 1 {
			return nil
		}

		// UPDATE не затронул строк: либо пользователя нет, либо не хватило средств.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return ErrUserNotFound
		}
		return ErrInsufficientFunds
	})
}

// Transfer переводит сумму между валютами одного пользователя.
// Списание выполняется первым и является единственной ногой, которая может
// не пройти; зачисление внутри той же транзакции БД.
func (r *PostgresRepository) Transfer(ctx context.Context, userID int64, from, to model.Currency, debit, credit decimal.Decimal) error {
	fromCol, err := currencyColumn(from)
	if err != nil {
		return err
	}
	toCol, err := currencyColumn(to)
	if err != nil {
		return err
	}
	if fromCol == toCol {
		return fmt.Errorf("transfer to the same currency %q", from)
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE users
			 SET `+fromCol+` = `+fromCol+` - $2::numeric, wallet_updated_at = now()
			 WHERE id = $1 AND `+fromCol+` >= $2::numeric`,
			userID, debit.StringFixed(2),
		)
		if err != nil {
			return fmt.Errorf("transfer debit: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check user exists: %w", err)
			}
			if !exists {
				return ErrUserNotFound
			}
			return ErrInsufficientFunds
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users
			 SET `+toCol+` = `+toCol+` + $2::numeric, wallet_updated_at = now()
			 WHERE id = $1`,
			userID, credit.StringFixed(2),
		); err != nil {
			return fmt.Errorf("transfer credit: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetBalance возвращает балансы пользователя по обеим валютам.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	var usdt, cw string
	err := r.pool.QueryRow(ctx,
		`SELECT usdt::text, cw::text FROM users WHERE id = $1`,
		userID,
	).Scan(&usdt, &cw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}

	b := &model.Balance{}
	if b.USDT, err = scanDecimal(usdt); err != nil {
		return nil, err
	}
	if b.CW, err = scanDecimal(cw); err != nil {
		return nil, err
	}
	return b, nil
}
