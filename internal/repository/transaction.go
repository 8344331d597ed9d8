package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// InsertTransaction сохраняет запись об операции с кошельком.
func (r *PostgresRepository) InsertTransaction(ctx context.Context, t *model.WalletTransaction) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallet_transactions
		 (id, user_id, tx_type, status, currency, amount, fee, network, network_address, meta)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10)`,
		t.ID, t.UserID, string(t.Type), string(t.Status), string(t.Currency),
		t.Amount.StringFixed(2), t.Fee.StringFixed(2), t.Network, t.NetworkAddress, t.Meta,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransactionStatus переводит операцию из pending в терминальный статус.
// Переход выполняется условным UPDATE: уже завершённую операцию изменить нельзя.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, to model.TransactionStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE wallet_transactions SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(to), string(model.TransactionPending),
	)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		// UPDATE не затронул строк: либо операции нет, либо она уже терминальна.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM wallet_transactions WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check transaction exists: %w", err)
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrTransactionState
	}
	return nil
}

// ListTransactionsByUser возвращает историю операций пользователя.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, tx_type, status, currency, amount::text, fee::text,
		        network, network_address, meta, created_at
		 FROM wallet_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		var t model.WalletTransaction
		var txType, status, currency, amount, fee string

		if err := rows.Scan(&t.ID, &t.UserID, &txType, &status, &currency, &amount, &fee,
			&t.Network, &t.NetworkAddress, &t.Meta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		t.Type = model.TransactionType(txType)
		t.Status = model.TransactionStatus(status)
		t.Currency = model.Currency(currency)
		if t.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		if t.Fee, err = scanDecimal(fee); err != nil {
			return nil, err
		}

		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
