package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// GetLatestCommissionConfig возвращает конфигурацию комиссий с максимальным
// номером версии. Версия — явное монотонное поле, а не порядок вставки.
func (r *PostgresRepository) GetLatestCommissionConfig(ctx context.Context) (*model.CommissionConfig, error) {
	var cfg model.CommissionConfig
	var pct, direct string
	var ratesJSON []byte

	err := r.pool.QueryRow(ctx,
		`SELECT id, version, commission_percentage::text, direct_commission_rate::text, level_rates, created_at
		 FROM commission_configs
		 ORDER BY version DESC
		 LIMIT 1`,
	).Scan(&cfg.ID, &cfg.Version, &pct, &direct, &ratesJSON, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigMissing
		}
		return nil, fmt.Errorf("get commission config: %w", err)
	}

	if cfg.CommissionPercentage, err = scanDecimal(pct); err != nil {
		return nil, err
	}
	if cfg.DirectCommissionRate, err = scanDecimal(direct); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ratesJSON, &cfg.LevelRates); err != nil {
		return nil, fmt.Errorf("unmarshal level rates: %w", err)
	}

	return &cfg, nil
}

// ApplyDistribution атомарно применяет распределение комиссии: все зачисления
// и все записи журнала в одной транзакции БД. Либо каждое зачисление видно
// вместе с объясняющей его записью, либо не происходит ничего.
// Журнал только дописывается; записи после вставки не изменяются.
func (r *PostgresRepository) ApplyDistribution(ctx context.Context, credits []model.WalletCredit, entries []model.CommissionEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, c := range credits {
			col, err := currencyColumn(c.Currency)
			if err != nil {
				return err
			}
			cmdTag, err := tx.Exec(ctx,
				`UPDATE users
				 SET `+col+` = `+col+` + $2::numeric, wallet_updated_at = now()
				 WHERE id = $1`,
				c.UserID, c.Amount.StringFixed(2),
			)
			if err != nil {
				return fmt.Errorf("credit commission: %w", err)
			}
			if cmdTag.RowsAffected() == 0 {
				return ErrUserNotFound
			}
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(
				`INSERT INTO commission_entries
				 (id, distribution_id, user_id, entry_type, status, amount, source_user_id, source_ref, level_gen, message)
				 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)`,
				e.ID, e.DistributionID, e.UserID, string(e.Type), string(e.Status),
				e.Amount.StringFixed(2), e.SourceUserID, e.SourceRef, e.Level, e.Message,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert commission entry: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetCommissionEntriesByUser возвращает записи журнала комиссий пользователя.
func (r *PostgresRepository) GetCommissionEntriesByUser(ctx context.Context, userID int64) ([]model.CommissionEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, distribution_id, user_id, entry_type, status, amount::text,
		        source_user_id, source_ref, level_gen, message, created_at
		 FROM commission_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select commission entries: %w", err)
	}
	defer rows.Close()

	var res []model.CommissionEntry
	for rows.Next() {
		var e model.CommissionEntry
		var entryType, status, amount string
		var createdAt time.Time

		if err := rows.Scan(&e.ID, &e.DistributionID, &e.UserID, &entryType, &status, &amount,
			&e.SourceUserID, &e.SourceRef, &e.Level, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan commission entry: %w", err)
		}

		e.Type = model.CommissionEntryType(entryType)
		e.Status = model.CommissionEntryStatus(status)
		e.CreatedAt = createdAt
		if e.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}

		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
