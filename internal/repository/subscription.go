package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// GetProduct возвращает активный продукт каталога по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	var kind, price string

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, kind, price::text, duration_days, active
		 FROM products WHERE id = $1 AND active = TRUE`,
		id,
	).Scan(&p.ID, &p.Name, &kind, &price, &p.DurationDays, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	p.Kind = model.ProductKind(kind)
	if p.Price, err = scanDecimal(price); err != nil {
		return nil, err
	}

	return &p, nil
}

// ListProducts возвращает все активные продукты каталога.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, kind, price::text, duration_days, active
		 FROM products WHERE active = TRUE ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		var kind, price string

		if err := rows.Scan(&p.ID, &p.Name, &kind, &price, &p.DurationDays, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Kind = model.ProductKind(kind)
		if p.Price, err = scanDecimal(price); err != nil {
			return nil, err
		}

		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetSubscription возвращает подписку пользователя на продукт.
func (r *PostgresRepository) GetSubscription(ctx context.Context, userID, productID int64) (*model.Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, product_id, status, subscribed_at, expires_at, auto_renew
		 FROM subscriptions WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	return scanSubscription(row)
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	var status string

	err := row.Scan(&s.ID, &s.UserID, &s.ProductID, &status, &s.SubscribedAt, &s.ExpiresAt, &s.AutoRenew)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

// CreateSubscription создаёт подписку пользователя на продукт.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *model.Subscription) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (user_id, product_id, status, subscribed_at, expires_at, auto_renew)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		sub.UserID, sub.ProductID, string(sub.Status), sub.SubscribedAt, sub.ExpiresAt, sub.AutoRenew,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	return id, nil
}

// UpdateSubscription обновляет статус и даты подписки.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $2, subscribed_at = $3, expires_at = $4, auto_renew = $5
		 WHERE id = $1`,
		sub.ID, string(sub.Status), sub.SubscribedAt, sub.ExpiresAt, sub.AutoRenew,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptionsByUser возвращает подписки пользователя.
func (r *PostgresRepository) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, product_id, status, subscribed_at, expires_at, auto_renew
		 FROM subscriptions WHERE user_id = $1 ORDER BY subscribed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	var res []model.Subscription
	for rows.Next() {
		var s model.Subscription
		var status string

		if err := rows.Scan(&s.ID, &s.UserID, &s.ProductID, &status, &s.SubscribedAt, &s.ExpiresAt, &s.AutoRenew); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		s.Status = model.SubscriptionStatus(status)

		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireSubscriptions переводит просроченные активные подписки в статус expired.
func (r *PostgresRepository) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET status = $2 WHERE status = $1 AND expires_at < $3`,
		string(model.SubscriptionActive), string(model.SubscriptionExpired), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
