package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

// GetReferralLink возвращает данные одного узла реферальной цепочки.
// Точечное чтение для шага обхода аплайна.
func (r *PostgresRepository) GetReferralLink(ctx context.Context, userID int64) (*model.UplineUser, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, referred_by, level, premium_active FROM users WHERE id = $1`,
		userID,
	)
	return scanUplineUser(row)
}

// GetRootUser возвращает корневой аккаунт — единственного пользователя без спонсора.
func (r *PostgresRepository) GetRootUser(ctx context.Context) (*model.UplineUser, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, referred_by, level, premium_active FROM users WHERE referred_by IS NULL`,
	)
	return scanUplineUser(row)
}

func scanUplineUser(row pgx.Row) (*model.UplineUser, error) {
	var u model.UplineUser
	err := row.Scan(&u.ID, &u.Login, &u.ReferredBy, &u.Level, &u.PremiumActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan referral link: %w", err)
	}
	return &u, nil
}

// GetDescendants возвращает поддерево рефералов пользователя, включая его самого.
// Обход в сторону потомков выполняется рекурсивным CTE, в отличие от
// пошагового подъёма по аплайну.
func (r *PostgresRepository) GetDescendants(ctx context.Context, rootID int64) ([]model.TreeNode, error) {
	rows, err := r.pool.Query(ctx,
		`WITH RECURSIVE subtree AS (
			SELECT id, login, referred_by, level, premium_active,
			       personal_sales, direct_sponsor_sales, group_sales
			FROM users WHERE id = $1
			UNION ALL
			SELECT u.id, u.login, u.referred_by, u.level, u.premium_active,
			       u.personal_sales, u.direct_sponsor_sales, u.group_sales
			FROM users u
			JOIN subtree s ON u.referred_by = s.id
		)
		SELECT id, login, referred_by, level, premium_active,
		       personal_sales::text, direct_sponsor_sales::text, group_sales::text
		FROM subtree`,
		rootID,
	)
	if err != nil {
		return nil, fmt.Errorf("select descendants: %w", err)
	}
	defer rows.Close()

	var nodes []model.TreeNode
	for rows.Next() {
		var n model.TreeNode
		var personal, direct, group string

		if err := rows.Scan(&n.ID, &n.Login, &n.ParentID, &n.Level, &n.Premium, &personal, &direct, &group); err != nil {
			return nil, fmt.Errorf("scan descendant: %w", err)
		}
		if n.Personal, err = scanDecimal(personal); err != nil {
			return nil, err
		}
		if n.Direct, err = scanDecimal(direct); err != nil {
			return nil, err
		}
		if n.Group, err = scanDecimal(group); err != nil {
			return nil, err
		}

		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(nodes) == 0 {
		return nil, ErrUserNotFound
	}

	return nodes, nil
}

// SalesField обозначает счётчик продаж, увеличиваемый агрегатором.
type SalesField string

const (
	SalesPersonal      SalesField = "personal_sales"
	SalesDirectSponsor SalesField = "direct_sponsor_sales"
	SalesGroup         SalesField = "group_sales"
)

// AddSales увеличивает указанный счётчик продаж пользователя.
func (r *PostgresRepository) AddSales(ctx context.Context, userID int64, field SalesField, amount decimal.Decimal) error {
	var col string
	switch field {
	case SalesPersonal, SalesDirectSponsor, SalesGroup:
		col = string(field)
	default:
		return fmt.Errorf("unknown sales field %q", field)
	}

	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE users SET `+col+` = `+col+` + $2::numeric WHERE id = $1`,
			userID, amount.StringFixed(2),
		)
		if err != nil {
			return fmt.Errorf("add sales: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
