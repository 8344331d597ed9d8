// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/tharshan2001/bullbear-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientFunds возвращается, если условное списание не прошло проверку баланса.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConfigMissing возвращается, если в хранилище нет ни одной конфигурации комиссий.
	ErrConfigMissing = errors.New("commission config missing")
	// ErrProductNotFound возвращается, если продукт не найден или неактивен.
	ErrProductNotFound = errors.New("product not found")
	// ErrSubscriptionNotFound возвращается, если подписка не найдена.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrTransactionState возвращается при недопустимом переходе статуса операции.
	ErrTransactionState = errors.New("invalid transaction status transition")
	// ErrTransactionNotFound возвращается, если операция с кошельком не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при дедлоках, сбоях сериализации и сетевых обрывах.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// scanDecimal разбирает NUMERIC, полученный из БД текстом.
func scanDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

const userColumns = `id, login, password_hash, referred_by, level,
	premium_active, premium_activated_at, premium_expires_at,
	usdt::text, cw::text, wallet_updated_at,
	personal_sales::text, direct_sponsor_sales::text, group_sales::text,
	created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var usdt, cw string
	var personal, direct, group string

	err := row.Scan(
		&u.ID, &u.Login, &u.PasswordHash, &u.ReferredBy, &u.Level,
		&u.Premium.Active, &u.Premium.ActivatedAt, &u.Premium.ExpiresAt,
		&usdt, &cw, &u.Wallet.LastUpdated,
		&personal, &direct, &group,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if u.Wallet.USDT, err = scanDecimal(usdt); err != nil {
		return nil, err
	}
	if u.Wallet.CW, err = scanDecimal(cw); err != nil {
		return nil, err
	}
	if u.Sales.Personal, err = scanDecimal(personal); err != nil {
		return nil, err
	}
	if u.Sales.DirectSponsor, err = scanDecimal(direct); err != nil {
		return nil, err
	}
	if u.Sales.Group, err = scanDecimal(group); err != nil {
		return nil, err
	}

	return &u, nil
}

// CreateUser создаёт нового пользователя под указанным спонсором.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, referredBy *int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, referred_by) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, referredBy,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// RaiseLevel повышает уровень пользователя на единицу, не превышая максимум.
func (r *PostgresRepository) RaiseLevel(ctx context.Context, userID int64, maxLevel int) error {
	// Достигнутый максимум не считается ошибкой: запрос просто не меняет строку.
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET level = level + 1 WHERE id = $1 AND level < $2`,
		userID, maxLevel,
	)
	if err != nil {
		return fmt.Errorf("raise level: %w", err)
	}
	return nil
}

// SetPremium включает премиум-статус пользователя с указанными датами.
func (r *PostgresRepository) SetPremium(ctx context.Context, userID int64, activatedAt, expiresAt time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET premium_active = TRUE, premium_activated_at = $2, premium_expires_at = $3
		 WHERE id = $1`,
		userID, activatedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ExpirePremium снимает премиум-статус у пользователей с истёкшим сроком.
func (r *PostgresRepository) ExpirePremium(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET premium_active = FALSE
		 WHERE premium_active = TRUE AND premium_expires_at IS NOT NULL AND premium_expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire premium: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
