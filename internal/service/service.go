// Package service реализует бизнес-логику платформы bullbear:
// реферальные комиссии, кошельки, подписки и премиум-статус.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tharshan2001/bullbear-system/internal/model"
	"github.com/tharshan2001/bullbear-system/internal/repository"
)

// ErrInvalidInput возвращается при некорректных входных данных операции.
var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrReconciliationMismatch сигнализирует о расхождении сумм распределения.
	// Это внутренний дефект: распределение считается неуспешным целиком.
	ErrReconciliationMismatch = errors.New("commission reconciliation mismatch")
	// ErrSubscriptionState возвращается при недопустимом переходе состояния подписки.
	ErrSubscriptionState = errors.New("invalid subscription state")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, referredBy *int64) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	RaiseLevel(ctx context.Context, userID int64, maxLevel int) error
	SetPremium(ctx context.Context, userID int64, activatedAt, expiresAt time.Time) error
	ExpirePremium(ctx context.Context, now time.Time) (int64, error)

	DebitIfSufficient(ctx context.Context, userID int64, currency model.Currency, amount decimal.Decimal) error
	Transfer(ctx context.Context, userID int64, from, to model.Currency, debit, credit decimal.Decimal) error
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)

	GetReferralLink(ctx context.Context, userID int64) (*model.UplineUser, error)
	GetRootUser(ctx context.Context) (*model.UplineUser, error)
	GetDescendants(ctx context.Context, rootID int64) ([]model.TreeNode, error)
	AddSales(ctx context.Context, userID int64, field repository.SalesField, amount decimal.Decimal) error

	GetLatestCommissionConfig(ctx context.Context) (*model.CommissionConfig, error)
	ApplyDistribution(ctx context.Context, credits []model.WalletCredit, entries []model.CommissionEntry) error
	GetCommissionEntriesByUser(ctx context.Context, userID int64) ([]model.CommissionEntry, error)

	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetSubscription(ctx context.Context, userID, productID int64) (*model.Subscription, error)
	CreateSubscription(ctx context.Context, sub *model.Subscription) (int64, error)
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	ListSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)

	InsertTransaction(ctx context.Context, t *model.WalletTransaction) error
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, to model.TransactionStatus) error
	ListTransactionsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
}

// NotificationSink получает события "пользователю начислено/списано".
// Доставка — fire-and-forget: ошибки отправки не влияют на операцию.
type NotificationSink interface {
	Send(ctx context.Context, userID int64, message, kind string) error
}

// Service содержит бизнес-логику платформы bullbear.
type Service struct {
	repo     Repository
	notifier NotificationSink
	logger   *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и каналом уведомлений.
func NewService(repo Repository, notifier NotificationSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя под спонсором из реферального кода.
// Без кода пользователь прикрепляется к корневому аккаунту, чтобы реферальный
// граф оставался деревом с единственным корнем. Уровень спонсора повышается
// на единицу вплоть до максимума.
func (s *Service) RegisterUser(ctx context.Context, login, password, referralCode string) (int64, error) {
	if login == "" || password == "" {
		return 0, ErrInvalidInput
	}

	var sponsorID int64
	if referralCode == "" {
		root, err := s.repo.GetRootUser(ctx)
		if err != nil {
			return 0, err
		}
		sponsorID = root.ID
	} else {
		sponsor, err := s.repo.GetUserByLogin(ctx, referralCode)
		if err != nil {
			return 0, err
		}
		sponsorID = sponsor.ID
	}

	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, &sponsorID)
	if err != nil {
		return 0, err
	}

	if err := s.repo.RaiseLevel(ctx, sponsorID, model.MaxLevel); err != nil {
		// Пользователь уже создан; повышение уровня не должно ломать регистрацию.
		s.logger.Warn("raise sponsor level failed",
			zap.Int64("sponsorID", sponsorID), zap.Error(err))
	}

	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetProducts возвращает активные продукты каталога.
func (s *Service) GetProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}

// GetCommissionsByUser возвращает историю комиссионных начислений пользователя.
func (s *Service) GetCommissionsByUser(ctx context.Context, userID int64) ([]model.CommissionEntry, error) {
	return s.repo.GetCommissionEntriesByUser(ctx, userID)
}

// GetTransactionsByUser возвращает историю операций пользователя.
func (s *Service) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID)
}

// notify отправляет уведомление, если канал настроен. Ошибки только логируются.
func (s *Service) notify(ctx context.Context, userID int64, message, kind string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, userID, message, kind); err != nil {
		s.logger.Warn("send notification failed",
			zap.Int64("userID", userID), zap.String("kind", kind), zap.Error(err))
	}
}

// StartExpiryWorker запускает фоновый процесс, снимающий просроченный
// премиум-статус и переводящий просроченные подписки в expired.
func (s *Service) StartExpiryWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processExpiry(ctx)
			}
		}
	}()
}

func (s *Service) processExpiry(ctx context.Context) {
	now := time.Now()

	if n, err := s.repo.ExpirePremium(ctx, now); err != nil {
		s.logger.Error("expire premium failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("premium expired", zap.Int64("users", n))
	}

	if n, err := s.repo.ExpireSubscriptions(ctx, now); err != nil {
		s.logger.Error("expire subscriptions failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("subscriptions expired", zap.Int64("subscriptions", n))
	}
}
