// Package model содержит доменные сущности платформы bullbear.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency обозначает валюту кошелька.
type Currency string

const (
	CurrencyUSDT Currency = "usdt"
	CurrencyCW   Currency = "cw"
)

// MaxLevel — максимальный уровень пользователя в реферальной структуре.
const MaxLevel = 20

// Wallet содержит балансы пользователя по валютам.
type Wallet struct {
	USDT        decimal.Decimal
	CW          decimal.Decimal
	LastUpdated time.Time
}

// Premium описывает состояние премиум-статуса пользователя.
type Premium struct {
	Active      bool
	ActivatedAt *time.Time
	ExpiresAt   *time.Time
}

// Sales содержит накопительные счётчики продаж пользователя.
type Sales struct {
	Personal      decimal.Decimal
	DirectSponsor decimal.Decimal
	Group         decimal.Decimal
}

// User представляет участника реферальной структуры.
// ReferredBy равен nil только у корневого (компанейского) аккаунта.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	ReferredBy   *int64
	Level        int
	Premium      Premium
	Wallet       Wallet
	Sales        Sales
	CreatedAt    time.Time
}

// IsRoot сообщает, является ли пользователь корневым аккаунтом.
func (u *User) IsRoot() bool {
	return u.ReferredBy == nil
}

// LevelRate задаёт вес комиссии для поколения аплайна.
// Порядок элементов в конфигурации значим: последний активный уровень
// получает остаток пула после округления остальных долей.
type LevelRate struct {
	Level int             `json:"level"`
	Rate  decimal.Decimal `json:"rate"`
}

// CommissionConfig — версионированная конфигурация распределения комиссий.
// Всегда используется версия с максимальным номером; старые версии неизменяемы.
type CommissionConfig struct {
	ID                   int64
	Version              int64
	CommissionPercentage decimal.Decimal
	DirectCommissionRate decimal.Decimal
	LevelRates           []LevelRate
	CreatedAt            time.Time
}

// CommissionEntryType описывает тип записи в журнале комиссий.
type CommissionEntryType string

const (
	CommissionEntryDirect    CommissionEntryType = "direct"
	CommissionEntryLevel     CommissionEntryType = "level"
	CommissionEntryRoot      CommissionEntryType = "root"
	CommissionEntryUnclaimed CommissionEntryType = "unclaimed"
)

// CommissionEntryStatus описывает статус записи в журнале комиссий.
type CommissionEntryStatus string

const (
	CommissionStatusPaid                CommissionEntryStatus = "paid"
	CommissionStatusUnclaimed           CommissionEntryStatus = "unclaimed"
	CommissionStatusUnclaimedNoUser     CommissionEntryStatus = "unclaimed_no_user"
	CommissionStatusUnclaimedNoUpliners CommissionEntryStatus = "unclaimed_no_upliners"
	CommissionStatusUnclaimedProcessed  CommissionEntryStatus = "unclaimed_processed"
)

// CommissionEntry — неизменяемая запись аудита об одной ноге распределения.
type CommissionEntry struct {
	ID             uuid.UUID
	DistributionID uuid.UUID
	UserID         *int64
	Type           CommissionEntryType
	Status         CommissionEntryStatus
	Amount         decimal.Decimal
	SourceUserID   int64
	SourceRef      string
	Level          int
	Message        string
	CreatedAt      time.Time
}

// SubscriptionStatus описывает статус подписки.
type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// Subscription описывает подписку пользователя на продукт.
type Subscription struct {
	ID           int64
	UserID       int64
	ProductID    int64
	Status       SubscriptionStatus
	SubscribedAt time.Time
	ExpiresAt    time.Time
	AutoRenew    bool
}

// ProductKind описывает тип продукта каталога.
type ProductKind string

const (
	ProductSubscription ProductKind = "subscription"
	ProductPremium      ProductKind = "premium"
)

// Product — покупаемая позиция каталога. Движок использует только цену
// и длительность; управление каталогом лежит вне этого сервиса.
type Product struct {
	ID           int64
	Name         string
	Kind         ProductKind
	Price        decimal.Decimal
	DurationDays int
	Active       bool
}

// TransactionType описывает тип операции с кошельком.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionTransfer   TransactionType = "transfer"
	TransactionSwap       TransactionType = "swap"
	TransactionPurchase   TransactionType = "purchase"
)

// TransactionStatus описывает статус операции с кошельком.
// Переходы односторонние: pending -> completed или pending -> rejected,
// completed и rejected терминальны.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCancelled TransactionStatus = "cancelled"
	TransactionRejected  TransactionStatus = "rejected"
)

// WalletTransaction — запись об операции, затрагивающей кошелёк.
// Network и NetworkAddress обязательны только для вывода средств.
type WalletTransaction struct {
	ID             uuid.UUID
	UserID         int64
	Type           TransactionType
	Status         TransactionStatus
	Currency       Currency
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Network        string
	NetworkAddress string
	Meta           string
	CreatedAt      time.Time
}

// UplineUser — участник цепочки аплайна с данными, нужными для
// проверки права на комиссию.
type UplineUser struct {
	ID            int64
	Login         string
	ReferredBy    *int64
	Level         int
	PremiumActive bool
	Generation    int
}

// Upline — результат разрешения цепочки аплайна покупателя.
type Upline struct {
	Direct      *UplineUser
	Generations []UplineUser
	Root        UplineUser
}

// WalletCredit — зачисление одной ноги распределения на кошелёк получателя.
type WalletCredit struct {
	UserID   int64
	Currency Currency
	Amount   decimal.Decimal
}

// DistributionResult — итог распределения комиссии по одной покупке.
type DistributionResult struct {
	DistributionID   uuid.UUID
	TotalCommission  decimal.Decimal
	DirectCommission decimal.Decimal
	LevelCommission  decimal.Decimal
	TotalDistributed decimal.Decimal
	UnclaimedAmount  decimal.Decimal
	Entries          []CommissionEntry
}

// TreeNode — узел реферального поддерева для отображения.
type TreeNode struct {
	ID       int64           `json:"id"`
	Login    string          `json:"login"`
	ParentID *int64          `json:"parent_id"`
	Level    int             `json:"level"`
	Premium  bool            `json:"premium"`
	Personal decimal.Decimal `json:"personal_sales"`
	Direct   decimal.Decimal `json:"direct_sponsor_sales"`
	Group    decimal.Decimal `json:"group_sales"`
}

// TreeEdge — ребро родитель-ребёнок реферального поддерева.
type TreeEdge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// ReferralTree — материализованное поддерево рефералов пользователя.
type ReferralTree struct {
	Nodes []TreeNode `json:"nodes"`
	Edges []TreeEdge `json:"edges"`
}

// Balance — представление балансов пользователя для API.
type Balance struct {
	USDT decimal.Decimal `json:"usdt"`
	CW   decimal.Decimal `json:"cw"`
}
