package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tharshan2001/bullbear-system/internal/model"
	"github.com/tharshan2001/bullbear-system/internal/repository"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memRepo — потокобезопасная реализация Repository в памяти для тестов.
// Условное списание воспроизводит семантику атомарного UPDATE.
type memRepo struct {
	mu sync.Mutex

	users    map[int64]*model.User
	logins   map[string]int64
	configs  []model.CommissionConfig
	entries  []model.CommissionEntry
	products map[int64]*model.Product
	subs     map[int64]*model.Subscription
	txs      map[uuid.UUID]*model.WalletTransaction
	nextID   int64
	subSeq   int64

	failSalesFor  map[int64]bool
	failCreditFor map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:         make(map[int64]*model.User),
		logins:        make(map[string]int64),
		products:      make(map[int64]*model.Product),
		subs:          make(map[int64]*model.Subscription),
		txs:           make(map[uuid.UUID]*model.WalletTransaction),
		failSalesFor:  make(map[int64]bool),
		failCreditFor: make(map[int64]bool),
	}
}

// addUser добавляет пользователя; parent == 0 создаёт корневой аккаунт.
func (m *memRepo) addUser(login string, parent int64, level int, premium bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	u := &model.User{
		ID:    m.nextID,
		Login: login,
		Level: level,
		Premium: model.Premium{
			Active: premium,
		},
	}
	if parent != 0 {
		p := parent
		u.ReferredBy = &p
	}
	m.users[u.ID] = u
	m.logins[login] = u.ID
	return u.ID
}

func (m *memRepo) setBalance(userID int64, currency model.Currency, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch currency {
	case model.CurrencyUSDT:
		m.users[userID].Wallet.USDT = amount
	case model.CurrencyCW:
		m.users[userID].Wallet.CW = amount
	}
}

func (m *memRepo) balance(userID int64, currency model.Currency) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currency == model.CurrencyCW {
		return m.users[userID].Wallet.CW
	}
	return m.users[userID].Wallet.USDT
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, referredBy *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.logins[login]; exists {
		return 0, repository.ErrUserExists
	}

	m.nextID++
	u := &model.User{
		ID:           m.nextID,
		Login:        login,
		PasswordHash: passwordHash,
		ReferredBy:   referredBy,
	}
	m.users[u.ID] = u
	m.logins[login] = u.ID
	return u.ID, nil
}

func (m *memRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.logins[login]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *memRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) RaiseLevel(ctx context.Context, userID int64, maxLevel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[userID]; ok && u.Level < maxLevel {
		u.Level++
	}
	return nil
}

func (m *memRepo) SetPremium(ctx context.Context, userID int64, activatedAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Premium = model.Premium{Active: true, ActivatedAt: &activatedAt, ExpiresAt: &expiresAt}
	return nil
}

func (m *memRepo) ExpirePremium(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, u := range m.users {
		if u.Premium.Active && u.Premium.ExpiresAt != nil && u.Premium.ExpiresAt.Before(now) {
			u.Premium.Active = false
			n++
		}
	}
	return n, nil
}

func (m *memRepo) DebitIfSufficient(ctx context.Context, userID int64, currency model.Currency, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}

	if currency == model.CurrencyCW {
		if u.Wallet.CW.LessThan(amount) {
			return repository.ErrInsufficientFunds
		}
		u.Wallet.CW = u.Wallet.CW.Sub(amount)
	} else {
		if u.Wallet.USDT.LessThan(amount) {
			return repository.ErrInsufficientFunds
		}
		u.Wallet.USDT = u.Wallet.USDT.Sub(amount)
	}
	u.Wallet.LastUpdated = time.Now()
	return nil
}

func (m *memRepo) Transfer(ctx context.Context, userID int64, from, to model.Currency, debit, credit decimal.Decimal) error {
	if err := m.DebitIfSufficient(ctx, userID, from, debit); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.users[userID]
	if to == model.CurrencyCW {
		u.Wallet.CW = u.Wallet.CW.Add(credit)
	} else {
		u.Wallet.USDT = u.Wallet.USDT.Add(credit)
	}
	u.Wallet.LastUpdated = time.Now()
	return nil
}

func (m *memRepo) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &model.Balance{USDT: u.Wallet.USDT, CW: u.Wallet.CW}, nil
}

func (m *memRepo) GetReferralLink(ctx context.Context, userID int64) (*model.UplineUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &model.UplineUser{
		ID:            u.ID,
		Login:         u.Login,
		ReferredBy:    u.ReferredBy,
		Level:         u.Level,
		PremiumActive: u.Premium.Active,
	}, nil
}

func (m *memRepo) GetRootUser(ctx context.Context) (*model.UplineUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ReferredBy == nil {
			return &model.UplineUser{
				ID:            u.ID,
				Login:         u.Login,
				Level:         u.Level,
				PremiumActive: u.Premium.Active,
			}, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memRepo) GetDescendants(ctx context.Context, rootID int64) ([]model.TreeNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.users[rootID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	var nodes []model.TreeNode
	queue := []*model.User{root}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		nodes = append(nodes, model.TreeNode{
			ID:       u.ID,
			Login:    u.Login,
			ParentID: u.ReferredBy,
			Level:    u.Level,
			Premium:  u.Premium.Active,
			Personal: u.Sales.Personal,
			Direct:   u.Sales.DirectSponsor,
			Group:    u.Sales.Group,
		})

		for _, child := range m.users {
			if child.ReferredBy != nil && *child.ReferredBy == u.ID {
				queue = append(queue, child)
			}
		}
	}
	return nodes, nil
}

func (m *memRepo) AddSales(ctx context.Context, userID int64, field repository.SalesField, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSalesFor[userID] {
		return fmt.Errorf("storage unavailable")
	}

	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}

	switch field {
	case repository.SalesPersonal:
		u.Sales.Personal = u.Sales.Personal.Add(amount)
	case repository.SalesDirectSponsor:
		u.Sales.DirectSponsor = u.Sales.DirectSponsor.Add(amount)
	case repository.SalesGroup:
		u.Sales.Group = u.Sales.Group.Add(amount)
	}
	return nil
}

func (m *memRepo) addConfig(cfg *model.CommissionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs = append(m.configs, *cfg)
}

func (m *memRepo) GetLatestCommissionConfig(ctx context.Context) (*model.CommissionConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *model.CommissionConfig
	for i := range m.configs {
		if latest == nil || m.configs[i].Version > latest.Version {
			latest = &m.configs[i]
		}
	}
	if latest == nil {
		return nil, repository.ErrConfigMissing
	}
	cfg := *latest
	return &cfg, nil
}

// ApplyDistribution повторяет семантику транзакционного применения:
// сначала валидация всех зачислений, затем применение целиком либо никак.
func (m *memRepo) ApplyDistribution(ctx context.Context, credits []model.WalletCredit, entries []model.CommissionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range credits {
		if m.failCreditFor[c.UserID] {
			return fmt.Errorf("storage unavailable")
		}
		if _, ok := m.users[c.UserID]; !ok {
			return repository.ErrUserNotFound
		}
	}

	for _, c := range credits {
		u := m.users[c.UserID]
		if c.Currency == model.CurrencyCW {
			u.Wallet.CW = u.Wallet.CW.Add(c.Amount)
		} else {
			u.Wallet.USDT = u.Wallet.USDT.Add(c.Amount)
		}
		u.Wallet.LastUpdated = time.Now()
	}

	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memRepo) GetCommissionEntriesByUser(ctx context.Context, userID int64) ([]model.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.CommissionEntry
	for _, e := range m.entries {
		if e.UserID != nil && *e.UserID == userID {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *memRepo) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok || !p.Active {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) ListProducts(ctx context.Context) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Product
	for _, p := range m.products {
		if p.Active {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (m *memRepo) GetSubscription(ctx context.Context, userID, productID int64) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subs {
		if s.UserID == userID && s.ProductID == productID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSubscriptionNotFound
}

func (m *memRepo) CreateSubscription(ctx context.Context, sub *model.Subscription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subSeq++
	cp := *sub
	cp.ID = m.subSeq
	m.subs[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[sub.ID]; !ok {
		return repository.ErrSubscriptionNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memRepo) ListSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Subscription
	for _, s := range m.subs {
		if s.UserID == userID {
			res = append(res, *s)
		}
	}
	return res, nil
}

func (m *memRepo) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.subs {
		if s.Status == model.SubscriptionActive && s.ExpiresAt.Before(now) {
			s.Status = model.SubscriptionExpired
			n++
		}
	}
	return n, nil
}

func (m *memRepo) InsertTransaction(ctx context.Context, t *model.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.txs[cp.ID] = &cp
	return nil
}

func (m *memRepo) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, to model.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txs[id]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	if t.Status != model.TransactionPending {
		return repository.ErrTransactionState
	}
	t.Status = to
	return nil
}

func (m *memRepo) ListTransactionsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.WalletTransaction
	for _, t := range m.txs {
		if t.UserID == userID {
			res = append(res, *t)
		}
	}
	return res, nil
}

// stubNotifier запоминает отправленные уведомления.
type stubNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *stubNotifier) Send(ctx context.Context, userID int64, message, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, fmt.Sprintf("%d:%s", userID, kind))
	return nil
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterUser_AttachesToRootWithoutCode(t *testing.T) {
	repo := newMemRepo()
	rootID := repo.addUser("company", 0, 20, true)

	svc := NewService(repo, nil, nil)

	id, err := svc.RegisterUser(context.Background(), "alice", "pass", "")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}

	u, err := repo.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUserByID error: %v", err)
	}
	if u.ReferredBy == nil || *u.ReferredBy != rootID {
		t.Fatalf("new user must be attached to root, got %v", u.ReferredBy)
	}
}

func TestRegisterUser_RaisesSponsorLevel(t *testing.T) {
	repo := newMemRepo()
	repo.addUser("company", 0, 20, true)
	sponsorID := repo.addUser("sponsor", 1, 3, true)

	svc := NewService(repo, nil, nil)

	if _, err := svc.RegisterUser(context.Background(), "bob", "pass", "sponsor"); err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}

	sponsor, _ := repo.GetUserByID(context.Background(), sponsorID)
	if sponsor.Level != 4 {
		t.Fatalf("sponsor level = %d, want 4", sponsor.Level)
	}
}

func TestRegisterUser_UnknownReferralCode(t *testing.T) {
	repo := newMemRepo()
	repo.addUser("company", 0, 20, true)

	svc := NewService(repo, nil, nil)

	_, err := svc.RegisterUser(context.Background(), "bob", "pass", "nobody")
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	repo := newMemRepo()
	repo.addUser("company", 0, 20, true)

	svc := NewService(repo, nil, nil)

	if _, err := svc.RegisterUser(context.Background(), "user", "correct", ""); err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}

	if _, err := svc.AuthenticateUser(context.Background(), "user", "correct"); err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
