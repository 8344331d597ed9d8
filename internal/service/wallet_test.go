package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tharshan2001/bullbear-system/internal/model"
	"github.com/tharshan2001/bullbear-system/internal/repository"
)

const testTronAddress = "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8"

func TestRequestWithdrawal_DebitsAmountWithFee(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	repo.setBalance(userID, model.CurrencyUSDT, dec("200"))

	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, nil)

	tx, err := svc.RequestWithdrawal(context.Background(), userID, dec("100"), "trc20", testTronAddress)
	if err != nil {
		t.Fatalf("RequestWithdrawal error: %v", err)
	}

	if !tx.Amount.Equal(dec("100")) {
		t.Fatalf("tx amount = %s, want 100", tx.Amount)
	}
	if !tx.Fee.Equal(dec("5")) {
		t.Fatalf("tx fee = %s, want 5", tx.Fee)
	}
	if tx.Status != model.TransactionPending {
		t.Fatalf("tx status = %s, want pending", tx.Status)
	}

	if got := repo.balance(userID, model.CurrencyUSDT); !got.Equal(dec("95")) {
		t.Fatalf("balance = %s, want 95", got)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.events))
	}
}

func TestRequestWithdrawal_FeeHeadroomRequired(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	// Хватает на сумму, но не на сумму вместе с комиссией.
	repo.setBalance(userID, model.CurrencyUSDT, dec("104.99"))

	svc := NewService(repo, nil, nil)

	_, err := svc.RequestWithdrawal(context.Background(), userID, dec("100"), "trc20", testTronAddress)
	if !errors.Is(err, repository.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Отказ не должен оставлять частичных списаний и заявок.
	if got := repo.balance(userID, model.CurrencyUSDT); !got.Equal(dec("104.99")) {
		t.Fatalf("balance = %s, want untouched 104.99", got)
	}
	txs, _ := repo.ListTransactionsByUser(context.Background(), userID)
	if len(txs) != 0 {
		t.Fatalf("transactions = %d, want 0", len(txs))
	}
}

func TestRequestWithdrawal_InvalidAddress(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	repo.setBalance(userID, model.CurrencyUSDT, dec("1000"))

	svc := NewService(repo, nil, nil)

	_, err := svc.RequestWithdrawal(context.Background(), userID, dec("100"), "trc20", "not-an-address")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRequestWithdrawal_ConcurrentSpend(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	// Баланса хватает ровно на одну заявку с комиссией.
	repo.setBalance(userID, model.CurrencyUSDT, dec("105"))

	svc := NewService(repo, nil, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.RequestWithdrawal(context.Background(), userID, dec("100"), "trc20", testTronAddress)
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if ok != 1 || insufficient != 1 {
		t.Fatalf("got %d successes and %d rejections, want exactly one of each", ok, insufficient)
	}
	if got := repo.balance(userID, model.CurrencyUSDT); !got.IsZero() {
		t.Fatalf("balance = %s, want 0", got)
	}
}

func TestTransferToCW(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	repo.setBalance(userID, model.CurrencyUSDT, dec("50"))

	svc := NewService(repo, nil, nil)

	tx, err := svc.TransferToCW(context.Background(), userID, dec("30"))
	if err != nil {
		t.Fatalf("TransferToCW error: %v", err)
	}
	if tx.Status != model.TransactionCompleted {
		t.Fatalf("tx status = %s, want completed", tx.Status)
	}

	if got := repo.balance(userID, model.CurrencyUSDT); !got.Equal(dec("20")) {
		t.Fatalf("usdt balance = %s, want 20", got)
	}
	if got := repo.balance(userID, model.CurrencyCW); !got.Equal(dec("30")) {
		t.Fatalf("cw balance = %s, want 30", got)
	}
}

func TestTransferToCW_InsufficientFunds(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	repo.setBalance(userID, model.CurrencyUSDT, dec("10"))

	svc := NewService(repo, nil, nil)

	_, err := svc.TransferToCW(context.Background(), userID, dec("30"))
	if !errors.Is(err, repository.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := repo.balance(userID, model.CurrencyCW); !got.IsZero() {
		t.Fatalf("cw balance = %s, want 0", got)
	}
}

func TestSwap_BothDirections(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)
	repo.setBalance(userID, model.CurrencyUSDT, dec("40"))
	repo.setBalance(userID, model.CurrencyCW, dec("15"))

	svc := NewService(repo, nil, nil)

	if _, err := svc.Swap(context.Background(), userID, model.CurrencyUSDT, dec("10")); err != nil {
		t.Fatalf("Swap usdt->cw error: %v", err)
	}
	if _, err := svc.Swap(context.Background(), userID, model.CurrencyCW, dec("5")); err != nil {
		t.Fatalf("Swap cw->usdt error: %v", err)
	}

	if got := repo.balance(userID, model.CurrencyUSDT); !got.Equal(dec("35")) {
		t.Fatalf("usdt balance = %s, want 35", got)
	}
	if got := repo.balance(userID, model.CurrencyCW); !got.Equal(dec("20")) {
		t.Fatalf("cw balance = %s, want 20", got)
	}
}

func TestSwap_UnknownCurrency(t *testing.T) {
	repo := newMemRepo()
	userID := repo.addUser("user", 0, 0, false)

	svc := NewService(repo, nil, nil)

	_, err := svc.Swap(context.Background(), userID, model.Currency("btc"), dec("1"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
