// Package handler содержит HTTP-обработчики API сервиса bullbear.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tharshan2001/bullbear-system/internal/middleware"
	"github.com/tharshan2001/bullbear-system/internal/model"
	"github.com/tharshan2001/bullbear-system/internal/repository"
	"github.com/tharshan2001/bullbear-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, referralCode string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)

	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	RequestWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal, network, address string) (*model.WalletTransaction, error)
	TransferToCW(ctx context.Context, userID int64, amount decimal.Decimal) (*model.WalletTransaction, error)
	Swap(ctx context.Context, userID int64, from model.Currency, amount decimal.Decimal) (*model.WalletTransaction, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
	GetCommissionsByUser(ctx context.Context, userID int64) ([]model.CommissionEntry, error)

	BuildSubtree(ctx context.Context, rootUserID int64) (*model.ReferralTree, error)

	GetProducts(ctx context.Context) ([]model.Product, error)
	PurchaseSubscription(ctx context.Context, userID, productID int64) (*model.Subscription, *model.DistributionResult, error)
	UpgradePremium(ctx context.Context, userID, productID int64) (*model.DistributionResult, error)
	GetSubscriptionsByUser(ctx context.Context, userID int64) ([]model.Subscription, error)
}

// Handler реализует HTTP-обработчики API сервиса bullbear.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	Login        string `json:"login"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.ReferralCode)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrUserNotFound):
			// Неизвестный реферальный код.
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("register user error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает балансы текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, balance)
}

type withdrawRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Network string          `json:"network"`
	Address string          `json:"address"`
}

type transactionResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Network   string          `json:"network,omitempty"`
	Address   string          `json:"address,omitempty"`
	Meta      string          `json:"meta,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

func toTransactionResponse(t *model.WalletTransaction) transactionResponse {
	resp := transactionResponse{
		ID:       t.ID.String(),
		Type:     string(t.Type),
		Status:   string(t.Status),
		Currency: string(t.Currency),
		Amount:   t.Amount,
		Fee:      t.Fee,
		Network:  t.Network,
		Address:  t.NetworkAddress,
		Meta:     t.Meta,
	}
	if !t.CreatedAt.IsZero() {
		resp.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

// Withdraw создаёт заявку на вывод средств текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tx, err := h.service.RequestWithdrawal(r.Context(), userID, req.Amount, req.Network, req.Address)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientFunds):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("withdraw error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, toTransactionResponse(tx))
}

type transferRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Transfer переводит usdt текущего пользователя во внутреннюю валюту cw.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tx, err := h.service.TransferToCW(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeWalletError(w, err, userID, "transfer")
		return
	}

	writeJSON(w, h.logger, toTransactionResponse(tx))
}

type swapRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
}

// Swap обменивает средства текущего пользователя между usdt и cw.
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tx, err := h.service.Swap(r.Context(), userID, model.Currency(req.From), req.Amount)
	if err != nil {
		h.writeWalletError(w, err, userID, "swap")
		return
	}

	writeJSON(w, h.logger, toTransactionResponse(tx))
}

func (h *Handler) writeWalletError(w http.ResponseWriter, err error, userID int64, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, repository.ErrInsufficientFunds):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	default:
		h.logger.Error(op+" error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetTransactions возвращает историю операций текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txs, err := h.service.GetTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		resp = append(resp, toTransactionResponse(&txs[i]))
	}

	writeJSON(w, h.logger, resp)
}

type commissionResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Level     int             `json:"level,omitempty"`
	Message   string          `json:"message"`
	CreatedAt string          `json:"created_at"`
}

// GetCommissions возвращает историю комиссионных начислений текущего пользователя.
func (h *Handler) GetCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.service.GetCommissionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get commissions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]commissionResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, commissionResponse{
			ID:        e.ID.String(),
			Type:      string(e.Type),
			Status:    string(e.Status),
			Amount:    e.Amount,
			Level:     e.Level,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

// GetReferralTree возвращает реферальное поддерево текущего пользователя.
func (h *Handler) GetReferralTree(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tree, err := h.service.BuildSubtree(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("build referral tree error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, tree)
}

type productResponse struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
}

// GetProducts возвращает активные продукты каталога.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.GetProducts(r.Context())
	if err != nil {
		h.logger.Error("get products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:           p.ID,
			Name:         p.Name,
			Kind:         string(p.Kind),
			Price:        p.Price,
			DurationDays: p.DurationDays,
		})
	}

	writeJSON(w, h.logger, resp)
}

type purchaseRequest struct {
	ProductID int64 `json:"product_id"`
}

type subscriptionResponse struct {
	ID           int64  `json:"id"`
	ProductID    int64  `json:"product_id"`
	Status       string `json:"status"`
	SubscribedAt string `json:"subscribed_at"`
	ExpiresAt    string `json:"expires_at"`
	AutoRenew    bool   `json:"auto_renew"`
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:           s.ID,
		ProductID:    s.ProductID,
		Status:       string(s.Status),
		SubscribedAt: s.SubscribedAt.Format(time.RFC3339),
		ExpiresAt:    s.ExpiresAt.Format(time.RFC3339),
		AutoRenew:    s.AutoRenew,
	}
}

// PurchaseSubscription покупает подписку для текущего пользователя.
func (h *Handler) PurchaseSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, _, err := h.service.PurchaseSubscription(r.Context(), userID, req.ProductID)
	if err != nil {
		h.writePurchaseError(w, err, userID, "purchase subscription")
		return
	}

	writeJSON(w, h.logger, toSubscriptionResponse(sub))
}

// UpgradePremium включает премиум-статус для текущего пользователя.
func (h *Handler) UpgradePremium(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.UpgradePremium(r.Context(), userID, req.ProductID); err != nil {
		h.writePurchaseError(w, err, userID, "upgrade premium")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writePurchaseError(w http.ResponseWriter, err error, userID int64, op string) {
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidInput):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrSubscriptionState):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrInsufficientFunds):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	default:
		h.logger.Error(op+" error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetSubscriptions возвращает подписки текущего пользователя.
func (h *Handler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	subs, err := h.service.GetSubscriptionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get subscriptions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(subs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]subscriptionResponse, 0, len(subs))
	for i := range subs {
		resp = append(resp, toSubscriptionResponse(&subs[i]))
	}

	writeJSON(w, h.logger, resp)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
