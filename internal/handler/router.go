package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/tharshan2001/bullbear-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса bullbear.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/products", h.GetProducts)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Post("/balance/withdraw", h.Withdraw)
			r.Post("/balance/transfer", h.Transfer)
			r.Post("/balance/swap", h.Swap)

			r.Get("/transactions", h.GetTransactions)
			r.Get("/commissions", h.GetCommissions)
			r.Get("/referrals", h.GetReferralTree)

			r.Post("/subscriptions", h.PurchaseSubscription)
			r.Get("/subscriptions", h.GetSubscriptions)
			r.Post("/premium", h.UpgradePremium)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
