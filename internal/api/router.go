/**
 * @description
 * This file sets up the HTTP router for the ledger service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the authentication middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Account lifecycle
		r.Post("/accounts", h.OpenAccountHandler)
		r.Get("/accounts/{accountNumber}", h.GetAccountInfoHandler)
		r.Post("/accounts/{accountNumber}/close", h.CloseAccountHandler)
		r.Post("/accounts/{accountNumber}/archive", h.ArchiveAccountHandler)
		r.Get("/accounts/{accountNumber}/transactions", h.TransactionHistoryHandler)

		// Beneficiary management
		r.Post("/accounts/{accountNumber}/beneficiaries", h.AddBeneficiaryHandler)
		r.Get("/accounts/{accountNumber}/beneficiaries", h.ListBeneficiariesHandler)

		// Money movement
		r.Post("/deposits", h.DepositHandler)
		r.Post("/transfers", h.TransferHandler)
		r.Post("/transfers/{transactionID}/cancel", h.CancelTransferHandler)
		r.Get("/transactions/{transactionID}", h.TransactionDetailHandler)
	})

	return r
}
