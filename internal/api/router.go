/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware. The internal group is the settlement worker's callback surface
 * and sits behind basic auth.
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
func LedgerRoutes(h *LedgerHandlers, internalUsername, internalPassword string) http.Handler {
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

	// Account endpoints
	r.Post("/accounts", h.CreateAccountHandler)
	r.Post("/accounts/{id}/approve", h.ApproveAccountHandler)
	r.Get("/accounts/{id}/balance", h.GetBalanceHandler)
	r.Get("/accounts/{id}/approval", h.GetApprovalStatusHandler)

	// Transfer endpoints
	r.Post("/transfers", h.SubmitTransferHandler)
	r.Post("/withdrawals", h.InitiateWithdrawalHandler)
	r.Post("/transfers/{id}/resolve", h.ResolveTransferHandler)
	r.Get("/transfers/{id}/settlement", h.GetSettlementStatusHandler)
	r.Post("/transfers/{id}/retry", h.RetrySettlementHandler)

	// Internal endpoints called back by the settlement worker.
	r.Route("/internal", func(r chi.Router) {
		r.Use(BasicAuthMiddleware(internalUsername, internalPassword))

		r.Put("/receipts", h.ReportReceiptHandler)
		r.Get("/receipts/unspent", h.ListUnspentOutputsHandler)
		r.Post("/receipts/{id}/spent", h.MarkOutputSpentHandler)
		r.Post("/transfers", h.CreateInboundTransferHandler)
	})

	return r
}
