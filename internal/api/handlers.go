/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers parse incoming requests, call the appropriate methods on the
 * application service, and write the HTTP response. They act as the bridge
 * between the web layer and the business logic layer.
 *
 * The public group serves account and transfer operations. The internal group
 * is the callback surface for the settlement worker: receipt reports, the
 * unspent output watch list, and inbound transfers discovered on-chain.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/app"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// transferResponse is the wire shape for a decided transfer. Rejected
// transfers carry the resolution message so clients can show the reason.
type transferResponse struct {
	TransferID        string  `json:"transfer_id"`
	Type              string  `json:"type"`
	Status            string  `json:"status"`
	Amount            int64   `json:"amount"`
	ResolutionMessage string  `json:"resolution_message,omitempty"`
	SenderAccountID   *string `json:"sender_account_id,omitempty"`
	RecipientID       *string `json:"recipient_account_id,omitempty"`
}

func buildTransferResponse(t *domain.Transfer) transferResponse {
	resp := transferResponse{
		TransferID:        t.ID.String(),
		Type:              string(t.Type),
		Status:            string(t.Status),
		Amount:            t.Amount,
		ResolutionMessage: t.ResolutionMessage,
	}
	if t.SenderAccountID != nil {
		id := t.SenderAccountID.String()
		resp.SenderAccountID = &id
	}
	if t.RecipientAccountID != nil {
		id := t.RecipientAccountID.String()
		resp.RecipientID = &id
	}
	return resp
}

// CreateAccountHandler handles requests to register a new account.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		IsBeneficiary   bool   `json:"is_beneficiary"`
		VendorTier      string `json:"vendor_tier,omitempty"`
		ExternalAddress string `json:"external_address,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Account name is required")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), req.Name, req.IsBeneficiary, domain.ParseVendorTier(req.VendorTier), req.ExternalAddress)
	if err != nil {
		log.Printf("level=error component=api endpoint=create_account outcome=failed name=%q err=%v", req.Name, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=create_account outcome=created account_id=%s tier=%s", account.ID, account.VendorTier)
	h.writeJSON(w, http.StatusCreated, account)
}

// ApproveAccountHandler handles requests to approve an account. The first
// approval of a beneficiary also issues the initial disbursement, which is
// returned when one was created.
func (h *LedgerHandlers) ApproveAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	disbursement, err := h.service.ApproveAccount(r.Context(), accountID)
	if err != nil && !errors.Is(err, app.ErrInsufficientBalance) {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=approve_account outcome=failed account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	response := map[string]interface{}{"account_id": accountID.String(), "is_approved": true}
	if disbursement != nil {
		response["initial_disbursement"] = buildTransferResponse(disbursement)
	}
	h.writeJSON(w, http.StatusOK, response)
}

// GetBalanceHandler handles requests for an account's derived balance.
func (h *LedgerHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	balance, err := h.service.Balance(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_balance outcome=failed account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID.String(),
		"balance":    balance,
	})
}

// GetApprovalStatusHandler handles requests for an account's derived
// master-wallet approval status.
func (h *LedgerHandlers) GetApprovalStatusHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	status, err := h.service.MasterWalletApprovalStatus(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_approval_status outcome=failed account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"account_id":      accountID.String(),
		"approval_status": string(status),
	})
}

// SubmitTransferHandler handles requests to submit a transfer. The transfer
// is decided synchronously: the response carries its terminal ledger status.
func (h *LedgerHandlers) SubmitTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount             int64      `json:"amount"`
		SenderAccountID    *uuid.UUID `json:"sender_account_id,omitempty"`
		RecipientAccountID *uuid.UUID `json:"recipient_account_id,omitempty"`
		Type               string     `json:"type,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	transfer, err := h.service.SubmitTransfer(r.Context(), req.Amount, req.SenderAccountID, req.RecipientAccountID, domain.TransferType(req.Type))
	if err != nil {
		// Rejections still persisted a transfer; surface it with the reason.
		if transfer != nil && transfer.Status == domain.TransferStatusRejected {
			log.Printf("level=info component=api endpoint=submit_transfer outcome=rejected transfer_id=%s reason=%q", transfer.ID, transfer.ResolutionMessage)
			h.writeJSON(w, http.StatusUnprocessableEntity, buildTransferResponse(transfer))
			return
		}
		if errors.Is(err, domain.ErrNoParties) || errors.Is(err, domain.ErrInvalidTransferType) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=submit_transfer outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=submit_transfer outcome=%s transfer_id=%s type=%s amount=%d", transfer.Status, transfer.ID, transfer.Type, transfer.Amount)
	h.writeJSON(w, http.StatusCreated, buildTransferResponse(transfer))
}

// InitiateWithdrawalHandler handles vendor cash-out requests. The withdrawal
// stays PENDING until an operator resolves it.
func (h *LedgerHandlers) InitiateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID uuid.UUID `json:"account_id"`
		Amount    int64     `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	transfer, err := h.service.InitiateWithdrawal(r.Context(), req.AccountID, req.Amount)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		if errors.Is(err, app.ErrSenderNotApproved) {
			h.writeError(w, http.StatusForbidden, "Account is not a vendor")
			return
		}
		log.Printf("level=error component=api endpoint=initiate_withdrawal outcome=failed account_id=%s err=%v", req.AccountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=initiate_withdrawal outcome=pending transfer_id=%s account_id=%s amount=%d", transfer.ID, req.AccountID, req.Amount)
	h.writeJSON(w, http.StatusCreated, buildTransferResponse(transfer))
}

// ResolveTransferHandler lets an operator decide a PENDING transfer.
func (h *LedgerHandlers) ResolveTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Approve bool   `json:"approve"`
		Message string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	transfer, err := h.service.ResolvePendingTransfer(r.Context(), transferID, req.Approve, req.Message)
	if err != nil {
		if transfer != nil && transfer.Status == domain.TransferStatusRejected && req.Approve {
			h.writeJSON(w, http.StatusUnprocessableEntity, buildTransferResponse(transfer))
			return
		}
		if errors.Is(err, domain.ErrTransferAlreadyResolved) {
			h.writeError(w, http.StatusConflict, "Transfer is already resolved")
			return
		}
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		log.Printf("level=error component=api endpoint=resolve_transfer outcome=failed transfer_id=%s err=%v", transferID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=resolve_transfer outcome=%s transfer_id=%s", transfer.Status, transferID)
	h.writeJSON(w, http.StatusOK, buildTransferResponse(transfer))
}

// GetSettlementStatusHandler returns the combined ledger and settlement view
// of a transfer, including the per-task breakdown.
func (h *LedgerHandlers) GetSettlementStatusHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	settlement, err := h.service.SettlementStatus(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_settlement_status outcome=failed transfer_id=%s err=%v", transferID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, settlement)
}

// RetrySettlementHandler re-dispatches the incomplete settlement work for a
// ledger-COMPLETE transfer.
func (h *LedgerHandlers) RetrySettlementHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.RetrySettlement(r.Context(), transferID); err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		log.Printf("level=warn component=api endpoint=retry_settlement outcome=reject transfer_id=%s err=%v", transferID, err)
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	log.Printf("level=info component=api endpoint=retry_settlement outcome=dispatched transfer_id=%s", transferID)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"message": "Settlement retry dispatched"})
}

// ReportReceiptHandler records a settlement task outcome reported by the
// worker. The upsert is idempotent, so redelivered reports are safe.
func (h *LedgerHandlers) ReportReceiptHandler(w http.ResponseWriter, r *http.Request) {
	var report domain.ReceiptReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// TxHash may be empty: a broadcast that never happened still records a
	// FAILED receipt keyed on the empty hash.
	if report.TransferID == uuid.Nil || report.TaskKind == "" {
		h.writeError(w, http.StatusBadRequest, "transfer_id and task_kind are required")
		return
	}

	receipt, err := h.service.RecordReceipt(r.Context(), report)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		log.Printf("level=error component=api endpoint=report_receipt outcome=failed transfer_id=%s task=%q err=%v", report.TransferID, report.TaskKind, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=report_receipt outcome=recorded transfer_id=%s task=%q status=%s tx_hash=%s", receipt.TransferID, receipt.TaskKind, receipt.Status, receipt.TxHash)
	h.writeJSON(w, http.StatusOK, receipt)
}

// ListUnspentOutputsHandler returns the outputs the discovery sweep should
// check for counterparty spends.
func (h *LedgerHandlers) ListUnspentOutputsHandler(w http.ResponseWriter, r *http.Request) {
	outputs, err := h.service.ListUnspentOutputs(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=list_unspent_outputs outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"outputs": outputs})
}

// MarkOutputSpentHandler records that a watched output has been spent.
func (h *LedgerHandlers) MarkOutputSpentHandler(w http.ResponseWriter, r *http.Request) {
	receiptID, ok := h.parseIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.MarkOutputSpent(r.Context(), receiptID); err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			h.writeError(w, http.StatusNotFound, "Receipt not found")
			return
		}
		log.Printf("level=error component=api endpoint=mark_output_spent outcome=failed receipt_id=%s err=%v", receiptID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Output marked spent"})
}

// CreateInboundTransferHandler books a transfer the worker discovered
// on-chain. Duplicate hashes return 200 with no body change.
func (h *LedgerHandlers) CreateInboundTransferHandler(w http.ResponseWriter, r *http.Request) {
	var inbound domain.InboundTransfer
	if err := json.NewDecoder(r.Body).Decode(&inbound); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if inbound.TxHash == "" || inbound.RecipientAddress == "" {
		h.writeError(w, http.StatusBadRequest, "tx_hash and recipient_address are required")
		return
	}

	transfer, err := h.service.RecordInboundTransfer(r.Context(), inbound)
	if err != nil {
		log.Printf("level=error component=api endpoint=create_inbound_transfer outcome=failed tx_hash=%s err=%v", inbound.TxHash, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if transfer == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"message": "Transfer already recorded"})
		return
	}

	log.Printf("level=info component=api endpoint=create_inbound_transfer outcome=recorded transfer_id=%s tx_hash=%s amount=%d", transfer.ID, inbound.TxHash, inbound.Amount)
	h.writeJSON(w, http.StatusCreated, buildTransferResponse(transfer))
}

// parseIDParam extracts and parses a UUID URL parameter, writing a 400 on
// failure.
func (h *LedgerHandlers) parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
