/**
 * @description
 * This file defines the wire payloads exchanged between the ledger server and
 * the settlement worker: outbound settlement requests published to RabbitMQ
 * and receipt reports posted back over the internal API.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SettlementRequest is published by the settlement dispatcher for the worker
// to act on. UncompletedTasks is recomputed at dispatch time, never cached,
// so a retry that has nothing left to do can be dropped by the dispatcher.
type SettlementRequest struct {
	Type             TransferType   `json:"type"`
	TransferID       uuid.UUID      `json:"transfer_id"`
	Amount           int64          `json:"amount"` // in cents
	SenderAddress    string         `json:"sender_address,omitempty"`
	RecipientAddress string         `json:"recipient_address"`
	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	// AccountToApproveKey carries the encrypted key of the recipient address
	// when a fresh master-wallet approval must be issued.
	AccountToApproveKey string     `json:"account_to_approve_key,omitempty"`
	UncompletedTasks    []TaskKind `json:"uncompleted_tasks"`
	IsRetry             bool       `json:"is_retry"`
}

// ReceiptReport is delivered by the worker to record the outcome of one
// settlement task attempt. Reports are upserted idempotently on
// (transfer_id, task_kind, tx_hash), so repeated polls of the same
// transaction never create duplicate terminal receipts.
type ReceiptReport struct {
	TransferID  uuid.UUID     `json:"transfer_id"`
	TaskKind    TaskKind      `json:"task_kind"`
	Status      ReceiptStatus `json:"status"`
	TxHash      string        `json:"tx_hash"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	Nonce       *int64        `json:"nonce,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// Idempotent reports whether the report converges on an existing receipt
// row. Reports with a chain transaction hash all describe the same broadcast
// and merge into one row per (transfer, task, hash). A hashless report means
// the broadcast itself failed; there is no chain identity to converge on, so
// each attempt records its own row and the audit trail keeps every failure.
func (r ReceiptReport) Idempotent() bool {
	return r.TxHash != ""
}

// InboundTransfer describes an on-chain spend discovered by the worker that
// no ledger transfer initiated. The server records it as an address-only
// transfer for audit.
type InboundTransfer struct {
	SenderAddress    string `json:"sender_address"`
	RecipientAddress string `json:"recipient_address"`
	TxHash           string `json:"tx_hash"`
	Amount           int64  `json:"amount"` // in cents
}

// UnspentOutput is an outbound settlement output the discovery sweep still
// watches for counterparty spends.
type UnspentOutput struct {
	ReceiptID        uuid.UUID `json:"receipt_id"`
	TxHash           string    `json:"tx_hash"`
	RecipientAddress string    `json:"recipient_address"`
}

// SettlementUpdate is the fire-and-forget callback payload sent to the
// front-end layer whenever a receipt changes state.
type SettlementUpdate struct {
	TransferID uuid.UUID     `json:"transfer_id"`
	TaskKind   TaskKind      `json:"task_kind"`
	Status     ReceiptStatus `json:"status"`
	TxHash     string        `json:"tx_hash,omitempty"`
}
