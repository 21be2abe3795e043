/**
 * @description
 * This file defines ChainReceipt, the immutable record of one attempted
 * on-chain settlement task for a transfer, plus the closed task-kind and
 * receipt-status enumerations with their total rank order.
 *
 * Key invariants:
 * - A receipt is never edited after reaching a terminal status; a retry
 *   creates a new receipt row.
 * - Receipts for the same (transfer, task) pair are merged by status rank,
 *   not arrival order: a FAILED poll result racing a later SUCCESS must not
 *   win, and a rank never regresses.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind is the closed set of on-chain operations the settlement engine
// knows how to perform. The string values appear on the wire and in the
// chain_receipts table.
type TaskKind string

const (
	TaskTransfer             TaskKind = "transfer"
	TaskDisbursement         TaskKind = "disbursement"
	TaskEtherLoad            TaskKind = "ether load"
	TaskMasterWalletApproval TaskKind = "master wallet approval"
	TaskInitialCreditMint    TaskKind = "initial credit mint"
)

// ReceiptStatus is the lifecycle state of one settlement attempt.
type ReceiptStatus string

const (
	ReceiptStatusUnknown ReceiptStatus = "UNKNOWN"
	ReceiptStatusFailed  ReceiptStatus = "FAILED"
	ReceiptStatusPending ReceiptStatus = "PENDING"
	ReceiptStatusSuccess ReceiptStatus = "SUCCESS"
)

// Rank places receipt statuses on the total order
// UNKNOWN < FAILED < PENDING < SUCCESS. Merging receipt observations by rank
// makes out-of-order poll results safe: a later success always overrides an
// earlier failure, and nothing ever downgrades.
func (s ReceiptStatus) Rank() int {
	switch s {
	case ReceiptStatusFailed:
		return 1
	case ReceiptStatusPending:
		return 2
	case ReceiptStatusSuccess:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether the status will never change again.
func (s ReceiptStatus) Terminal() bool {
	return s == ReceiptStatusSuccess || s == ReceiptStatusFailed
}

// Upgrades reports whether a newly observed status replaces current under
// the rank order. The store's receipt upsert and the breakdown merge both
// apply this rule, so replaying a report never downgrades a receipt and
// delivering the same terminal report twice is a no-op.
func (s ReceiptStatus) Upgrades(current ReceiptStatus) bool {
	return s.Rank() > current.Rank()
}

// ChainReceipt records one attempted on-chain operation for a transfer. It
// maps to the `chain_receipts` table. Many receipts may exist per transfer:
// retries and multi-step settlements each append rows.
type ChainReceipt struct {
	ID         uuid.UUID     `json:"id"`
	TransferID uuid.UUID     `json:"transfer_id"`
	TaskKind   TaskKind      `json:"task_kind"`
	Status     ReceiptStatus `json:"status"`
	TxHash     string        `json:"tx_hash"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Nonce       *int64     `json:"nonce,omitempty"`
	Message     string     `json:"message,omitempty"`

	// HasOutboundSpend marks an outbound receipt whose recipient has since
	// spent the output, so the inbound discovery sweep skips it next pass.
	HasOutboundSpend bool `json:"has_outbound_spend"`

	CreatedAt time.Time `json:"created_at"`
}

// SettlementStatus is the derived chain-settlement state of a transfer. It is
// independent of the ledger's TransferStatus: a ledger-COMPLETE transfer can
// legitimately sit at settlement PENDING or ERROR.
type SettlementStatus string

const (
	SettlementComplete SettlementStatus = "COMPLETE"
	SettlementPending  SettlementStatus = "PENDING"
	SettlementError    SettlementStatus = "ERROR"
	SettlementUnknown  SettlementStatus = "UNKNOWN"
)

// TaskState is the merged view of all receipts for one required task.
type TaskState struct {
	Status ReceiptStatus `json:"status"`
	TxHash string        `json:"tx_hash,omitempty"`
}

// DeriveSettlementStatus folds a transfer's receipts against its required
// task list. If every required task has a SUCCESS receipt the settlement is
// COMPLETE; otherwise an in-flight PENDING receipt on any remaining task
// reports PENDING, a FAILED receipt reports ERROR, and no attempt at all
// reports UNKNOWN.
func DeriveSettlementStatus(required []TaskKind, receipts []ChainReceipt) SettlementStatus {
	if len(UncompletedTasks(required, receipts)) == 0 {
		return SettlementComplete
	}
	if hasStatus(receipts, ReceiptStatusPending) {
		return SettlementPending
	}
	if hasStatus(receipts, ReceiptStatusFailed) {
		return SettlementError
	}
	return SettlementUnknown
}

// SettlementBreakdown reports the per-task merged state for every required
// task, keeping the highest-ranked status seen among that task's receipts.
func SettlementBreakdown(required []TaskKind, receipts []ChainReceipt) map[TaskKind]TaskState {
	breakdown := make(map[TaskKind]TaskState, len(required))
	for _, task := range required {
		breakdown[task] = TaskState{Status: ReceiptStatusUnknown}
	}

	for _, r := range receipts {
		current, ok := breakdown[r.TaskKind]
		if !ok {
			continue
		}
		if r.Status.Upgrades(current.Status) {
			breakdown[r.TaskKind] = TaskState{Status: r.Status, TxHash: r.TxHash}
		}
	}

	return breakdown
}

// UncompletedTasks returns the required tasks that do not yet have a SUCCESS
// receipt, preserving the required ordering.
func UncompletedTasks(required []TaskKind, receipts []ChainReceipt) []TaskKind {
	done := make(map[TaskKind]bool)
	for _, r := range receipts {
		if r.Status == ReceiptStatusSuccess {
			done[r.TaskKind] = true
		}
	}

	var remaining []TaskKind
	for _, task := range required {
		if !done[task] {
			remaining = append(remaining, task)
		}
	}
	return remaining
}

func hasStatus(receipts []ChainReceipt, status ReceiptStatus) bool {
	for _, r := range receipts {
		if r.Status == status {
			return true
		}
	}
	return false
}
