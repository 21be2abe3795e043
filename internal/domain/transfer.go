/**
 * @description
 * This file defines the Transfer entity, the unit of value movement in the
 * ledger, together with its type/status enumerations and construction rules.
 *
 * Key invariants:
 * - Amounts are int64 in the smallest currency unit (cents); never floats.
 * - Which parties are present determines the transfer type: sender only is a
 *   WITHDRAWAL, recipient only is a DISBURSEMENT, both is a PAYMENT. A
 *   transfer with neither party is invalid.
 * - Status transitions are one-way: PENDING -> COMPLETE or PENDING ->
 *   REJECTED. Terminal transfers are never resolved again.
 */

package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TransferType classifies a transfer by the parties involved.
type TransferType string

const (
	TransferTypePayment      TransferType = "PAYMENT"
	TransferTypeDisbursement TransferType = "DISBURSEMENT"
	TransferTypeWithdrawal   TransferType = "WITHDRAWAL"
)

// TransferStatus is the ledger-side lifecycle state of a transfer. It is
// decided synchronously and is authoritative; chain settlement is layered on
// top as best-effort and never rewrites it.
type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "PENDING"
	TransferStatusComplete TransferStatus = "COMPLETE"
	TransferStatusRejected TransferStatus = "REJECTED"
)

var (
	// ErrNoParties is returned when a transfer names neither a sender nor a recipient.
	ErrNoParties = errors.New("transfer requires a sender or a recipient")
	// ErrInvalidTransferType is returned when an explicitly requested type
	// contradicts the parties supplied.
	ErrInvalidTransferType = errors.New("transfer type does not match supplied parties")
	// ErrTransferAlreadyResolved is returned on any attempt to move a transfer
	// out of a terminal state.
	ErrTransferAlreadyResolved = errors.New("transfer is already resolved")
)

// Transfer is the central ledger record for one movement of value. It maps to
// the `transfers` table. Sender/recipient account references are optional;
// transfers discovered on-chain may carry only raw chain addresses.
type Transfer struct {
	ID     uuid.UUID      `json:"id"`
	Amount int64          `json:"amount"` // in cents
	Type   TransferType   `json:"type"`
	Status TransferStatus `json:"status"`

	SenderAccountID    *uuid.UUID `json:"sender_account_id,omitempty"`
	RecipientAccountID *uuid.UUID `json:"recipient_account_id,omitempty"`

	// Raw addresses for counterparties without a ledger account.
	SenderAddress    string `json:"sender_address,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`

	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolutionMessage string     `json:"resolution_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTransfer builds a PENDING transfer from its parties, inferring the type
// from which of them are present. An explicit type, when supplied, must agree
// with the inferred one.
func NewTransfer(amount int64, sender, recipient *Account, explicitType TransferType) (*Transfer, error) {
	t := &Transfer{
		ID:     uuid.New(),
		Amount: amount,
		Status: TransferStatusPending,
	}

	switch {
	case sender != nil && recipient != nil:
		t.Type = TransferTypePayment
	case recipient != nil:
		t.Type = TransferTypeDisbursement
	case sender != nil:
		t.Type = TransferTypeWithdrawal
	default:
		return nil, ErrNoParties
	}

	if sender != nil {
		id := sender.ID
		t.SenderAccountID = &id
	}
	if recipient != nil {
		id := recipient.ID
		t.RecipientAccountID = &id
	}

	if explicitType != "" && explicitType != t.Type {
		return nil, ErrInvalidTransferType
	}

	return t, nil
}

// IsResolved reports whether the transfer has reached a terminal status.
func (t *Transfer) IsResolved() bool {
	return t.Status == TransferStatusComplete || t.Status == TransferStatusRejected
}

// ResolveAsComplete marks the transfer COMPLETE. The amount and parties are
// already fixed; only the resolution fields change.
func (t *Transfer) ResolveAsComplete(now time.Time) error {
	if t.IsResolved() {
		return ErrTransferAlreadyResolved
	}
	t.Status = TransferStatusComplete
	t.ResolvedAt = &now
	return nil
}

// ResolveAsRejected marks the transfer REJECTED with an operator-visible
// message explaining why.
func (t *Transfer) ResolveAsRejected(now time.Time, message string) error {
	if t.IsResolved() {
		return ErrTransferAlreadyResolved
	}
	t.Status = TransferStatusRejected
	t.ResolvedAt = &now
	t.ResolutionMessage = message
	return nil
}
