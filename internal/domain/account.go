/**
 * @description
 * This file defines the account-side domain models for the ledger-service:
 * transfer accounts, their vendor tiering, and the on-chain addresses they own.
 *
 * @notes
 * - An account's balance is never stored. It is always derived by summing the
 *   COMPLETE transfers it has received minus the COMPLETE transfers it has
 *   sent (see store.Repository.Balance), which keeps the ledger and any
 *   derived figures impossible to drift apart.
 * - Vendor capabilities form an ordered tier rather than a pair of booleans,
 *   so "supervendor implies vendor" is a comparison instead of a convention.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// VendorTier is an ordered capability level for an account. Higher tiers
// include everything the lower tiers can do.
type VendorTier int

const (
	TierNone VendorTier = iota
	TierVendor
	TierSupervendor
)

// Meets reports whether the tier satisfies the given minimum tier.
func (t VendorTier) Meets(min VendorTier) bool {
	return t >= min
}

// ParseVendorTier maps a wire value back to a tier. Unknown values degrade to
// TierNone rather than erroring; tier only ever gates extra capabilities.
func ParseVendorTier(s string) VendorTier {
	switch s {
	case "vendor":
		return TierVendor
	case "supervendor":
		return TierSupervendor
	default:
		return TierNone
	}
}

func (t VendorTier) String() string {
	switch t {
	case TierVendor:
		return "vendor"
	case TierSupervendor:
		return "supervendor"
	default:
		return "none"
	}
}

// Account is an addressable holder of value in the ledger. It maps to the
// `accounts` table.
type Account struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	IsApproved    bool       `json:"is_approved"`
	IsBeneficiary bool       `json:"is_beneficiary"`
	VendorTier    VendorTier `json:"vendor_tier"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AddressOwner classifies who controls a chain address.
type AddressOwner string

const (
	// OwnerMaster is the platform's settlement wallet.
	OwnerMaster AddressOwner = "MASTER"
	// OwnerAccount is a platform-managed address bound to exactly one account.
	OwnerAccount AddressOwner = "ACCOUNT"
	// OwnerExternal is a counterparty address the platform does not control.
	OwnerExternal AddressOwner = "EXTERNAL"
)

// ChainAddress is an on-chain identity. Platform-owned addresses carry an
// encrypted private key; external counterparty addresses never do.
type ChainAddress struct {
	ID                  uuid.UUID    `json:"id"`
	Owner               AddressOwner `json:"owner"`
	Address             string       `json:"address"`
	EncryptedPrivateKey string       `json:"-"`
	AccountID           *uuid.UUID   `json:"account_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

// HasPrivateKey reports whether the platform holds key material for this
// address. Addresses without key material never need master-wallet approval.
func (a *ChainAddress) HasPrivateKey() bool {
	return a != nil && a.EncryptedPrivateKey != ""
}

// ApprovalStatus is the derived master-wallet approval state of an account,
// computed from its `master wallet approval` receipts.
type ApprovalStatus string

const (
	ApprovalApproved    ApprovalStatus = "APPROVED"
	ApprovalRequested   ApprovalStatus = "REQUESTED"
	ApprovalFailed      ApprovalStatus = "FAILED"
	ApprovalNotRequired ApprovalStatus = "NOT_REQUIRED"
	ApprovalNoRequest   ApprovalStatus = "NO_REQUEST"
)

// Settled reports whether no further approval work is needed before an
// external-token disbursement can go out.
func (s ApprovalStatus) Settled() bool {
	return s == ApprovalApproved || s == ApprovalNotRequired
}

// NeedsRequest reports whether a fresh approval transaction must be issued.
func (s ApprovalStatus) NeedsRequest() bool {
	return s == ApprovalNoRequest || s == ApprovalFailed
}

// DeriveApprovalStatus computes the master-wallet approval status for an
// account from its existing approval receipts. The most successful status
// seen wins: any SUCCESS means approved, otherwise an in-flight PENDING
// means requested, otherwise a FAILED attempt is reported, otherwise no
// request has ever been made.
func DeriveApprovalStatus(usesExternalToken bool, address *ChainAddress, approvalReceipts []ChainReceipt) ApprovalStatus {
	if !usesExternalToken {
		return ApprovalNotRequired
	}
	if !address.HasPrivateKey() {
		return ApprovalNotRequired
	}

	best := ReceiptStatusUnknown
	for _, r := range approvalReceipts {
		if r.TaskKind != TaskMasterWalletApproval {
			continue
		}
		if r.Status.Rank() > best.Rank() {
			best = r.Status
		}
	}

	switch best {
	case ReceiptStatusSuccess:
		return ApprovalApproved
	case ReceiptStatusPending:
		return ApprovalRequested
	case ReceiptStatusFailed:
		return ApprovalFailed
	default:
		return ApprovalNoRequest
	}
}
