/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account and chain address methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	// MarkAccountApproved flips the approval flag and reports whether this
	// call was the one that flipped it, so approval side effects run once.
	MarkAccountApproved(ctx context.Context, accountID uuid.UUID) (bool, error)
	CreateChainAddress(ctx context.Context, address *domain.ChainAddress) error
	FindChainAddressByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.ChainAddress, error)
	FindChainAddressByAddress(ctx context.Context, address string) (*domain.ChainAddress, error)

	// Transfer methods. Transfers are append-mostly: amounts and parties are
	// fixed at insert and only the resolution fields ever change, once.
	CreateTransfer(ctx context.Context, transfer *domain.Transfer) error
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error)
	ResolveTransfer(ctx context.Context, transferID uuid.UUID, status domain.TransferStatus, message string, resolvedAt time.Time) error
	ListCompletedTransfersSince(ctx context.Context, since time.Time) ([]domain.Transfer, error)

	// Balance derives an account's balance purely from COMPLETE transfers:
	// sum received minus sum sent. Never stored, never mutated.
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)

	// Chain receipt methods. UpsertReceipt is idempotent on
	// (transfer_id, task_kind, tx_hash) and only ever upgrades status rank.
	CreateReceipt(ctx context.Context, receipt *domain.ChainReceipt) error
	UpsertReceipt(ctx context.Context, report domain.ReceiptReport) (*domain.ChainReceipt, error)
	ListReceiptsByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.ChainReceipt, error)
	ListApprovalReceiptsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.ChainReceipt, error)
	ExistsReceiptForHash(ctx context.Context, txHash string) (bool, error)

	// Inbound discovery bookkeeping
	ListUnspentOutputs(ctx context.Context) ([]domain.UnspentOutput, error)
	MarkReceiptOutputSpent(ctx context.Context, receiptID uuid.UUID) error
}
