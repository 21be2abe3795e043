/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to accounts, chain addresses, transfers, and chain receipts.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencredit/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrChainAddressNotFound = errors.New("chain address not found")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrTransferResolved     = errors.New("transfer is already resolved")
	ErrReceiptNotFound      = errors.New("chain receipt not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount inserts a new ledger account.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, name, is_approved, is_beneficiary, vendor_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		account.ID, account.Name, account.IsApproved, account.IsBeneficiary, int(account.VendorTier),
	).Scan(&account.CreatedAt, &account.UpdatedAt)
}

// FindAccountByID retrieves an account by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	var tier int
	query := `SELECT id, name, is_approved, is_beneficiary, vendor_tier, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.Name, &account.IsApproved, &account.IsBeneficiary, &tier,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	account.VendorTier = domain.VendorTier(tier)
	return &account, nil
}

// MarkAccountApproved sets is_approved and reports whether this call flipped
// it. The WHERE guard makes concurrent approvals race-free: only one caller
// sees a row change.
func (r *PostgresRepository) MarkAccountApproved(ctx context.Context, accountID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET is_approved = TRUE, updated_at = NOW() WHERE id = $1 AND is_approved = FALSE`,
		accountID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Either already approved or missing; disambiguate for the caller.
		if _, lookupErr := r.FindAccountByID(ctx, accountID); lookupErr != nil {
			return false, lookupErr
		}
		return false, nil
	}
	return true, nil
}

// CreateChainAddress inserts a chain address record.
func (r *PostgresRepository) CreateChainAddress(ctx context.Context, address *domain.ChainAddress) error {
	query := `
		INSERT INTO chain_addresses (id, owner, address, encrypted_private_key, account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		address.ID, string(address.Owner), address.Address, address.EncryptedPrivateKey, address.AccountID,
	).Scan(&address.CreatedAt)
}

// FindChainAddressByAccountID returns the address owned by an account.
func (r *PostgresRepository) FindChainAddressByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.ChainAddress, error) {
	return r.scanChainAddress(ctx,
		`SELECT id, owner, address, encrypted_private_key, account_id, created_at FROM chain_addresses WHERE account_id = $1`,
		accountID,
	)
}

// FindChainAddressByAddress returns the record for a raw on-chain address.
func (r *PostgresRepository) FindChainAddressByAddress(ctx context.Context, address string) (*domain.ChainAddress, error) {
	return r.scanChainAddress(ctx,
		`SELECT id, owner, address, encrypted_private_key, account_id, created_at FROM chain_addresses WHERE address = $1`,
		address,
	)
}

func (r *PostgresRepository) scanChainAddress(ctx context.Context, query string, arg interface{}) (*domain.ChainAddress, error) {
	var addr domain.ChainAddress
	var owner string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&addr.ID, &owner, &addr.Address, &addr.EncryptedPrivateKey, &addr.AccountID, &addr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChainAddressNotFound
		}
		return nil, err
	}
	addr.Owner = domain.AddressOwner(owner)
	return &addr, nil
}

// CreateTransfer inserts a new transfer row. The amount and parties are final
// at insert time.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	query := `
		INSERT INTO transfers (
			id, amount, type, status,
			sender_account_id, recipient_account_id, sender_address, recipient_address,
			resolved_at, resolution_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		transfer.ID, transfer.Amount, string(transfer.Type), string(transfer.Status),
		transfer.SenderAccountID, transfer.RecipientAccountID,
		transfer.SenderAddress, transfer.RecipientAddress,
		transfer.ResolvedAt, transfer.ResolutionMessage,
	).Scan(&transfer.CreatedAt, &transfer.UpdatedAt)
}

// FindTransferByID retrieves a transfer by its ID.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, amount, type, status,
		       sender_account_id, recipient_account_id, sender_address, recipient_address,
		       resolved_at, resolution_message, created_at, updated_at
		FROM transfers WHERE id = $1
	`, transferID)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// ResolveTransfer moves a PENDING transfer into a terminal status. The WHERE
// guard enforces one-way transitions at the database level; resolving an
// already-terminal transfer returns ErrTransferResolved.
func (r *PostgresRepository) ResolveTransfer(ctx context.Context, transferID uuid.UUID, status domain.TransferStatus, message string, resolvedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transfers
		SET status = $2, resolution_message = $3, resolved_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, transferID, string(status), message, resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := r.FindTransferByID(ctx, transferID); lookupErr != nil {
			return lookupErr
		}
		return ErrTransferResolved
	}
	return nil
}

// ListCompletedTransfersSince returns COMPLETE transfers resolved after the
// cutoff, oldest first. Used by the settlement re-scan job, which recomputes
// each transfer's uncompleted tasks before re-dispatching.
func (r *PostgresRepository) ListCompletedTransfersSince(ctx context.Context, since time.Time) ([]domain.Transfer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, amount, type, status,
		       sender_account_id, recipient_account_id, sender_address, recipient_address,
		       resolved_at, resolution_message, created_at, updated_at
		FROM transfers
		WHERE status = 'COMPLETE' AND resolved_at >= $1
		ORDER BY resolved_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

// Balance computes an account's balance as the sum of COMPLETE transfers
// received minus the sum of COMPLETE transfers sent. This is the only source
// of truth for balances; nothing in the schema stores one.
func (r *PostgresRepository) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	query := `
		SELECT COALESCE((SELECT SUM(amount) FROM transfers WHERE status = 'COMPLETE' AND recipient_account_id = $1), 0)
		     - COALESCE((SELECT SUM(amount) FROM transfers WHERE status = 'COMPLETE' AND sender_account_id = $1), 0)
	`
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// CreateReceipt inserts a chain receipt directly. Used for receipts whose
// outcome is already known, e.g. transfers discovered on-chain.
func (r *PostgresRepository) CreateReceipt(ctx context.Context, receipt *domain.ChainReceipt) error {
	query := `
		INSERT INTO chain_receipts (
			id, transfer_id, task_kind, status, tx_hash,
			submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		receipt.ID, receipt.TransferID, string(receipt.TaskKind), string(receipt.Status), receipt.TxHash,
		receipt.SubmittedAt, receipt.ConfirmedAt, receipt.Nonce, receipt.Message, receipt.HasOutboundSpend,
	).Scan(&receipt.CreatedAt)
}

// UpsertReceipt records a settlement report. Idempotent reports are keyed
// by (transfer_id, task_kind, tx_hash); a conflicting report only wins when
// its status outranks the stored one (the CASE expressions implement
// ReceiptStatus.Upgrades in SQL), so a FAILED poll racing a later SUCCESS
// can never downgrade a receipt, and replaying a terminal report is a no-op
// rather than a duplicate. Hashless reports, failed broadcasts, append one
// row per attempt instead; the unique index behind ON CONFLICT is partial
// on tx_hash <> '' so those rows never collide.
func (r *PostgresRepository) UpsertReceipt(ctx context.Context, report domain.ReceiptReport) (*domain.ChainReceipt, error) {
	if !report.Idempotent() {
		row := r.db.QueryRow(ctx, `
			INSERT INTO chain_receipts (
				id, transfer_id, task_kind, status, tx_hash,
				submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW())
			RETURNING id, transfer_id, task_kind, status, tx_hash, submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
		`,
			uuid.New(), report.TransferID, string(report.TaskKind), string(report.Status), report.TxHash,
			report.SubmittedAt, report.ConfirmedAt, report.Nonce, report.Message,
		)
		return scanReceiptRow(row)
	}

	query := `
		INSERT INTO chain_receipts (
			id, transfer_id, task_kind, status, tx_hash,
			submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW())
		ON CONFLICT (transfer_id, task_kind, tx_hash) DO UPDATE SET
			status = EXCLUDED.status,
			submitted_at = COALESCE(chain_receipts.submitted_at, EXCLUDED.submitted_at),
			confirmed_at = COALESCE(chain_receipts.confirmed_at, EXCLUDED.confirmed_at),
			nonce = COALESCE(chain_receipts.nonce, EXCLUDED.nonce),
			message = CASE WHEN EXCLUDED.message <> '' THEN EXCLUDED.message ELSE chain_receipts.message END
		WHERE (CASE chain_receipts.status WHEN 'SUCCESS' THEN 3 WHEN 'PENDING' THEN 2 WHEN 'FAILED' THEN 1 ELSE 0 END)
		    < (CASE EXCLUDED.status WHEN 'SUCCESS' THEN 3 WHEN 'PENDING' THEN 2 WHEN 'FAILED' THEN 1 ELSE 0 END)
		RETURNING id, transfer_id, task_kind, status, tx_hash, submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
	`
	row := r.db.QueryRow(ctx, query,
		uuid.New(), report.TransferID, string(report.TaskKind), string(report.Status), report.TxHash,
		report.SubmittedAt, report.ConfirmedAt, report.Nonce, report.Message,
	)
	receipt, err := scanReceiptRow(row)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The stored status already outranked the report; return the row as is.
	return r.findReceiptByKey(ctx, report.TransferID, report.TaskKind, report.TxHash)
}

func (r *PostgresRepository) findReceiptByKey(ctx context.Context, transferID uuid.UUID, task domain.TaskKind, txHash string) (*domain.ChainReceipt, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, transfer_id, task_kind, status, tx_hash, submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
		FROM chain_receipts
		WHERE transfer_id = $1 AND task_kind = $2 AND tx_hash = $3
	`, transferID, string(task), txHash)
	receipt, err := scanReceiptRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return receipt, nil
}

// ListReceiptsByTransfer returns every settlement attempt for a transfer,
// oldest first.
func (r *PostgresRepository) ListReceiptsByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.ChainReceipt, error) {
	return r.listReceipts(ctx, `
		SELECT id, transfer_id, task_kind, status, tx_hash, submitted_at, confirmed_at, nonce, message, has_outbound_spend, created_at
		FROM chain_receipts
		WHERE transfer_id = $1
		ORDER BY created_at ASC
	`, transferID)
}

// ListApprovalReceiptsForAccount returns master-wallet approval receipts for
// transfers received by the account. Feeds the derived approval status.
func (r *PostgresRepository) ListApprovalReceiptsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.ChainReceipt, error) {
	return r.listReceipts(ctx, `
		SELECT cr.id, cr.transfer_id, cr.task_kind, cr.status, cr.tx_hash, cr.submitted_at, cr.confirmed_at, cr.nonce, cr.message, cr.has_outbound_spend, cr.created_at
		FROM chain_receipts cr
		JOIN transfers t ON t.id = cr.transfer_id
		WHERE cr.task_kind = 'master wallet approval' AND t.recipient_account_id = $1
		ORDER BY cr.created_at ASC
	`, accountID)
}

// ExistsReceiptForHash reports whether any receipt already references the
// given chain transaction hash. Used to deduplicate inbound discovery.
func (r *PostgresRepository) ExistsReceiptForHash(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chain_receipts WHERE tx_hash = $1)`, txHash,
	).Scan(&exists)
	return exists, err
}

// ListUnspentOutputs returns confirmed outbound outputs whose recipients have
// not yet spent them, resolving the recipient address from the account's
// chain address when the transfer has no raw address.
func (r *PostgresRepository) ListUnspentOutputs(ctx context.Context) ([]domain.UnspentOutput, error) {
	rows, err := r.db.Query(ctx, `
		SELECT cr.id, cr.tx_hash, COALESCE(NULLIF(t.recipient_address, ''), ca.address, '')
		FROM chain_receipts cr
		JOIN transfers t ON t.id = cr.transfer_id
		LEFT JOIN chain_addresses ca ON ca.account_id = t.recipient_account_id
		WHERE cr.status = 'SUCCESS'
		  AND cr.task_kind IN ('transfer', 'disbursement')
		  AND cr.tx_hash <> ''
		  AND cr.has_outbound_spend = FALSE
		ORDER BY cr.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []domain.UnspentOutput
	for rows.Next() {
		var out domain.UnspentOutput
		if err := rows.Scan(&out.ReceiptID, &out.TxHash, &out.RecipientAddress); err != nil {
			return nil, err
		}
		if out.RecipientAddress == "" {
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

// MarkReceiptOutputSpent records that the discovery sweep found a spend of
// this receipt's output, so later sweeps skip it.
func (r *PostgresRepository) MarkReceiptOutputSpent(ctx context.Context, receiptID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chain_receipts SET has_outbound_spend = TRUE WHERE id = $1`, receiptID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func (r *PostgresRepository) listReceipts(ctx context.Context, query string, args ...interface{}) ([]domain.ChainReceipt, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.ChainReceipt
	for rows.Next() {
		receipt, err := scanReceiptRow(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (*domain.Transfer, error) {
	var t domain.Transfer
	var typ, status string
	err := row.Scan(
		&t.ID, &t.Amount, &typ, &status,
		&t.SenderAccountID, &t.RecipientAccountID, &t.SenderAddress, &t.RecipientAddress,
		&t.ResolvedAt, &t.ResolutionMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TransferType(typ)
	t.Status = domain.TransferStatus(status)
	return &t, nil
}

func scanReceiptRow(row rowScanner) (*domain.ChainReceipt, error) {
	var receipt domain.ChainReceipt
	var task, status string
	err := row.Scan(
		&receipt.ID, &receipt.TransferID, &task, &status, &receipt.TxHash,
		&receipt.SubmittedAt, &receipt.ConfirmedAt, &receipt.Nonce, &receipt.Message,
		&receipt.HasOutboundSpend, &receipt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	receipt.TaskKind = domain.TaskKind(task)
	receipt.Status = domain.ReceiptStatus(status)
	return &receipt, nil
}
