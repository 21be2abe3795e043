/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates transfer submission and resolution, derived balances and
 * settlement statuses, account approval, and hand-off to the settlement dispatcher.
 *
 * Key features:
 * - Transfers are decided synchronously (COMPLETE/REJECTED) from ledger state
 *   alone; chain settlement is dispatched afterwards as best effort and its
 *   failures never unwind a ledger decision.
 * - Balances and settlement statuses are derived on read from the transfer and
 *   receipt log; nothing imperatively updates a stored balance.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/keystore: For chain-address private key encryption.
 */

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
	"github.com/opencredit/ledger-service/pkg/keystore"
)

var (
	// ErrInsufficientBalance is returned after the transfer has been persisted
	// as REJECTED; the caller still receives the rejected transfer.
	ErrInsufficientBalance = errors.New("sender balance is insufficient")
	// ErrSenderNotApproved and ErrRecipientNotApproved likewise accompany a
	// persisted REJECTED transfer.
	ErrSenderNotApproved    = errors.New("sender account is not approved")
	ErrRecipientNotApproved = errors.New("recipient account is not approved")
)

// AddressDeriver derives a public chain address from a raw private key. The
// chain-specific cryptography lives behind the wallet service.
type AddressDeriver interface {
	DeriveAddress(ctx context.Context, privateKeyHex string) (string, error)
}

// SettlementNotifier pushes receipt state changes to the front-end layer.
// Implementations must not block the caller.
type SettlementNotifier interface {
	NotifySettlementUpdate(update domain.SettlementUpdate)
}

// ServiceConfig carries the ledger-side settings the service needs.
type ServiceConfig struct {
	Tasks           domain.TaskConfig
	StartingBalance int64
	MasterAddress   string
}

// Service provides the core business logic for the credit transfer ledger.
type Service struct {
	repo       store.Repository
	cache      *BalanceCache
	dispatcher *Dispatcher
	keys       *keystore.Keystore
	deriver    AddressDeriver
	notifier   SettlementNotifier
	cfg        ServiceConfig
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, cache *BalanceCache, dispatcher *Dispatcher, keys *keystore.Keystore, deriver AddressDeriver, notifier SettlementNotifier, cfg ServiceConfig) *Service {
	return &Service{
		repo:       repo,
		cache:      cache,
		dispatcher: dispatcher,
		keys:       keys,
		deriver:    deriver,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// CreateAccount registers a new account together with its chain address. When
// no external address is supplied a fresh platform-managed key is generated,
// encrypted at rest, and its public address derived.
func (s *Service) CreateAccount(ctx context.Context, name string, isBeneficiary bool, tier domain.VendorTier, externalAddress string) (*domain.Account, error) {
	account := &domain.Account{
		ID:            uuid.New(),
		Name:          name,
		IsBeneficiary: isBeneficiary,
		VendorTier:    tier,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	address := &domain.ChainAddress{
		ID:        uuid.New(),
		Owner:     domain.OwnerAccount,
		AccountID: &account.ID,
	}

	if externalAddress != "" {
		address.Address = externalAddress
	} else {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate private key: %w", err)
		}
		privateKeyHex := hex.EncodeToString(raw)

		encrypted, err := s.keys.Encrypt(privateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("encrypt private key: %w", err)
		}
		address.EncryptedPrivateKey = encrypted

		derived, err := s.deriver.DeriveAddress(ctx, privateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("derive address: %w", err)
		}
		address.Address = derived
	}

	if err := s.repo.CreateChainAddress(ctx, address); err != nil {
		return nil, fmt.Errorf("create chain address: %w", err)
	}

	return account, nil
}

// ApproveAccount marks an account approved. The first approval of a
// beneficiary account also issues its initial disbursement of the configured
// starting balance.
func (s *Service) ApproveAccount(ctx context.Context, accountID uuid.UUID) (*domain.Transfer, error) {
	flipped, err := s.repo.MarkAccountApproved(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, nil
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsBeneficiary || s.cfg.StartingBalance <= 0 {
		return nil, nil
	}

	disbursement, err := s.SubmitTransfer(ctx, s.cfg.StartingBalance, nil, &accountID, domain.TransferTypeDisbursement)
	if err != nil {
		return disbursement, fmt.Errorf("initial disbursement: %w", err)
	}
	return disbursement, nil
}

// Balance returns the account's derived balance, serving from the cache when
// possible. The cache is advisory only; the transfer log is authoritative.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if balance, ok := s.cache.Get(ctx, accountID); ok {
		return balance, nil
	}
	balance, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(ctx, accountID, balance)
	return balance, nil
}

// SubmitTransfer validates, persists, and synchronously decides a transfer.
// Construction failures are returned without persisting anything; balance and
// approval failures persist the transfer as REJECTED with a resolution
// message and return it alongside the sentinel error. A completed transfer is
// handed to the settlement dispatcher before returning.
func (s *Service) SubmitTransfer(ctx context.Context, amount int64, senderID, recipientID *uuid.UUID, explicitType domain.TransferType) (*domain.Transfer, error) {
	sender, recipient, err := s.loadParties(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	transfer, err := domain.NewTransfer(amount, sender, recipient, explicitType)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("persist transfer: %w", err)
	}

	return s.decide(ctx, transfer, sender, recipient)
}

// InitiateWithdrawal creates a withdrawal that stays PENDING until an
// operator resolves it. Vendors cash out through this path.
func (s *Service) InitiateWithdrawal(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.Transfer, error) {
	sender, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !sender.VendorTier.Meets(domain.TierVendor) {
		return nil, ErrSenderNotApproved
	}

	transfer, err := domain.NewTransfer(amount, sender, nil, domain.TransferTypeWithdrawal)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("persist withdrawal: %w", err)
	}
	return transfer, nil
}

// ResolvePendingTransfer lets an operator decide a PENDING transfer. Approval
// re-runs the synchronous checks before completing; rejection records the
// supplied message.
func (s *Service) ResolvePendingTransfer(ctx context.Context, transferID uuid.UUID, approve bool, message string) (*domain.Transfer, error) {
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.IsResolved() {
		return transfer, domain.ErrTransferAlreadyResolved
	}

	if !approve {
		if err := s.reject(ctx, transfer, message); err != nil {
			return nil, err
		}
		return transfer, nil
	}

	sender, recipient, err := s.loadParties(ctx, transfer.SenderAccountID, transfer.RecipientAccountID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, transfer, sender, recipient)
}

// decide runs the synchronous validity checks and resolves the transfer one
// way, dispatching settlement on completion.
func (s *Service) decide(ctx context.Context, transfer *domain.Transfer, sender, recipient *domain.Account) (*domain.Transfer, error) {
	if sender != nil {
		if !sender.IsApproved {
			return transfer, s.rejectWith(ctx, transfer, "sender account is not approved", ErrSenderNotApproved)
		}
		balance, err := s.repo.Balance(ctx, sender.ID)
		if err != nil {
			return nil, fmt.Errorf("sender balance: %w", err)
		}
		if balance-transfer.Amount < 0 {
			return transfer, s.rejectWith(ctx, transfer, "insufficient balance", ErrInsufficientBalance)
		}
	}
	if transfer.Type == domain.TransferTypePayment && recipient != nil && !recipient.IsApproved {
		return transfer, s.rejectWith(ctx, transfer, "recipient account is not approved", ErrRecipientNotApproved)
	}

	now := time.Now().UTC()
	if err := transfer.ResolveAsComplete(now); err != nil {
		return nil, err
	}
	if err := s.repo.ResolveTransfer(ctx, transfer.ID, domain.TransferStatusComplete, "", now); err != nil {
		return nil, fmt.Errorf("resolve transfer: %w", err)
	}
	s.invalidateBalances(ctx, transfer)

	// Ledger decision is final from here; settlement is best effort.
	s.dispatcher.Dispatch(ctx, transfer, false)

	return transfer, nil
}

func (s *Service) reject(ctx context.Context, transfer *domain.Transfer, message string) error {
	now := time.Now().UTC()
	if err := transfer.ResolveAsRejected(now, message); err != nil {
		return err
	}
	return s.repo.ResolveTransfer(ctx, transfer.ID, domain.TransferStatusRejected, message, now)
}

func (s *Service) rejectWith(ctx context.Context, transfer *domain.Transfer, message string, cause error) error {
	if err := s.reject(ctx, transfer, message); err != nil {
		return err
	}
	return cause
}

// MasterWalletApprovalStatus derives an account's approval state from its
// approval receipts and the chain configuration.
func (s *Service) MasterWalletApprovalStatus(ctx context.Context, accountID uuid.UUID) (domain.ApprovalStatus, error) {
	address, err := s.repo.FindChainAddressByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrChainAddressNotFound) {
			return domain.ApprovalNotRequired, nil
		}
		return "", err
	}
	receipts, err := s.repo.ListApprovalReceiptsForAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return domain.DeriveApprovalStatus(s.cfg.Tasks.UsesExternalToken, address, receipts), nil
}

// RequiredTasks resolves the ordered on-chain task list a transfer needs,
// deriving the relevant party's approval status first.
func (s *Service) RequiredTasks(ctx context.Context, transfer *domain.Transfer) ([]domain.TaskKind, error) {
	approval, err := s.approvalForTransfer(ctx, transfer)
	if err != nil {
		return nil, err
	}
	return domain.RequiredTasks(transfer, s.cfg.Tasks, approval), nil
}

// TransferSettlement is the combined ledger + settlement view of a transfer.
// API consumers must read both statuses: a ledger-COMPLETE transfer can sit
// at settlement PENDING or ERROR.
type TransferSettlement struct {
	Transfer   *domain.Transfer                     `json:"transfer"`
	Settlement domain.SettlementStatus              `json:"settlement_status"`
	Breakdown  map[domain.TaskKind]domain.TaskState `json:"breakdown"`
}

// SettlementStatus derives the transfer's settlement state from its receipt
// history, with the per-task breakdown merged by status rank.
func (s *Service) SettlementStatus(ctx context.Context, transferID uuid.UUID) (*TransferSettlement, error) {
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	required, err := s.RequiredTasks(ctx, transfer)
	if err != nil {
		return nil, err
	}
	receipts, err := s.repo.ListReceiptsByTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	return &TransferSettlement{
		Transfer:   transfer,
		Settlement: domain.DeriveSettlementStatus(required, receipts),
		Breakdown:  domain.SettlementBreakdown(required, receipts),
	}, nil
}

// RetrySettlement re-dispatches an incomplete settlement. The dispatcher
// recomputes the uncompleted task list and no-ops when nothing remains.
func (s *Service) RetrySettlement(ctx context.Context, transferID uuid.UUID) error {
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status != domain.TransferStatusComplete {
		return fmt.Errorf("transfer %s is not complete in the ledger", transferID)
	}
	s.dispatcher.Dispatch(ctx, transfer, true)
	return nil
}

// RecordInboundTransfer books a transfer discovered on-chain that this system
// did not initiate. Parties are raw addresses, possibly resolved back to
// accounts; the transfer is COMPLETE immediately with a SUCCESS receipt
// carrying the observed hash. Duplicate hashes are dropped.
func (s *Service) RecordInboundTransfer(ctx context.Context, inbound domain.InboundTransfer) (*domain.Transfer, error) {
	seen, err := s.repo.ExistsReceiptForHash(ctx, inbound.TxHash)
	if err != nil {
		return nil, err
	}
	if seen {
		log.Printf("level=info component=ledger msg=\"inbound transfer already recorded\" tx_hash=%s", inbound.TxHash)
		return nil, nil
	}

	now := time.Now().UTC()
	transfer := &domain.Transfer{
		ID:               uuid.New(),
		Amount:           inbound.Amount,
		Type:             domain.TransferTypePayment,
		Status:           domain.TransferStatusComplete,
		SenderAddress:    inbound.SenderAddress,
		RecipientAddress: inbound.RecipientAddress,
		ResolvedAt:       &now,
	}

	// Attach ledger accounts when the addresses are ours.
	if addr, err := s.repo.FindChainAddressByAddress(ctx, inbound.SenderAddress); err == nil && addr.AccountID != nil {
		transfer.SenderAccountID = addr.AccountID
	}
	if addr, err := s.repo.FindChainAddressByAddress(ctx, inbound.RecipientAddress); err == nil && addr.AccountID != nil {
		transfer.RecipientAccountID = addr.AccountID
	}

	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("persist inbound transfer: %w", err)
	}
	s.invalidateBalances(ctx, transfer)

	receipt := &domain.ChainReceipt{
		ID:          uuid.New(),
		TransferID:  transfer.ID,
		TaskKind:    domain.TaskTransfer,
		Status:      domain.ReceiptStatusSuccess,
		TxHash:      inbound.TxHash,
		ConfirmedAt: &now,
	}
	if err := s.repo.CreateReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("persist inbound receipt: %w", err)
	}

	return transfer, nil
}

// RecordReceipt idempotently records a settlement task outcome reported by
// the worker. Reports only ever upgrade a receipt's status rank, so stale or
// repeated reports are harmless. Any change is pushed to the front end.
func (s *Service) RecordReceipt(ctx context.Context, report domain.ReceiptReport) (*domain.ChainReceipt, error) {
	receipt, err := s.repo.UpsertReceipt(ctx, report)
	if err != nil {
		return nil, fmt.Errorf("upsert receipt: %w", err)
	}
	if s.notifier != nil {
		s.notifier.NotifySettlementUpdate(domain.SettlementUpdate{
			TransferID: receipt.TransferID,
			TaskKind:   receipt.TaskKind,
			Status:     receipt.Status,
			TxHash:     receipt.TxHash,
		})
	}
	return receipt, nil
}

// ListUnspentOutputs returns the outbound settlement outputs the discovery
// sweep still watches for counterparty spends.
func (s *Service) ListUnspentOutputs(ctx context.Context) ([]domain.UnspentOutput, error) {
	return s.repo.ListUnspentOutputs(ctx)
}

// MarkOutputSpent records that a watched output has been spent on-chain.
func (s *Service) MarkOutputSpent(ctx context.Context, receiptID uuid.UUID) error {
	return s.repo.MarkReceiptOutputSpent(ctx, receiptID)
}

func (s *Service) approvalForTransfer(ctx context.Context, transfer *domain.Transfer) (domain.ApprovalStatus, error) {
	var partyID *uuid.UUID
	if transfer.Type == domain.TransferTypeWithdrawal {
		partyID = transfer.SenderAccountID
	} else {
		partyID = transfer.RecipientAccountID
	}
	if partyID == nil {
		return domain.ApprovalNotRequired, nil
	}
	return s.MasterWalletApprovalStatus(ctx, *partyID)
}

func (s *Service) loadParties(ctx context.Context, senderID, recipientID *uuid.UUID) (*domain.Account, *domain.Account, error) {
	var sender, recipient *domain.Account
	var err error
	if senderID != nil {
		if sender, err = s.repo.FindAccountByID(ctx, *senderID); err != nil {
			return nil, nil, fmt.Errorf("find sender: %w", err)
		}
	}
	if recipientID != nil {
		if recipient, err = s.repo.FindAccountByID(ctx, *recipientID); err != nil {
			return nil, nil, fmt.Errorf("find recipient: %w", err)
		}
	}
	return sender, recipient, nil
}

// invalidateBalances drops cached balances for both parties of a transfer
// whose status just changed to or from COMPLETE.
func (s *Service) invalidateBalances(ctx context.Context, transfer *domain.Transfer) {
	if transfer.SenderAccountID != nil {
		s.cache.Invalidate(ctx, *transfer.SenderAccountID)
	}
	if transfer.RecipientAccountID != nil {
		s.cache.Invalidate(ctx, *transfer.RecipientAccountID)
	}
}
