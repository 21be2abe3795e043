/**
 * @description
 * This file implements the settlement submitter, the worker's transaction
 * state machine. Each settlement task walks BUILT -> SUBMITTED -> IN_POOL ->
 * CONFIRMED, with a receipt report delivered to the ledger at every visible
 * transition. Broadcasting is the point of no return: once the wallet service
 * returns a hash, the money is spent no matter what polling later observes,
 * so the submitter never resubmits and a confirmation timeout simply leaves
 * the receipt PENDING for a later retry dispatch to inspect.
 *
 * @dependencies
 * - context, errors, log/slog, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact cents-to-native unit conversion.
 * - internal/domain: Wire payload types shared with the server.
 * - pkg/chainwallet, pkg/explorer: Wallet and explorer clients.
 */

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/pkg/chainwallet"
	"github.com/opencredit/ledger-service/pkg/explorer"
)

// txState is the submitter-side lifecycle of one broadcast transaction.
type txState string

const (
	stateBuilt     txState = "BUILT"
	stateSubmitted txState = "SUBMITTED"
	stateInPool    txState = "IN_POOL"
	stateConfirmed txState = "CONFIRMED"
)

// ErrTaskFailed is returned when a settlement task reached a terminal FAILED
// state; dependent tasks for the same request must not run.
var ErrTaskFailed = errors.New("settlement task failed")

// WalletClient is the subset of the wallet service the submitter needs.
type WalletClient interface {
	Send(ctx context.Context, outputs []chainwallet.Output) (string, *int64, error)
	Approve(ctx context.Context, accountKey string) (string, error)
}

// ExplorerClient polls broadcast transactions for mempool acceptance and
// confirmations.
type ExplorerClient interface {
	GetTransaction(ctx context.Context, hash string) (*explorer.Transaction, error)
}

// ReceiptReporter delivers receipt reports back to the ledger server.
type ReceiptReporter interface {
	ReportReceipt(ctx context.Context, report domain.ReceiptReport) error
}

// SubmitterConfig carries the chain settings the submitter needs.
type SubmitterConfig struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	// ChainDecimals is the shift from native units to whole currency units.
	ChainDecimals   int
	Currency        string
	ForceLoadAmount int64
}

// Submitter executes settlement tasks against the wallet service and polls
// the explorer until each broadcast transaction confirms.
type Submitter struct {
	wallet   WalletClient
	explorer ExplorerClient
	reporter ReceiptReporter
	logger   *slog.Logger
	cfg      SubmitterConfig
}

// NewSubmitter creates a new settlement submitter.
func NewSubmitter(wallet WalletClient, explorerClient ExplorerClient, reporter ReceiptReporter, logger *slog.Logger, cfg SubmitterConfig) *Submitter {
	return &Submitter{
		wallet:   wallet,
		explorer: explorerClient,
		reporter: reporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// nativeAmount converts cents into native chain units rendered as a decimal
// string. Cents shift by -2 to whole units and by -ChainDecimals on to
// native units.
func (s *Submitter) nativeAmount(cents int64) string {
	return decimal.NewFromInt(cents).Shift(int32(-2 - s.cfg.ChainDecimals)).String()
}

// SubmitTask runs one settlement task to its terminal or timed-out state. A
// broadcast failure records a FAILED receipt and returns ErrTaskFailed so the
// caller skips dependent tasks; a confirmation timeout leaves the receipt
// PENDING and returns nil.
func (s *Submitter) SubmitTask(ctx context.Context, req domain.SettlementRequest, task domain.TaskKind) error {
	state := stateBuilt
	s.logger.Info("submitting settlement task", "transfer_id", req.TransferID, "task", string(task), "state", string(state))

	hash, nonce, err := s.broadcast(ctx, req, task)
	if err != nil {
		s.logger.Error("broadcast failed", "transfer_id", req.TransferID, "task", string(task), "error", err)
		s.report(ctx, domain.ReceiptReport{
			TransferID: req.TransferID,
			TaskKind:   task,
			Status:     domain.ReceiptStatusFailed,
			Message:    err.Error(),
		})
		return ErrTaskFailed
	}

	state = stateSubmitted
	now := time.Now().UTC()
	s.report(ctx, domain.ReceiptReport{
		TransferID:  req.TransferID,
		TaskKind:    task,
		Status:      domain.ReceiptStatusPending,
		TxHash:      hash,
		SubmittedAt: &now,
		Nonce:       nonce,
	})

	return s.awaitConfirmation(ctx, hash, state, []receiptKey{{req.TransferID, task}})
}

// SubmitBatch broadcasts one transaction covering every batched request and
// reports a receipt per request against the shared hash.
func (s *Submitter) SubmitBatch(ctx context.Context, reqs []domain.SettlementRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	outputs := make([]chainwallet.Output, 0, len(reqs))
	keys := make([]receiptKey, 0, len(reqs))
	for _, req := range reqs {
		outputs = append(outputs, chainwallet.Output{
			Address:  req.RecipientAddress,
			Amount:   s.nativeAmount(req.Amount),
			Currency: s.cfg.Currency,
		})
		keys = append(keys, receiptKey{req.TransferID, batchTask(req)})
	}

	s.logger.Info("submitting settlement batch", "size", len(reqs))
	hash, nonce, err := s.wallet.Send(ctx, outputs)
	if err != nil {
		s.logger.Error("batch broadcast failed", "size", len(reqs), "error", err)
		for _, key := range keys {
			s.report(ctx, domain.ReceiptReport{
				TransferID: key.transferID,
				TaskKind:   key.task,
				Status:     domain.ReceiptStatusFailed,
				Message:    err.Error(),
			})
		}
		return ErrTaskFailed
	}

	now := time.Now().UTC()
	for _, key := range keys {
		s.report(ctx, domain.ReceiptReport{
			TransferID:  key.transferID,
			TaskKind:    key.task,
			Status:      domain.ReceiptStatusPending,
			TxHash:      hash,
			SubmittedAt: &now,
			Nonce:       nonce,
		})
	}

	return s.awaitConfirmation(ctx, hash, stateSubmitted, keys)
}

type receiptKey struct {
	transferID uuid.UUID
	task       domain.TaskKind
}

// broadcast hands the task to the wallet service and returns the transaction
// hash.
func (s *Submitter) broadcast(ctx context.Context, req domain.SettlementRequest, task domain.TaskKind) (string, *int64, error) {
	switch task {
	case domain.TaskMasterWalletApproval:
		if req.AccountToApproveKey == "" {
			return "", nil, fmt.Errorf("approval task without account key")
		}
		hash, err := s.wallet.Approve(ctx, req.AccountToApproveKey)
		return hash, nil, err
	case domain.TaskEtherLoad:
		return s.wallet.Send(ctx, []chainwallet.Output{{
			Address:  req.RecipientAddress,
			Amount:   s.nativeAmount(s.cfg.ForceLoadAmount),
			Currency: s.cfg.Currency,
		}})
	default:
		return s.wallet.Send(ctx, []chainwallet.Output{{
			Address:  req.RecipientAddress,
			Amount:   s.nativeAmount(req.Amount),
			Currency: s.cfg.Currency,
		}})
	}
}

// awaitConfirmation polls the explorer until the transaction confirms or the
// attempt budget is exhausted. Exhaustion is not a failure: the receipts stay
// PENDING and a later retry dispatch reconciles them.
func (s *Submitter) awaitConfirmation(ctx context.Context, hash string, state txState, keys []receiptKey) error {
	for attempt := 1; attempt <= s.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}

		tx, err := s.explorer.GetTransaction(ctx, hash)
		if err != nil {
			if errors.Is(err, explorer.ErrTransactionNotFound) {
				continue
			}
			s.logger.Warn("explorer poll failed", "tx_hash", hash, "attempt", attempt, "error", err)
			continue
		}

		if tx.Confirmations > 0 {
			state = stateConfirmed
			now := time.Now().UTC()
			for _, key := range keys {
				s.report(ctx, domain.ReceiptReport{
					TransferID:  key.transferID,
					TaskKind:    key.task,
					Status:      domain.ReceiptStatusSuccess,
					TxHash:      hash,
					ConfirmedAt: &now,
				})
			}
			s.logger.Info("transaction confirmed", "tx_hash", hash, "confirmations", tx.Confirmations, "state", string(state))
			return nil
		}

		if state != stateInPool {
			state = stateInPool
			s.logger.Info("transaction accepted into mempool", "tx_hash", hash, "state", string(state))
		}
	}

	s.logger.Warn("confirmation polling exhausted; leaving receipts pending", "tx_hash", hash, "attempts", s.cfg.PollMaxAttempts, "state", string(state))
	return nil
}

// report delivers a receipt report, logging delivery failures. The report is
// not retried here: the upsert is idempotent and the re-scan job will
// re-dispatch anything that never got recorded.
func (s *Submitter) report(ctx context.Context, report domain.ReceiptReport) {
	if err := s.reporter.ReportReceipt(ctx, report); err != nil {
		s.logger.Error("failed to deliver receipt report", "transfer_id", report.TransferID, "task", string(report.TaskKind), "status", string(report.Status), "error", err)
	}
}

// batchTask resolves the single task a batched request settles.
func batchTask(req domain.SettlementRequest) domain.TaskKind {
	if len(req.UncompletedTasks) == 1 {
		return req.UncompletedTasks[0]
	}
	return domain.TaskDisbursement
}
