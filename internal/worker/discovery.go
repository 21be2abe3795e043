/**
 * @description
 * This file implements the inbound-spend discovery sweep. Outbound settlement
 * outputs stay on a watch list until their recipient spends them; when a
 * spend appears on the explorer, the sweep books the spend as an address-only
 * inbound transfer on the ledger and retires the output from the list.
 *
 * @dependencies
 * - context, errors, log/slog: Standard Go libraries.
 * - github.com/shopspring/decimal: Native-to-cents conversion.
 * - internal/domain: Wire payload types.
 * - pkg/explorer: Chain explorer client.
 */

package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/pkg/explorer"
)

// LedgerAPI is the subset of the ledger internal API the sweep needs.
type LedgerAPI interface {
	ListUnspentOutputs(ctx context.Context) ([]domain.UnspentOutput, error)
	MarkOutputSpent(ctx context.Context, receiptID string) error
	CreateInboundTransfer(ctx context.Context, inbound domain.InboundTransfer) error
}

// Discovery walks the watched outputs and records counterparty spends.
type Discovery struct {
	ledger   LedgerAPI
	explorer ExplorerClient
	logger   *slog.Logger
	// chainDecimals is the shift from native units to whole currency units.
	chainDecimals int
}

// NewDiscovery creates a new discovery sweep.
func NewDiscovery(ledger LedgerAPI, explorerClient ExplorerClient, logger *slog.Logger, chainDecimals int) *Discovery {
	return &Discovery{
		ledger:        ledger,
		explorer:      explorerClient,
		logger:        logger,
		chainDecimals: chainDecimals,
	}
}

// Run performs one sweep over the watch list. Individual output failures are
// logged and skipped; the next sweep picks them up again.
func (d *Discovery) Run() {
	ctx := context.Background()

	outputs, err := d.ledger.ListUnspentOutputs(ctx)
	if err != nil {
		d.logger.Error("failed to list watched outputs", "error", err)
		return
	}
	if len(outputs) == 0 {
		return
	}
	d.logger.Info("starting inbound-spend sweep", "watched", len(outputs))

	for _, out := range outputs {
		if err := d.sweepOutput(ctx, out); err != nil {
			d.logger.Warn("sweep of output failed; will retry next pass", "receipt_id", out.ReceiptID, "tx_hash", out.TxHash, "error", err)
		}
	}
}

func (d *Discovery) sweepOutput(ctx context.Context, out domain.UnspentOutput) error {
	tx, err := d.explorer.GetTransaction(ctx, out.TxHash)
	if err != nil {
		if errors.Is(err, explorer.ErrTransactionNotFound) {
			return nil
		}
		return err
	}

	spendTxID := spendOf(tx, out.RecipientAddress)
	if spendTxID == "" {
		return nil
	}

	spendTx, err := d.explorer.GetTransaction(ctx, spendTxID)
	if err != nil {
		return err
	}

	// Book every leg of the spend that leaves the watched address. Change
	// returning to the spender is not an inbound transfer.
	for _, leg := range spendTx.Outputs {
		recipient := firstForeignAddress(leg, out.RecipientAddress)
		if recipient == "" {
			continue
		}
		inbound := domain.InboundTransfer{
			SenderAddress:    out.RecipientAddress,
			RecipientAddress: recipient,
			TxHash:           spendTxID,
			Amount:           d.centsAmount(leg.Value),
		}
		if err := d.ledger.CreateInboundTransfer(ctx, inbound); err != nil {
			return err
		}
		d.logger.Info("recorded inbound spend", "tx_hash", spendTxID, "sender", inbound.SenderAddress, "recipient", recipient, "amount", inbound.Amount)
	}

	if err := d.ledger.MarkOutputSpent(ctx, out.ReceiptID.String()); err != nil {
		return err
	}
	return nil
}

// centsAmount converts native chain units back into cents.
func (d *Discovery) centsAmount(native int64) int64 {
	return decimal.NewFromInt(native).Shift(int32(d.chainDecimals + 2)).IntPart()
}

// spendOf finds the spend transaction id of the output paying the watched
// address, if any.
func spendOf(tx *explorer.Transaction, watched string) string {
	for _, out := range tx.Outputs {
		for _, addr := range out.Addresses {
			if addr == watched && out.SpendTxID != "" {
				return out.SpendTxID
			}
		}
	}
	return ""
}

// firstForeignAddress returns the first address on the leg that is not the
// spender, or empty when the leg is change.
func firstForeignAddress(leg explorer.Output, spender string) string {
	for _, addr := range leg.Addresses {
		if addr != spender {
			return addr
		}
	}
	return ""
}
