/**
 * @description
 * This file implements the settlement dispatcher: it turns a ledger-complete
 * transfer into an outbound settlement request and publishes it for the
 * settlement worker. Dispatch is strictly best effort: any failure here is
 * logged and swallowed, because the ledger decision is already final and the
 * periodic re-scan job will re-dispatch incomplete settlements.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Message publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
	"github.com/opencredit/ledger-service/pkg/rabbitmq"
)

// DispatcherConfig carries the settings the dispatcher needs.
type DispatcherConfig struct {
	Exchange      string
	Tasks         domain.TaskConfig
	MasterAddress string
}

// Dispatcher builds and publishes settlement requests.
type Dispatcher struct {
	repo     store.Repository
	producer rabbitmq.Publisher
	cfg      DispatcherConfig
}

// NewDispatcher creates a new settlement dispatcher.
func NewDispatcher(repo store.Repository, producer rabbitmq.Publisher, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{repo: repo, producer: producer, cfg: cfg}
}

// Dispatch publishes a settlement request for the transfer. The uncompleted
// task list is recomputed from current receipts, never cached; a retry with
// nothing left to do is a no-op, which makes duplicate retries harmless.
func (d *Dispatcher) Dispatch(ctx context.Context, transfer *domain.Transfer, isRetry bool) {
	request, err := d.buildRequest(ctx, transfer, isRetry)
	if err != nil {
		log.Printf("level=error component=dispatcher msg=\"failed to build settlement request\" transfer_id=%s err=%v", transfer.ID, err)
		return
	}
	if request == nil {
		return
	}

	routingKey := "settlement.request." + strings.ToLower(string(transfer.Type))
	if err := d.producer.Publish(ctx, d.cfg.Exchange, routingKey, request); err != nil {
		// Swallowed: the re-scan of incomplete transfers retries settlement.
		log.Printf("level=error component=dispatcher msg=\"failed to publish settlement request\" transfer_id=%s routing_key=%s err=%v", transfer.ID, routingKey, err)
	}
}

func (d *Dispatcher) buildRequest(ctx context.Context, transfer *domain.Transfer, isRetry bool) (*domain.SettlementRequest, error) {
	receipts, err := d.repo.ListReceiptsByTransfer(ctx, transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}

	approvalPartyID := transfer.RecipientAccountID
	if transfer.Type == domain.TransferTypeWithdrawal {
		approvalPartyID = transfer.SenderAccountID
	}

	approval := domain.ApprovalNotRequired
	var approvalAddress *domain.ChainAddress
	if approvalPartyID != nil {
		approvalAddress, err = d.lookupAddress(ctx, *approvalPartyID)
		if err != nil {
			return nil, err
		}
		approvalReceipts, err := d.repo.ListApprovalReceiptsForAccount(ctx, *approvalPartyID)
		if err != nil {
			return nil, fmt.Errorf("list approval receipts: %w", err)
		}
		approval = domain.DeriveApprovalStatus(d.cfg.Tasks.UsesExternalToken, approvalAddress, approvalReceipts)
	}

	required := domain.RequiredTasks(transfer, d.cfg.Tasks, approval)
	uncompleted := domain.UncompletedTasks(required, receipts)
	if isRetry && len(uncompleted) == 0 {
		log.Printf("level=info component=dispatcher msg=\"retry has no uncompleted tasks; skipping\" transfer_id=%s", transfer.ID)
		return nil, nil
	}

	request := &domain.SettlementRequest{
		Type:             transfer.Type,
		TransferID:       transfer.ID,
		Amount:           transfer.Amount,
		ApprovalStatus:   approval,
		UncompletedTasks: uncompleted,
		IsRetry:          isRetry,
	}

	if approval.NeedsRequest() && approvalAddress != nil {
		request.AccountToApproveKey = approvalAddress.EncryptedPrivateKey
	}

	switch transfer.Type {
	case domain.TransferTypeDisbursement:
		request.SenderAddress = d.cfg.MasterAddress
		request.RecipientAddress, err = d.resolvePartyAddress(ctx, transfer.RecipientAccountID, transfer.RecipientAddress)
	case domain.TransferTypeWithdrawal:
		request.RecipientAddress = d.cfg.MasterAddress
		request.SenderAddress, err = d.resolvePartyAddress(ctx, transfer.SenderAccountID, transfer.SenderAddress)
	default:
		request.SenderAddress, err = d.resolvePartyAddress(ctx, transfer.SenderAccountID, transfer.SenderAddress)
		if err == nil {
			request.RecipientAddress, err = d.resolvePartyAddress(ctx, transfer.RecipientAccountID, transfer.RecipientAddress)
		}
	}
	if err != nil {
		return nil, err
	}

	return request, nil
}

// resolvePartyAddress prefers the account's chain address, falling back to
// the raw address a counterparty-only transfer carries.
func (d *Dispatcher) resolvePartyAddress(ctx context.Context, accountID *uuid.UUID, rawAddress string) (string, error) {
	if accountID != nil {
		addr, err := d.lookupAddress(ctx, *accountID)
		if err != nil {
			return "", err
		}
		if addr != nil {
			return addr.Address, nil
		}
	}
	if rawAddress == "" {
		return "", fmt.Errorf("no chain address available for settlement party")
	}
	return rawAddress, nil
}

func (d *Dispatcher) lookupAddress(ctx context.Context, accountID uuid.UUID) (*domain.ChainAddress, error) {
	addr, err := d.repo.FindChainAddressByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrChainAddressNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find chain address: %w", err)
	}
	return addr, nil
}
