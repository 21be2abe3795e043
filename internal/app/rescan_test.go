package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
)

type rescanRepoStub struct {
	store.Repository

	transfers []domain.Transfer
	receipts  []domain.ChainReceipt
	address   *domain.ChainAddress
}

func (s *rescanRepoStub) ListCompletedTransfersSince(ctx context.Context, since time.Time) ([]domain.Transfer, error) {
	return s.transfers, nil
}

func (s *rescanRepoStub) ListReceiptsByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.ChainReceipt, error) {
	return s.receipts, nil
}

func (s *rescanRepoStub) ListApprovalReceiptsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.ChainReceipt, error) {
	return nil, nil
}

func (s *rescanRepoStub) FindChainAddressByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.ChainAddress, error) {
	if s.address == nil {
		return nil, store.ErrChainAddressNotFound
	}
	return s.address, nil
}

func newRescanFixture(resolvedAt *time.Time, receipts []domain.ChainReceipt, grace time.Duration) (*RescanJob, *publisherStub) {
	senderID := uuid.New()
	recipientID := uuid.New()
	transfer := domain.Transfer{
		ID:                 uuid.New(),
		Type:               domain.TransferTypePayment,
		Status:             domain.TransferStatusComplete,
		Amount:             500,
		SenderAccountID:    &senderID,
		RecipientAccountID: &recipientID,
		ResolvedAt:         resolvedAt,
	}
	for i := range receipts {
		receipts[i].TransferID = transfer.ID
	}

	repo := &rescanRepoStub{
		transfers: []domain.Transfer{transfer},
		receipts:  receipts,
		address:   &domain.ChainAddress{ID: uuid.New(), Owner: domain.OwnerAccount, Address: "addr"},
	}
	publisher := &publisherStub{}
	dispatcher := NewDispatcher(repo, publisher, DispatcherConfig{Exchange: "ledger.settlement"})
	service := NewService(repo, NewBalanceCache(nil, ""), dispatcher, nil, nil, nil, ServiceConfig{})
	return NewRescanJob(repo, service, dispatcher, 72*time.Hour, grace), publisher
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestRescan_StalledPendingIsRedispatched(t *testing.T) {
	stale := time.Now().UTC().Add(-time.Hour)
	job, publisher := newRescanFixture(timePtr(stale), []domain.ChainReceipt{
		{TaskKind: domain.TaskTransfer, Status: domain.ReceiptStatusPending, TxHash: "0xstuck", CreatedAt: stale},
	}, 10*time.Minute)

	job.Run()

	if len(publisher.published) != 1 {
		t.Fatalf("expected one re-dispatch, got %d", len(publisher.published))
	}
	request := publisher.published[0].body.(*domain.SettlementRequest)
	if !request.IsRetry {
		t.Fatal("expected re-dispatched request to be marked as a retry")
	}
}

func TestRescan_ActivelyPolledPendingIsSkipped(t *testing.T) {
	stale := time.Now().UTC().Add(-time.Hour)
	job, publisher := newRescanFixture(timePtr(stale), []domain.ChainReceipt{
		{TaskKind: domain.TaskTransfer, Status: domain.ReceiptStatusPending, TxHash: "0xlive", CreatedAt: time.Now().UTC()},
	}, 10*time.Minute)

	job.Run()

	if len(publisher.published) != 0 {
		t.Fatalf("expected no re-dispatch while polling is active, got %d", len(publisher.published))
	}
}

func TestRescan_FreshlyResolvedTransferWithoutReceiptsIsSkipped(t *testing.T) {
	// The first settlement request may still be mid-broadcast with no
	// receipt recorded yet; a re-dispatch here would double-broadcast.
	job, publisher := newRescanFixture(timePtr(time.Now().UTC()), nil, 10*time.Minute)

	job.Run()

	if len(publisher.published) != 0 {
		t.Fatalf("expected no re-dispatch for a freshly resolved transfer, got %d", len(publisher.published))
	}
}

func TestRescan_UnsettledTransferPastGraceIsRedispatched(t *testing.T) {
	stale := time.Now().UTC().Add(-time.Hour)
	job, publisher := newRescanFixture(timePtr(stale), nil, 10*time.Minute)

	job.Run()

	if len(publisher.published) != 1 {
		t.Fatalf("expected one re-dispatch for an unsettled transfer past the grace, got %d", len(publisher.published))
	}
}

func TestRescan_FailedSettlementIsRedispatchedAfterGrace(t *testing.T) {
	stale := time.Now().UTC().Add(-time.Hour)
	job, publisher := newRescanFixture(timePtr(stale), []domain.ChainReceipt{
		{TaskKind: domain.TaskTransfer, Status: domain.ReceiptStatusFailed, TxHash: "", CreatedAt: stale},
	}, 10*time.Minute)

	job.Run()

	if len(publisher.published) != 1 {
		t.Fatalf("expected one re-dispatch for a failed settlement, got %d", len(publisher.published))
	}
}

func TestRescan_CompleteSettlementIsSkipped(t *testing.T) {
	stale := time.Now().UTC().Add(-time.Hour)
	job, publisher := newRescanFixture(timePtr(stale), []domain.ChainReceipt{
		{TaskKind: domain.TaskTransfer, Status: domain.ReceiptStatusSuccess, TxHash: "0xdone", CreatedAt: stale},
	}, 10*time.Minute)

	job.Run()

	if len(publisher.published) != 0 {
		t.Fatalf("expected no re-dispatch for a settled transfer, got %d", len(publisher.published))
	}
}
