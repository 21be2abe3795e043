package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
)

type dispatcherRepoStub struct {
	store.Repository

	receipts []domain.ChainReceipt
	address  *domain.ChainAddress
}

func (s *dispatcherRepoStub) ListReceiptsByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.ChainReceipt, error) {
	return s.receipts, nil
}

func (s *dispatcherRepoStub) ListApprovalReceiptsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.ChainReceipt, error) {
	return nil, nil
}

func (s *dispatcherRepoStub) FindChainAddressByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.ChainAddress, error) {
	if s.address == nil {
		return nil, store.ErrChainAddressNotFound
	}
	return s.address, nil
}

func TestDispatch_RetryWithNothingLeftIsNoOp(t *testing.T) {
	senderID := uuid.New()
	recipientID := uuid.New()
	transfer := &domain.Transfer{
		ID:                 uuid.New(),
		Type:               domain.TransferTypePayment,
		Status:             domain.TransferStatusComplete,
		Amount:             100,
		SenderAccountID:    &senderID,
		RecipientAccountID: &recipientID,
	}

	repo := &dispatcherRepoStub{
		receipts: []domain.ChainReceipt{
			{TransferID: transfer.ID, TaskKind: domain.TaskTransfer, Status: domain.ReceiptStatusSuccess, TxHash: "0xdone"},
		},
		address: &domain.ChainAddress{ID: uuid.New(), Owner: domain.OwnerAccount, Address: "addr"},
	}
	publisher := &publisherStub{}
	dispatcher := NewDispatcher(repo, publisher, DispatcherConfig{Exchange: "ledger.settlement"})

	dispatcher.Dispatch(context.Background(), transfer, true)

	if len(publisher.published) != 0 {
		t.Fatalf("expected no publish for a settled retry, got %d", len(publisher.published))
	}
}

func TestDispatch_DisbursementUsesMasterAsSender(t *testing.T) {
	recipientID := uuid.New()
	transfer := &domain.Transfer{
		ID:                 uuid.New(),
		Type:               domain.TransferTypeDisbursement,
		Status:             domain.TransferStatusComplete,
		Amount:             2500,
		RecipientAccountID: &recipientID,
	}

	repo := &dispatcherRepoStub{
		address: &domain.ChainAddress{ID: uuid.New(), Owner: domain.OwnerAccount, Address: "recipient_addr"},
	}
	publisher := &publisherStub{}
	dispatcher := NewDispatcher(repo, publisher, DispatcherConfig{
		Exchange:      "ledger.settlement",
		MasterAddress: "master_addr",
	})

	dispatcher.Dispatch(context.Background(), transfer, false)

	if len(publisher.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(publisher.published))
	}
	if publisher.published[0].routingKey != "settlement.request.disbursement" {
		t.Fatalf("expected disbursement routing key, got %s", publisher.published[0].routingKey)
	}
	request := publisher.published[0].body.(*domain.SettlementRequest)
	if request.SenderAddress != "master_addr" {
		t.Fatalf("expected master wallet as sender, got %q", request.SenderAddress)
	}
	if request.RecipientAddress != "recipient_addr" {
		t.Fatalf("expected recipient chain address, got %q", request.RecipientAddress)
	}
}
