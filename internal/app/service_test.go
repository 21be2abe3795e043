package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
)

type serviceRepoStub struct {
	store.Repository

	accounts map[uuid.UUID]*domain.Account
	balances map[uuid.UUID]int64
	receipts map[uuid.UUID][]domain.ChainReceipt

	createdTransfer *domain.Transfer
	resolvedStatus  domain.TransferStatus
	resolvedMessage string
	resolveCalled   bool
}

func newServiceRepoStub() *serviceRepoStub {
	return &serviceRepoStub{
		accounts: make(map[uuid.UUID]*domain.Account),
		balances: make(map[uuid.UUID]int64),
		receipts: make(map[uuid.UUID][]domain.ChainReceipt),
	}
}

func (s *serviceRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *serviceRepoStub) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	s.createdTransfer = transfer
	return nil
}

func (s *serviceRepoStub) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.balances[accountID], nil
}

func (s *serviceRepoStub) ResolveTransfer(ctx context.Context, transferID uuid.UUID, status domain.TransferStatus, message string, resolvedAt time.Time) error {
	s.resolveCalled = true
	s.resolvedStatus = status
	s.resolvedMessage = message
	return nil
}

func (s *serviceRepoStub) ListReceiptsByTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.ChainReceipt, error) {
	return s.receipts[transferID], nil
}

func (s *serviceRepoStub) ListApprovalReceiptsForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.ChainReceipt, error) {
	return nil, nil
}

func (s *serviceRepoStub) FindChainAddressByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.ChainAddress, error) {
	return nil, store.ErrChainAddressNotFound
}

type publisherStub struct {
	published  []publishedMessage
	publishErr error
}

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func newTestService(repo *serviceRepoStub, publisher *publisherStub) *Service {
	dispatcher := NewDispatcher(repo, publisher, DispatcherConfig{
		Exchange:      "ledger.settlement",
		MasterAddress: "master_addr",
	})
	return NewService(repo, NewBalanceCache(nil, ""), dispatcher, nil, nil, nil, ServiceConfig{
		MasterAddress: "master_addr",
	})
}

func TestSubmitTransfer_InsufficientBalanceRejects(t *testing.T) {
	repo := newServiceRepoStub()
	sender := &domain.Account{ID: uuid.New(), Name: "sender", IsApproved: true}
	recipient := &domain.Account{ID: uuid.New(), Name: "recipient", IsApproved: true}
	repo.accounts[sender.ID] = sender
	repo.accounts[recipient.ID] = recipient
	repo.balances[sender.ID] = 50

	publisher := &publisherStub{}
	service := newTestService(repo, publisher)

	transfer, err := service.SubmitTransfer(context.Background(), 100, &sender.ID, &recipient.ID, "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if transfer == nil {
		t.Fatal("expected the rejected transfer to be returned")
	}
	if transfer.Status != domain.TransferStatusRejected {
		t.Fatalf("expected status REJECTED, got %s", transfer.Status)
	}
	if repo.resolvedStatus != domain.TransferStatusRejected || repo.resolvedMessage != "insufficient balance" {
		t.Fatalf("expected rejection persisted with message, got status=%s message=%q", repo.resolvedStatus, repo.resolvedMessage)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("expected no settlement dispatch for a rejected transfer, got %d", len(publisher.published))
	}
}

func TestSubmitTransfer_UnapprovedSenderRejects(t *testing.T) {
	repo := newServiceRepoStub()
	sender := &domain.Account{ID: uuid.New(), Name: "sender", IsApproved: false}
	recipient := &domain.Account{ID: uuid.New(), Name: "recipient", IsApproved: true}
	repo.accounts[sender.ID] = sender
	repo.accounts[recipient.ID] = recipient
	repo.balances[sender.ID] = 1000

	service := newTestService(repo, &publisherStub{})

	transfer, err := service.SubmitTransfer(context.Background(), 100, &sender.ID, &recipient.ID, "")
	if !errors.Is(err, ErrSenderNotApproved) {
		t.Fatalf("expected ErrSenderNotApproved, got %v", err)
	}
	if transfer.Status != domain.TransferStatusRejected {
		t.Fatalf("expected status REJECTED, got %s", transfer.Status)
	}
}

func TestSubmitTransfer_CompletesAndDispatchesSettlement(t *testing.T) {
	repo := newServiceRepoStub()
	sender := &domain.Account{ID: uuid.New(), Name: "sender", IsApproved: true}
	recipient := &domain.Account{ID: uuid.New(), Name: "recipient", IsApproved: true}
	repo.accounts[sender.ID] = sender
	repo.accounts[recipient.ID] = recipient
	repo.balances[sender.ID] = 1000

	publisher := &publisherStub{}
	service := newTestService(repo, publisher)

	transfer, err := service.SubmitTransfer(context.Background(), 100, &sender.ID, &recipient.ID, "")
	if err != nil {
		t.Fatalf("SubmitTransfer returned error: %v", err)
	}
	if transfer.Status != domain.TransferStatusComplete {
		t.Fatalf("expected status COMPLETE, got %s", transfer.Status)
	}
	if repo.resolvedStatus != domain.TransferStatusComplete {
		t.Fatalf("expected COMPLETE persisted, got %s", repo.resolvedStatus)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one settlement dispatch, got %d", len(publisher.published))
	}
	if publisher.published[0].routingKey != "settlement.request.payment" {
		t.Fatalf("expected payment routing key, got %s", publisher.published[0].routingKey)
	}
	request, ok := publisher.published[0].body.(*domain.SettlementRequest)
	if !ok {
		t.Fatalf("expected a settlement request payload, got %T", publisher.published[0].body)
	}
	if len(request.UncompletedTasks) != 1 || request.UncompletedTasks[0] != domain.TaskTransfer {
		t.Fatalf("expected uncompleted tasks [transfer], got %v", request.UncompletedTasks)
	}
}

func TestSubmitTransfer_PublishFailureDoesNotUnwindLedger(t *testing.T) {
	repo := newServiceRepoStub()
	sender := &domain.Account{ID: uuid.New(), Name: "sender", IsApproved: true}
	recipient := &domain.Account{ID: uuid.New(), Name: "recipient", IsApproved: true}
	repo.accounts[sender.ID] = sender
	repo.accounts[recipient.ID] = recipient
	repo.balances[sender.ID] = 1000

	publisher := &publisherStub{publishErr: errors.New("broker down")}
	service := newTestService(repo, publisher)

	transfer, err := service.SubmitTransfer(context.Background(), 100, &sender.ID, &recipient.ID, "")
	if err != nil {
		t.Fatalf("expected ledger decision to survive publish failure, got %v", err)
	}
	if transfer.Status != domain.TransferStatusComplete {
		t.Fatalf("expected status COMPLETE, got %s", transfer.Status)
	}
}

func TestRetrySettlement_RequiresCompleteTransfer(t *testing.T) {
	repo := newServiceRepoStub()
	publisher := &publisherStub{}
	service := newTestService(repo, publisher)

	transferID := uuid.New()
	pending := &domain.Transfer{ID: transferID, Status: domain.TransferStatusPending, Type: domain.TransferTypePayment, Amount: 100}
	repo.Repository = findTransferStub{transfer: pending}

	if err := service.RetrySettlement(context.Background(), transferID); err == nil {
		t.Fatal("expected retry of a non-complete transfer to be refused")
	}
	if len(publisher.published) != 0 {
		t.Fatalf("expected no dispatch, got %d", len(publisher.published))
	}
}

// findTransferStub backs the embedded Repository for lookups the outer stub
// does not track.
type findTransferStub struct {
	store.Repository
	transfer *domain.Transfer
}

func (s findTransferStub) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	if s.transfer == nil {
		return nil, store.ErrTransferNotFound
	}
	return s.transfer, nil
}
