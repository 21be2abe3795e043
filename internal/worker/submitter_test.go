package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/pkg/chainwallet"
	"github.com/opencredit/ledger-service/pkg/explorer"
)

type walletStub struct {
	hash    string
	sendErr error
	sends   [][]chainwallet.Output
}

func (w *walletStub) Send(ctx context.Context, outputs []chainwallet.Output) (string, *int64, error) {
	if w.sendErr != nil {
		return "", nil, w.sendErr
	}
	w.sends = append(w.sends, outputs)
	nonce := int64(7)
	return w.hash, &nonce, nil
}

func (w *walletStub) Approve(ctx context.Context, accountKey string) (string, error) {
	if w.sendErr != nil {
		return "", w.sendErr
	}
	return w.hash, nil
}

// explorerStub confirms the transaction after a configured number of polls.
type explorerStub struct {
	confirmAfter int
	polls        int
}

func (e *explorerStub) GetTransaction(ctx context.Context, hash string) (*explorer.Transaction, error) {
	e.polls++
	if e.polls < e.confirmAfter {
		return &explorer.Transaction{Hash: hash, Confirmations: 0}, nil
	}
	return &explorer.Transaction{Hash: hash, Confirmations: 1}, nil
}

type reporterStub struct {
	reports []domain.ReceiptReport
}

func (r *reporterStub) ReportReceipt(ctx context.Context, report domain.ReceiptReport) error {
	r.reports = append(r.reports, report)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSubmitter(wallet *walletStub, exp *explorerStub, reporter *reporterStub, maxAttempts int) *Submitter {
	return NewSubmitter(wallet, exp, reporter, testLogger(), SubmitterConfig{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: maxAttempts,
		ChainDecimals:   -8,
		Currency:        "CREDIT",
		ForceLoadAmount: 100,
	})
}

func TestSubmitTask_ConfirmedTransactionReportsPendingThenSuccess(t *testing.T) {
	wallet := &walletStub{hash: "0xabc"}
	reporter := &reporterStub{}
	submitter := newTestSubmitter(wallet, &explorerStub{confirmAfter: 2}, reporter, 10)

	req := domain.SettlementRequest{
		Type:             domain.TransferTypePayment,
		TransferID:       uuid.New(),
		Amount:           100,
		RecipientAddress: "addr",
		UncompletedTasks: []domain.TaskKind{domain.TaskTransfer},
	}

	if err := submitter.SubmitTask(context.Background(), req, domain.TaskTransfer); err != nil {
		t.Fatalf("SubmitTask returned error: %v", err)
	}

	if len(reporter.reports) != 2 {
		t.Fatalf("expected 2 receipt reports, got %d", len(reporter.reports))
	}
	first, last := reporter.reports[0], reporter.reports[1]
	if first.Status != domain.ReceiptStatusPending || first.TxHash != "0xabc" || first.SubmittedAt == nil {
		t.Fatalf("expected initial PENDING report with hash and submit time, got %+v", first)
	}
	if first.Nonce == nil || *first.Nonce != 7 {
		t.Fatalf("expected nonce on the PENDING report, got %v", first.Nonce)
	}
	if last.Status != domain.ReceiptStatusSuccess || last.ConfirmedAt == nil {
		t.Fatalf("expected final SUCCESS report with confirm time, got %+v", last)
	}
}

func TestSubmitTask_BroadcastFailureReportsFailed(t *testing.T) {
	wallet := &walletStub{sendErr: chainwallet.ErrInsufficientFunds}
	reporter := &reporterStub{}
	submitter := newTestSubmitter(wallet, &explorerStub{confirmAfter: 1}, reporter, 10)

	req := domain.SettlementRequest{
		TransferID:       uuid.New(),
		Amount:           100,
		RecipientAddress: "addr",
	}

	err := submitter.SubmitTask(context.Background(), req, domain.TaskTransfer)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if len(reporter.reports) != 1 {
		t.Fatalf("expected one FAILED report, got %d", len(reporter.reports))
	}
	report := reporter.reports[0]
	if report.Status != domain.ReceiptStatusFailed {
		t.Fatalf("expected FAILED status, got %s", report.Status)
	}
	if report.TxHash != "" {
		t.Fatalf("expected no hash for a failed broadcast, got %q", report.TxHash)
	}
	if report.Message == "" {
		t.Fatal("expected the failure message to be recorded")
	}
}

func TestSubmitTask_ConfirmationTimeoutLeavesPending(t *testing.T) {
	wallet := &walletStub{hash: "0xslow"}
	reporter := &reporterStub{}
	// Never confirms within the attempt budget.
	submitter := newTestSubmitter(wallet, &explorerStub{confirmAfter: 100}, reporter, 3)

	req := domain.SettlementRequest{
		TransferID:       uuid.New(),
		Amount:           100,
		RecipientAddress: "addr",
	}

	if err := submitter.SubmitTask(context.Background(), req, domain.TaskTransfer); err != nil {
		t.Fatalf("expected timeout to return nil, got %v", err)
	}
	for _, report := range reporter.reports {
		if report.Status != domain.ReceiptStatusPending {
			t.Fatalf("expected only PENDING reports on timeout, got %s", report.Status)
		}
	}
}

func TestSubmitBatch_SingleBroadcastReportsPerTransfer(t *testing.T) {
	wallet := &walletStub{hash: "0xbatch"}
	reporter := &reporterStub{}
	submitter := newTestSubmitter(wallet, &explorerStub{confirmAfter: 1}, reporter, 10)

	reqs := []domain.SettlementRequest{
		{TransferID: uuid.New(), Amount: 100, RecipientAddress: "a1", UncompletedTasks: []domain.TaskKind{domain.TaskDisbursement}},
		{TransferID: uuid.New(), Amount: 250, RecipientAddress: "a2", UncompletedTasks: []domain.TaskKind{domain.TaskDisbursement}},
		{TransferID: uuid.New(), Amount: 400, RecipientAddress: "a3", UncompletedTasks: []domain.TaskKind{domain.TaskDisbursement}},
	}

	if err := submitter.SubmitBatch(context.Background(), reqs); err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}

	if len(wallet.sends) != 1 {
		t.Fatalf("expected exactly one broadcast for the batch, got %d", len(wallet.sends))
	}
	if len(wallet.sends[0]) != 3 {
		t.Fatalf("expected 3 outputs in the batch transaction, got %d", len(wallet.sends[0]))
	}

	// A PENDING and a SUCCESS report per transfer, all on the shared hash.
	if len(reporter.reports) != 6 {
		t.Fatalf("expected 6 receipt reports, got %d", len(reporter.reports))
	}
	for _, report := range reporter.reports {
		if report.TxHash != "0xbatch" {
			t.Fatalf("expected shared batch hash, got %q", report.TxHash)
		}
	}
}

func TestNativeAmount_ShiftsCentsToNativeUnits(t *testing.T) {
	submitter := newTestSubmitter(&walletStub{}, &explorerStub{}, &reporterStub{}, 1)

	// 150 cents is 1.5 whole units, which is 150,000,000 native units on an
	// eight-decimal chain.
	if got := submitter.nativeAmount(150); got != "150000000" {
		t.Fatalf("expected 150000000, got %s", got)
	}
}
