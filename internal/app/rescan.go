package app

import (
	"context"
	"log"
	"time"

	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/internal/store"
)

// RescanJob periodically re-dispatches settlement for COMPLETE transfers
// whose on-chain settlement has not finished. Together with the dispatcher's
// retry guard this makes lost or failed settlement requests self-healing
// without ever double-submitting a finished one.
type RescanJob struct {
	repo       store.Repository
	service    *Service
	dispatcher *Dispatcher
	window     time.Duration
	// grace must exceed both the worker's full polling budget and the wallet
	// broadcast timeout so a re-dispatch never races a settlement that is
	// still in flight.
	grace time.Duration
}

// NewRescanJob creates the re-scan job. The window bounds how far back the
// scan looks for incomplete settlements; grace is how long a settlement may
// sit without progress before it counts as stalled.
func NewRescanJob(repo store.Repository, service *Service, dispatcher *Dispatcher, window, grace time.Duration) *RescanJob {
	return &RescanJob{repo: repo, service: service, dispatcher: dispatcher, window: window, grace: grace}
}

// Run performs one re-scan pass.
func (j *RescanJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	since := time.Now().UTC().Add(-j.window)
	transfers, err := j.repo.ListCompletedTransfersSince(ctx, since)
	if err != nil {
		log.Printf("level=error component=rescan msg=\"failed to list completed transfers\" err=%v", err)
		return
	}

	var redispatched int
	for i := range transfers {
		transfer := &transfers[i]
		required, err := j.service.RequiredTasks(ctx, transfer)
		if err != nil {
			log.Printf("level=error component=rescan msg=\"failed to resolve required tasks\" transfer_id=%s err=%v", transfer.ID, err)
			continue
		}
		receipts, err := j.repo.ListReceiptsByTransfer(ctx, transfer.ID)
		if err != nil {
			log.Printf("level=error component=rescan msg=\"failed to list receipts\" transfer_id=%s err=%v", transfer.ID, err)
			continue
		}

		uncompleted := domain.UncompletedTasks(required, receipts)
		if len(uncompleted) == 0 {
			continue
		}
		// A freshly decided transfer may still have its first settlement
		// request in flight with no receipts recorded yet, and a PENDING
		// receipt may still be under active polling. Either way, re-dispatch
		// only after the grace has passed with no new activity; a second
		// live broadcast for the same transfer means a double payment.
		lastActivity := newestReceiptAt(receipts)
		if transfer.ResolvedAt != nil && transfer.ResolvedAt.After(lastActivity) {
			lastActivity = *transfer.ResolvedAt
		}
		if lastActivity.After(time.Now().UTC().Add(-j.grace)) {
			continue
		}

		j.dispatcher.Dispatch(ctx, transfer, true)
		redispatched++
	}

	if redispatched > 0 {
		log.Printf("level=info component=rescan msg=\"re-dispatched incomplete settlements\" count=%d scanned=%d", redispatched, len(transfers))
	}
}

func newestReceiptAt(receipts []domain.ChainReceipt) time.Time {
	var newest time.Time
	for _, r := range receipts {
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}
	return newest
}
