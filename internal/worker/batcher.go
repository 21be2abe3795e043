/**
 * @description
 * This file implements the disbursement batching window. Rather than
 * broadcasting one chain transaction per disbursement, requests accumulate in
 * a shared Redis list for a hold interval and are then flushed as a single
 * multi-output transaction.
 *
 * Single-flight rule: only the request that creates the accumulator (the
 * append that makes the list non-empty) schedules the flush timer. Every
 * later append during the window rides along without arming a second timer,
 * so exactly one flush happens per window regardless of how many requests
 * arrive. A timer that fires while an earlier flush is still broadcasting is
 * queued rather than discarded; the in-flight flush re-drains once its
 * broadcast returns, so a window opened mid-flush is never stranded.
 *
 * @dependencies
 * - context, encoding/json, log/slog, sync, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: The shared accumulator with atomic Lua scripts.
 * - internal/domain: Wire payload types.
 */

package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opencredit/ledger-service/internal/domain"
)

// Accumulator is the shared store batched requests wait in. Append reports
// whether this entry created the accumulator; Take atomically drains it.
type Accumulator interface {
	Append(ctx context.Context, entry []byte) (created bool, err error)
	Take(ctx context.Context) ([][]byte, error)
}

// appendScript pushes an entry and reports whether it was the first, i.e.
// whether this append created the batch window.
var appendScript = redis.NewScript(`
local n = redis.call("RPUSH", KEYS[1], ARGV[1])
if n == 1 then
	return 1
end
return 0
`)

// takeScript drains the accumulator atomically so two concurrent flushes can
// never hand out the same entry twice.
var takeScript = redis.NewScript(`
local items = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return items
`)

// RedisAccumulator stores batch entries in a Redis list.
type RedisAccumulator struct {
	client *redis.Client
	key    string
}

// NewRedisAccumulator creates an accumulator backed by the given list key.
func NewRedisAccumulator(client *redis.Client, key string) *RedisAccumulator {
	return &RedisAccumulator{client: client, key: key}
}

// Append adds an entry and reports whether it created the accumulator.
func (a *RedisAccumulator) Append(ctx context.Context, entry []byte) (bool, error) {
	created, err := appendScript.Run(ctx, a.client, []string{a.key}, entry).Int()
	if err != nil {
		return false, err
	}
	return created == 1, nil
}

// Take drains and returns all accumulated entries.
func (a *RedisAccumulator) Take(ctx context.Context) ([][]byte, error) {
	raw, err := takeScript.Run(ctx, a.client, []string{a.key}).StringSlice()
	if err != nil {
		return nil, err
	}
	entries := make([][]byte, 0, len(raw))
	for _, item := range raw {
		entries = append(entries, []byte(item))
	}
	return entries, nil
}

// BatchSubmitter broadcasts one transaction for a drained batch.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, reqs []domain.SettlementRequest) error
}

// Batcher accumulates disbursement requests and flushes them after the hold
// interval.
type Batcher struct {
	acc       Accumulator
	submitter BatchSubmitter
	logger    *slog.Logger
	hold      time.Duration

	mu       sync.Mutex
	flushing bool
	queued   bool
}

// NewBatcher creates a new disbursement batcher.
func NewBatcher(acc Accumulator, submitter BatchSubmitter, logger *slog.Logger, hold time.Duration) *Batcher {
	return &Batcher{
		acc:       acc,
		submitter: submitter,
		logger:    logger,
		hold:      hold,
	}
}

// Add appends a request to the current window. The append that creates the
// accumulator arms the flush timer; all others just join the batch.
func (b *Batcher) Add(ctx context.Context, req domain.SettlementRequest) error {
	entry, err := json.Marshal(req)
	if err != nil {
		return err
	}

	created, err := b.acc.Append(ctx, entry)
	if err != nil {
		return err
	}

	if created {
		b.logger.Info("batch window opened", "transfer_id", req.TransferID, "hold", b.hold.String())
		time.AfterFunc(b.hold, b.Flush)
	} else {
		b.logger.Info("joined open batch window", "transfer_id", req.TransferID)
	}
	return nil
}

// Flush drains the accumulator and broadcasts the batch. An empty
// accumulator is a no-op. Broadcasting can outlast the hold interval by a
// wide margin, so a flush that fires while another flush is still running is
// queued and re-run by the in-flight flush instead of being dropped; the
// accumulator it was armed for always gets drained.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.flushing {
		b.queued = true
		b.mu.Unlock()
		return
	}
	b.flushing = true
	b.mu.Unlock()

	for {
		b.flushOnce()

		b.mu.Lock()
		if !b.queued {
			b.flushing = false
			b.mu.Unlock()
			return
		}
		b.queued = false
		b.mu.Unlock()
	}
}

func (b *Batcher) flushOnce() {
	ctx := context.Background()
	entries, err := b.acc.Take(ctx)
	if err != nil {
		b.logger.Error("failed to drain batch accumulator", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	reqs := make([]domain.SettlementRequest, 0, len(entries))
	for _, entry := range entries {
		var req domain.SettlementRequest
		if err := json.Unmarshal(entry, &req); err != nil {
			b.logger.Error("dropping undecodable batch entry", "error", err)
			continue
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return
	}

	b.logger.Info("flushing batch window", "size", len(reqs))
	if err := b.submitter.SubmitBatch(ctx, reqs); err != nil {
		b.logger.Error("batch settlement failed", "size", len(reqs), "error", err)
	}
}
