/**
 * @description
 * This file implements the settlement engine, the worker's entry point for
 * settlement requests published by the ledger server. Payments and
 * withdrawals settle immediately; plain disbursements join the batching
 * window when batching is enabled; multi-task disbursements (approval and
 * native-currency load chains) always run sequentially in dependency order.
 *
 * Messages are always acked after handling. Broadcasting is irreversible, so
 * a redelivered request must never resubmit a transaction; anything that
 * slipped through is reconciled by the server's re-scan job instead.
 *
 * @dependencies
 * - context, encoding/json, log/slog, sort: Standard Go libraries.
 * - internal/domain: Wire payload types.
 * - pkg/rabbitmq: Topic-exchange consumer.
 */

package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/pkg/rabbitmq"
)

// TaskRunner executes a single settlement task for a request.
type TaskRunner interface {
	SubmitTask(ctx context.Context, req domain.SettlementRequest, task domain.TaskKind) error
}

// RequestBatcher accepts a request into the current batching window.
type RequestBatcher interface {
	Add(ctx context.Context, req domain.SettlementRequest) error
}

// EngineConfig carries the settings the engine needs.
type EngineConfig struct {
	Exchange        string
	Queue           string
	BatchingEnabled bool
}

// Engine consumes settlement requests and drives them through the submitter
// or the batcher.
type Engine struct {
	runner  TaskRunner
	batcher RequestBatcher
	logger  *slog.Logger
	cfg     EngineConfig
}

// NewEngine creates a new settlement engine.
func NewEngine(runner TaskRunner, batcher RequestBatcher, logger *slog.Logger, cfg EngineConfig) *Engine {
	return &Engine{
		runner:  runner,
		batcher: batcher,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start binds the settlement routing keys and begins consuming.
func (e *Engine) Start(consumer *rabbitmq.Consumer) error {
	bindings := map[string]func([]byte) bool{
		"settlement.request.payment":      e.handleImmediate,
		"settlement.request.withdrawal":   e.handleImmediate,
		"settlement.request.disbursement": e.handleDisbursement,
	}
	return consumer.ConsumeWithBindings(e.cfg.Exchange, e.cfg.Queue, bindings)
}

// handleImmediate settles payments and withdrawals as soon as they arrive.
func (e *Engine) handleImmediate(body []byte) bool {
	req, ok := e.decode(body)
	if !ok {
		return true
	}
	e.run(context.Background(), req)
	return true
}

// handleDisbursement routes a disbursement into the batching window when it
// is a single plain task, and through the sequential path otherwise.
func (e *Engine) handleDisbursement(body []byte) bool {
	req, ok := e.decode(body)
	if !ok {
		return true
	}
	ctx := context.Background()

	if e.cfg.BatchingEnabled && e.batcher != nil && batchable(req) {
		if err := e.batcher.Add(ctx, req); err != nil {
			e.logger.Error("failed to join batch window; settling immediately", "transfer_id", req.TransferID, "error", err)
			e.run(ctx, req)
		}
		return true
	}

	e.run(ctx, req)
	return true
}

// run executes the request's uncompleted tasks in dependency order, stopping
// the chain on the first terminal failure.
func (e *Engine) run(ctx context.Context, req domain.SettlementRequest) {
	tasks := executionOrder(req.UncompletedTasks)
	if len(tasks) == 0 {
		e.logger.Info("settlement request has no uncompleted tasks", "transfer_id", req.TransferID, "is_retry", req.IsRetry)
		return
	}

	for _, task := range tasks {
		if err := e.runner.SubmitTask(ctx, req, task); err != nil {
			e.logger.Error("stopping settlement chain", "transfer_id", req.TransferID, "task", string(task), "error", err)
			return
		}
	}
}

func (e *Engine) decode(body []byte) (domain.SettlementRequest, bool) {
	var req domain.SettlementRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// Poison message; acking it is the only way forward.
		e.logger.Error("dropping undecodable settlement request", "error", err)
		return req, false
	}
	e.logger.Info("received settlement request", "transfer_id", req.TransferID, "type", string(req.Type), "tasks", len(req.UncompletedTasks), "is_retry", req.IsRetry)
	return req, true
}

// batchable reports whether the request can ride the batching window: a
// single value-moving task with no approval or load work attached.
func batchable(req domain.SettlementRequest) bool {
	if len(req.UncompletedTasks) != 1 {
		return false
	}
	task := req.UncompletedTasks[0]
	return task == domain.TaskDisbursement || task == domain.TaskInitialCreditMint
}

// taskPrecedence orders tasks by dependency: an account must be approved and
// funded for gas before value lands on it.
var taskPrecedence = map[domain.TaskKind]int{
	domain.TaskMasterWalletApproval: 0,
	domain.TaskEtherLoad:            1,
	domain.TaskInitialCreditMint:    2,
	domain.TaskDisbursement:         3,
	domain.TaskTransfer:             4,
}

// executionOrder sorts tasks into dependency order.
func executionOrder(tasks []domain.TaskKind) []domain.TaskKind {
	ordered := make([]domain.TaskKind, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return taskPrecedence[ordered[i]] < taskPrecedence[ordered[j]]
	})
	return ordered
}
