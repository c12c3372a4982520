// Package transfer drives the deferred external money transfers queued by
// the payout executor. Transfers are outbox rows committed with the run
// transaction; this worker releases them after their hold period,
// independently of the engine, so a payment-service outage can never
// affect a finalized ranking or a point credit.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/visual/ranking-engine/internal/metrics"
	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/store"
)

// Client is the external payment transfer service. Implementations must
// honor the idempotency key: repeated calls with the same key must not
// move money twice.
type Client interface {
	Transfer(ctx context.Context, req model.TransferRequest) (externalID string, err error)
}

// Summary reports one sweep over the due transfers.
type Summary struct {
	Processed  int
	Successful int
	Failed     int
	Errors     []string
}

// Worker processes due outbox rows on an interval, retrying failures
// with exponential backoff up to a retry limit.
type Worker struct {
	store      store.Store
	client     Client
	interval   time.Duration
	baseDelay  time.Duration
	maxRetries int
	clock      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval sets the sweep interval (default 1m).
func WithInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

// WithRetry sets the base backoff delay and retry limit (defaults 5m, 5).
func WithRetry(base time.Duration, max int) Option {
	return func(w *Worker) { w.baseDelay = base; w.maxRetries = max }
}

// WithClock overrides the time source. Test seam.
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.clock = clock }
}

// NewWorker creates a transfer worker.
func NewWorker(st store.Store, client Client, opts ...Option) *Worker {
	w := &Worker{
		store:      st,
		client:     client,
		interval:   time.Minute,
		baseDelay:  5 * time.Minute,
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run sweeps on the configured interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				slog.Error("transfer sweep failed", "err", err)
			}
		}
	}
}

// Sweep processes every due transfer once. Each row succeeds or fails
// independently; a failure is recorded on the row for retry and never
// propagates beyond the summary.
func (w *Worker) Sweep(ctx context.Context) (Summary, error) {
	now := w.now()

	due, err := w.store.DueTransfers(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("list due transfers: %w", err)
	}
	metrics.TransferQueueDepth.Set(float64(len(due)))

	var sum Summary
	for i := range due {
		req := due[i]
		sum.Processed++

		externalID, err := w.client.Transfer(ctx, req)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("transfer %s: %v", req.ID, err))
			w.recordFailure(ctx, &req, err)
			metrics.TransfersTotal.WithLabelValues("failed").Inc()
			continue
		}

		req.Status = model.TransferCompleted
		req.ExternalID = externalID
		req.FailureReason = ""
		req.NextRetryAt = nil
		if err := w.store.UpdateTransfer(ctx, &req); err != nil {
			slog.Error("transfer completed but row update failed",
				"id", req.ID, "external_id", externalID, "err", err)
		}
		sum.Successful++
		metrics.TransfersTotal.WithLabelValues("completed").Inc()
	}

	if sum.Processed > 0 {
		slog.Info("transfer sweep",
			"processed", sum.Processed,
			"successful", sum.Successful,
			"failed", sum.Failed,
		)
	}
	return sum, nil
}

// Cancel marks a scheduled transfer as cancelled. Completed transfers
// cannot be cancelled.
func (w *Worker) Cancel(ctx context.Context, id, reason string) error {
	req, err := w.store.GetTransfer(ctx, id)
	if err != nil {
		return err
	}
	if req.Status == model.TransferCompleted {
		return fmt.Errorf("transfer %s already completed", id)
	}
	req.Status = model.TransferCancelled
	req.FailureReason = reason
	req.NextRetryAt = nil
	return w.store.UpdateTransfer(ctx, req)
}

// recordFailure bumps the retry count and schedules the next attempt with
// exponential backoff. Retries exhausted leaves the row failed with no
// retry time; operators re-drive those explicitly.
func (w *Worker) recordFailure(ctx context.Context, req *model.TransferRequest, cause error) {
	req.Status = model.TransferFailed
	req.FailureReason = cause.Error()
	req.RetryCount++

	if req.RetryCount >= w.maxRetries {
		req.NextRetryAt = nil
		slog.Error("transfer retries exhausted",
			"id", req.ID, "recipient", req.RecipientID, "err", cause)
	} else {
		next := w.now().Add(w.baseDelay << (req.RetryCount - 1))
		req.NextRetryAt = &next
	}

	if err := w.store.UpdateTransfer(ctx, req); err != nil {
		slog.Error("transfer failure record failed", "id", req.ID, "err", err)
	}
}

func (w *Worker) now() time.Time {
	if w.clock != nil {
		return w.clock()
	}
	return time.Now().UTC()
}
