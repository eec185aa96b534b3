// Package runner executes a single routed worker invocation under a time
// budget and settles its side effects: capacity release, progress events,
// speculative race publication and the human-review policy.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/observability"
	"github.com/lucylow/SkySimTacticalGG/internal/review"
	"github.com/lucylow/SkySimTacticalGG/internal/worker"
	"github.com/lucylow/SkySimTacticalGG/pkg/insightapi"
)

// defaultConfidenceThreshold gates automatic human review when the payload
// does not carry an explicit one.
const defaultConfidenceThreshold = 0.8

// releaseTimeout bounds the slot release after a canceled or timed-out
// invocation; release must not inherit the dead request context.
const releaseTimeout = 5 * time.Second

// Invocation binds one routed selection to one unit of work. SlotHeld tells
// the runner whether a capacity release is owed at exit.
type Invocation struct {
	TaskID   string
	Worker   worker.Worker
	Lane     string
	SlotHeld bool
	Budget   time.Duration
}

// ExecutionResult is the successful outcome of one invocation.
type ExecutionResult struct {
	WorkerName  string
	ExecutionID string
	Result      map[string]any
	Elapsed     time.Duration
}

type Runner struct {
	ledger  capacity.Ledger
	bus     bus.Bus
	reviews review.Sink
	log     *zap.Logger
}

func New(ledger capacity.Ledger, b bus.Bus, reviews review.Sink, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{ledger: ledger, bus: b, reviews: reviews, log: log}
}

// Run invokes the worker with the payload under the invocation's budget.
// The held capacity slot is released on every exit path, including panics
// and deadline expiry. Race publication happens only on success.
func (r *Runner) Run(ctx context.Context, inv Invocation, payload worker.Payload) (ExecutionResult, error) {
	name := inv.Worker.Name()
	executionID := getString(payload, "_execution_id")
	if executionID == "" {
		executionID = uuid.NewString()
	}

	ctx, span := observability.StartSpan(ctx, "runner.run",
		attribute.String("worker", name),
		attribute.String("task_id", inv.TaskID),
		attribute.String("lane", inv.Lane),
	)
	defer span.End()

	if inv.SlotHeld {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if _, err := r.ledger.Release(releaseCtx, name); err != nil {
				r.log.Warn("capacity release failed", zap.String("worker", name), zap.Error(err))
			}
		}()
	}

	r.publishProgress(ctx, inv.TaskID, name+":start", nil)
	observability.Default.IncCounter("runner_invocations_total", map[string]string{"worker": name}, 1)

	runCtx := ctx
	if inv.Budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Budget)
		defer cancel()
	}

	started := time.Now()
	result, err := r.invoke(runCtx, inv.Worker, payload)
	elapsed := time.Since(started)

	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if err != nil {
		observability.Default.IncCounter("runner_failures_total", map[string]string{"worker": name}, 1)
		r.publishProgress(ctx, inv.TaskID, name+":error", map[string]any{"error": err.Error()})
		r.log.Warn("worker invocation failed",
			zap.String("worker", name),
			zap.String("task_id", inv.TaskID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return ExecutionResult{}, fmt.Errorf("worker %s: %w", name, err)
	}

	r.publishProgress(ctx, inv.TaskID, name+":done", map[string]any{"elapsed_ms": elapsed.Milliseconds()})
	observability.Default.SetGauge("runner_last_invoke_seconds", map[string]string{"worker": name}, elapsed.Seconds())

	if raceID := getString(payload, "_race_id"); raceID != "" {
		r.bus.Publish(ctx, bus.RaceChannel(raceID), map[string]any{
			"agent":        name,
			"result":       result,
			"execution_id": executionID,
		})
	}

	r.applyReviewPolicy(ctx, inv, name, payload, result)

	return ExecutionResult{
		WorkerName:  name,
		ExecutionID: executionID,
		Result:      result,
		Elapsed:     elapsed,
	}, nil
}

// invoke isolates the worker call so a panicking worker degrades to an error
// instead of taking the orchestrator down.
func (r *Runner) invoke(ctx context.Context, w worker.Worker, payload worker.Payload) (map[string]any, error) {
	type outcome struct {
		result map[string]any
		err    error
	}
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				out <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		result, err := w.Invoke(ctx, payload)
		out <- outcome{result: result, err: err}
	}()
	select {
	case o := <-out:
		return o.result, o.err
	case <-ctx.Done():
		// The goroutine may still be running; its eventual result is
		// discarded via the buffered channel.
		return nil, ctx.Err()
	}
}

// applyReviewPolicy creates a human-review record when the payload forces one
// or the worker's own confidence lands below the threshold. Sink failures are
// logged and swallowed: review is advisory, the invocation already succeeded.
func (r *Runner) applyReviewPolicy(ctx context.Context, inv Invocation, name string, payload worker.Payload, result map[string]any) {
	if r.reviews == nil {
		return
	}
	threshold := defaultConfidenceThreshold
	if v, ok := getFloat(payload, "_human_confidence_threshold"); ok && v > 0 {
		threshold = v
	}
	reason := ""
	if forced, _ := payload["_require_human_review"].(bool); forced {
		reason = "auto_flag"
	} else if confidence, ok := getFloat(result, "confidence"); ok && confidence < threshold {
		reason = "auto_low_confidence"
	}
	if reason == "" {
		return
	}
	rec := review.Review{
		ReviewID:  uuid.NewString(),
		RunID:     inv.TaskID,
		AgentName: name,
		Reason:    reason,
		Metadata:  map[string]any{"lane": inv.Lane},
	}
	if confidence, ok := getFloat(result, "confidence"); ok {
		rec.Metadata["confidence"] = confidence
	}
	if err := r.reviews.Create(ctx, rec); err != nil {
		r.log.Warn("review record failed",
			zap.String("worker", name),
			zap.String("task_id", inv.TaskID),
			zap.Error(err))
		return
	}
	observability.Default.IncCounter("reviews_created_total", map[string]string{"worker": name, "reason": reason}, 1)
}

func (r *Runner) publishProgress(ctx context.Context, taskID, event string, data map[string]any) {
	r.bus.Publish(ctx, bus.ProgressChannel, insightapi.NewProgressEvent(taskID, event, data))
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
