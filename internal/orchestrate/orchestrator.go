// Package orchestrate drives one tactical insight end to end: idempotency
// gate, perception, prompt generation, a speculative motion race and a
// validator fan-out, finishing with an artifact upload and a terminal event.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lucylow/SkySimTacticalGG/internal/artifact"
	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/dedup"
	"github.com/lucylow/SkySimTacticalGG/internal/observability"
	"github.com/lucylow/SkySimTacticalGG/internal/race"
	"github.com/lucylow/SkySimTacticalGG/internal/registry"
	"github.com/lucylow/SkySimTacticalGG/internal/router"
	"github.com/lucylow/SkySimTacticalGG/internal/runner"
	"github.com/lucylow/SkySimTacticalGG/internal/worker"
	"github.com/lucylow/SkySimTacticalGG/pkg/insightapi"
)

// ErrMotionGeneration marks race exhaustion: candidates existed but none
// produced a clip before the deadline. Kept distinct from router.ErrNoWorker
// so operators can tell capacity problems from execution problems.
var ErrMotionGeneration = errors.New("motion generation failed")

var errCanceled = errors.New("canceled")

type Config struct {
	RaceTimeout      time.Duration
	ValidationWindow time.Duration
	IdempotencyTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RaceTimeout <= 0 {
		c.RaceTimeout = 15 * time.Second
	}
	if c.ValidationWindow <= 0 {
		c.ValidationWindow = 5 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = dedup.DefaultTTL
	}
	return c
}

type Deps struct {
	Registry  *registry.Registry
	Router    *router.Router
	Runner    *runner.Runner
	Races     *race.Coordinator
	Ledger    capacity.Ledger
	Bus       bus.Bus
	Dedup     dedup.Store
	Workers   *worker.Set
	Artifacts artifact.Store
	Log       *zap.Logger
}

type Orchestrator struct {
	deps    Deps
	cfg     Config
	runs    *runIndex
	cancels *cancelRegistry
	log     *zap.Logger
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Router == nil || deps.Runner == nil ||
		deps.Races == nil || deps.Ledger == nil || deps.Bus == nil ||
		deps.Dedup == nil || deps.Workers == nil {
		return nil, errors.New("orchestrator: missing dependency")
	}
	// Catalog entries without an implementation are configuration errors and
	// surface at startup, not at request time.
	for _, spec := range deps.Registry.All() {
		if _, err := deps.Workers.Get(spec.Name); err != nil {
			return nil, fmt.Errorf("worker catalog: %w", err)
		}
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg.withDefaults(),
		runs:    newRunIndex(),
		cancels: newCancelRegistry(),
		log:     log,
	}, nil
}

// Start validates the request, registers the run and executes the pipeline
// on its own goroutine. The returned task id is immediately queryable via
// Status.
func (o *Orchestrator) Start(req insightapi.InsightRequest) (string, error) {
	if req.MatchID == "" {
		return "", errors.New("match_id is required")
	}
	if req.Round < 0 {
		return "", errors.New("round must not be negative")
	}
	taskID := uuid.NewString()
	o.runs.create(taskID, req.MatchID, req.Round)

	ctx, cancel := context.WithCancel(context.Background())
	o.cancels.register(taskID, cancel)
	go func() {
		defer cancel()
		defer o.cancels.unregister(taskID)
		o.Execute(ctx, taskID, req)
	}()
	return taskID, nil
}

// Status reports the run record for a task id.
func (o *Orchestrator) Status(taskID string) (insightapi.RunStatusResponse, bool) {
	run, ok := o.runs.get(taskID)
	if !ok {
		return insightapi.RunStatusResponse{}, false
	}
	return run.toStatusResponse(), true
}

// Cancel requests cooperative cancellation of a live run. The pipeline
// observes it between stages and inside every blocking wait.
func (o *Orchestrator) Cancel(taskID string) bool {
	return o.cancels.cancel(taskID)
}

// Execute runs the full pipeline synchronously and records the terminal
// outcome in the run index. Callers wanting async execution use Start.
func (o *Orchestrator) Execute(ctx context.Context, taskID string, req insightapi.InsightRequest) insightapi.InsightResult {
	ctx, span := observability.StartSpan(ctx, "orchestrate.execute",
		attribute.String("task_id", taskID),
		attribute.String("match_id", req.MatchID),
		attribute.Int("round", req.Round),
	)
	defer span.End()

	if _, ok := o.runs.get(taskID); !ok {
		o.runs.create(taskID, req.MatchID, req.Round)
	}
	o.event(ctx, taskID, req, "received", nil)
	observability.Default.IncCounter("orchestrations_total", nil, 1)

	// Idempotency gate. Read-then-write: a narrow window exists where two
	// concurrent identical requests both pass; accepted, not a lock.
	key := dedup.Key(req.MatchID, req.Round)
	held, firstTaskID, err := o.deps.Dedup.Claim(ctx, key, taskID, o.cfg.IdempotencyTTL)
	if err != nil {
		// Dedup is best-effort; an unreachable store must not stop insights.
		o.log.Warn("idempotency claim failed, proceeding", zap.String("task_id", taskID), zap.Error(err))
	}
	if held {
		o.event(ctx, taskID, req, "skipped", map[string]any{"first_task_id": firstTaskID})
		o.runs.setStatus(taskID, StatusSkipped)
		observability.Default.IncCounter("orchestrations_skipped_total", nil, 1)
		return insightapi.InsightResult{OK: true, Skipped: true}
	}

	payload := basePayload(req)

	// Perception.
	if err := ctx.Err(); err != nil {
		return o.failRun(ctx, taskID, req, StatusPerception, errCanceled)
	}
	o.runs.setStatus(taskID, StatusPerception)
	perception, err := o.runStage(ctx, taskID, []string{"perception"}, payload)
	if err != nil {
		return o.failRun(ctx, taskID, req, StatusPerception, err)
	}
	payload = mergePayload(payload, perception)
	o.event(ctx, taskID, req, "perception:done", map[string]any{
		"characters": len(anySlice(perception["characters"])),
	})

	// Momentum enrichment is optional: a missing or failing probe never
	// fails the run.
	if sel, perr := o.deps.Router.Pick(ctx, []string{"momentum"}); perr == nil {
		if momentum, merr := o.runSelection(ctx, taskID, sel, payload); merr == nil {
			payload = mergePayload(payload, momentum)
			o.event(ctx, taskID, req, "momentum:done", map[string]any{"momentum": momentum["momentum"]})
		} else {
			o.log.Warn("momentum probe failed", zap.String("task_id", taskID), zap.Error(merr))
		}
	}

	// Prompt generation.
	if err := ctx.Err(); err != nil {
		return o.failRun(ctx, taskID, req, StatusPrompt, errCanceled)
	}
	o.runs.setStatus(taskID, StatusPrompt)
	prompt, err := o.runStage(ctx, taskID, []string{"nl_generation"}, payload)
	if err != nil {
		return o.failRun(ctx, taskID, req, StatusPrompt, err)
	}
	payload = mergePayload(payload, prompt)
	o.event(ctx, taskID, req, "prompt:done", map[string]any{"prompt": prompt["prompt"]})

	// Speculative motion race.
	if err := ctx.Err(); err != nil {
		return o.failRun(ctx, taskID, req, StatusMotion, errCanceled)
	}
	o.runs.setStatus(taskID, StatusMotion)
	winner, err := o.runMotionRace(ctx, taskID, req, payload)
	if err != nil {
		return o.failRun(ctx, taskID, req, StatusMotion, err)
	}
	frames := anySlice(winner.Result["frames"])
	o.event(ctx, taskID, req, "motion:done", map[string]any{
		"winner": winner.Agent,
		"frames": len(frames),
	})

	// Validator fan-out.
	if err := ctx.Err(); err != nil {
		return o.failRun(ctx, taskID, req, StatusValidation, errCanceled)
	}
	o.runs.setStatus(taskID, StatusValidation)
	validations := o.fanOutValidators(ctx, taskID, req, winner.Result)

	// Finalize.
	artifactURI := o.storeArtifact(ctx, taskID, req, winner, validations)
	o.event(ctx, taskID, req, "completed", map[string]any{
		"frames":       len(frames),
		"winner":       winner.Agent,
		"artifact_uri": artifactURI,
	})
	o.runs.complete(taskID, len(frames), artifactURI)
	observability.Default.IncCounter("orchestrations_completed_total", nil, 1)
	return insightapi.InsightResult{OK: true, Frames: len(frames), ArtifactURI: artifactURI}
}

// runStage picks one worker for the capabilities and runs it under its
// catalog budget. Stage failures fail the whole orchestration at the caller.
func (o *Orchestrator) runStage(ctx context.Context, taskID string, capabilities []string, payload worker.Payload) (map[string]any, error) {
	sel, err := o.deps.Router.Pick(ctx, capabilities)
	if err != nil {
		return nil, err
	}
	return o.runSelection(ctx, taskID, sel, payload)
}

func (o *Orchestrator) runSelection(ctx context.Context, taskID string, sel router.Selection, payload worker.Payload) (map[string]any, error) {
	w, err := o.deps.Workers.Get(sel.Spec.Name)
	if err != nil {
		if sel.SlotHeld {
			_, _ = o.deps.Ledger.Release(ctx, sel.Spec.Name)
		}
		return nil, err
	}
	res, err := o.deps.Runner.Run(ctx, runner.Invocation{
		TaskID:   taskID,
		Worker:   w,
		Lane:     sel.Lane,
		SlotHeld: sel.SlotHeld,
		Budget:   sel.Spec.Timeout,
	}, payload)
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

// runMotionRace picks a primary and a backup motion worker and races them.
// A second pick landing on the same spec collapses to a single candidate;
// its duplicate reservation is returned before the race starts.
func (o *Orchestrator) runMotionRace(ctx context.Context, taskID string, req insightapi.InsightRequest, payload worker.Payload) (*race.Winner, error) {
	primary, err := o.deps.Router.Pick(ctx, []string{"motion_generation"})
	if err != nil {
		return nil, err
	}
	candidates := []race.Candidate{o.toCandidate(primary)}
	names := []string{primary.Spec.Name}

	if backup, berr := o.deps.Router.Pick(ctx, []string{"motion_generation"}); berr == nil {
		if backup.Spec.Name == primary.Spec.Name && backup.Lane == primary.Lane {
			if backup.SlotHeld {
				_, _ = o.deps.Ledger.Release(ctx, backup.Spec.Name)
			}
		} else {
			candidates = append(candidates, o.toCandidate(backup))
			names = append(names, backup.Spec.Name)
		}
	}

	o.event(ctx, taskID, req, "motion:speculative_start", map[string]any{"candidates": names})
	winner, err := o.deps.Races.Run(ctx, taskID, candidates, payload, o.cfg.RaceTimeout)
	if err != nil {
		if errors.Is(err, race.ErrNoWinner) {
			return nil, fmt.Errorf("%w: %v", ErrMotionGeneration, err)
		}
		return nil, err
	}
	return winner, nil
}

func (o *Orchestrator) toCandidate(sel router.Selection) race.Candidate {
	w, err := o.deps.Workers.Get(sel.Spec.Name)
	if err != nil {
		// Catalog and worker set were cross-checked at construction.
		o.log.Error("selection without implementation", zap.String("worker", sel.Spec.Name))
		return race.Candidate{}
	}
	return race.Candidate{
		Worker:   w,
		Lane:     sel.Lane,
		SlotHeld: sel.SlotHeld,
		Budget:   sel.Spec.Timeout,
	}
}

type validatorOutcome struct {
	worker string
	result map[string]any
	err    error
}

// fanOutValidators runs every validation or scoring worker in parallel
// against the winning motion result and collects outcomes within the
// configured window. Validators that miss the window appear as explicit
// timed-out markers; none are silently dropped.
func (o *Orchestrator) fanOutValidators(ctx context.Context, taskID string, req insightapi.InsightRequest, motionResult map[string]any) []map[string]any {
	specs := o.deps.Router.Candidates(ctx, []string{"validation", "scoring"})
	if len(specs) == 0 {
		o.event(ctx, taskID, req, "validators:skipped", nil)
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.ValidationWindow)
	defer cancel()

	ch := make(chan validatorOutcome, len(specs))
	for _, spec := range specs {
		spec := spec
		go func() {
			w, err := o.deps.Workers.Get(spec.Name)
			if err != nil {
				ch <- validatorOutcome{worker: spec.Name, err: err}
				return
			}
			held, rerr := o.deps.Ledger.Reserve(vctx, spec.Name, spec.MaxConcurrency)
			if rerr != nil {
				held = false
			}
			res, err := o.deps.Runner.Run(vctx, runner.Invocation{
				TaskID:   taskID,
				Worker:   w,
				Lane:     spec.Lane,
				SlotHeld: held,
				Budget:   spec.Timeout,
			}, motionResult)
			if err != nil {
				ch <- validatorOutcome{worker: spec.Name, err: err}
				return
			}
			ch <- validatorOutcome{worker: spec.Name, result: res.Result}
		}()
	}

	finished := make(map[string]validatorOutcome, len(specs))
collect:
	for range specs {
		select {
		case out := <-ch:
			finished[out.worker] = out
		case <-vctx.Done():
			break collect
		}
	}

	results := make([]map[string]any, 0, len(specs))
	timedOut := 0
	for _, spec := range specs {
		out, ok := finished[spec.Name]
		switch {
		case !ok:
			results = append(results, map[string]any{"worker": spec.Name, "timed_out": true})
			timedOut++
		case errors.Is(out.err, context.DeadlineExceeded):
			// The validator hit the collection window, not a domain failure.
			results = append(results, map[string]any{"worker": spec.Name, "timed_out": true})
			timedOut++
		case out.err != nil:
			results = append(results, map[string]any{"worker": spec.Name, "error": out.err.Error()})
		default:
			entry := map[string]any{"worker": spec.Name}
			for k, v := range out.result {
				entry[k] = v
			}
			results = append(results, entry)
		}
	}
	o.event(ctx, taskID, req, "validators:done", map[string]any{
		"validators": len(specs),
		"timed_out":  timedOut,
	})
	return results
}

// storeArtifact uploads the finished insight as JSON. Upload trouble costs
// the URI, never the run.
func (o *Orchestrator) storeArtifact(ctx context.Context, taskID string, req insightapi.InsightRequest, winner *race.Winner, validations []map[string]any) string {
	if o.deps.Artifacts == nil {
		return ""
	}
	doc := map[string]any{
		"task_id":     taskID,
		"match_id":    req.MatchID,
		"round":       req.Round,
		"winner":      winner.Agent,
		"result":      winner.Result,
		"validations": validations,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		o.log.Warn("artifact marshal failed", zap.String("task_id", taskID), zap.Error(err))
		return ""
	}
	key := fmt.Sprintf("%s/%d/%s/motion.json", req.MatchID, req.Round, taskID)
	uri, err := o.deps.Artifacts.Put(ctx, key, data, "application/json")
	if err != nil {
		o.log.Warn("artifact upload failed", zap.String("task_id", taskID), zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) failRun(ctx context.Context, taskID string, req insightapi.InsightRequest, stage string, err error) insightapi.InsightResult {
	if errors.Is(err, context.Canceled) {
		err = errCanceled
	}
	o.event(ctx, taskID, req, "error", map[string]any{"stage": stage, "error": err.Error()})
	o.runs.fail(taskID, err.Error())
	observability.Default.IncCounter("orchestrations_failed_total", map[string]string{"stage": stage}, 1)
	o.log.Warn("orchestration failed",
		zap.String("task_id", taskID),
		zap.String("stage", stage),
		zap.Error(err))
	return insightapi.InsightResult{OK: false, Error: err.Error()}
}

// event publishes one progress line. The terminal run context may already be
// canceled; publication still goes out on a background context so the last
// event is not lost.
func (o *Orchestrator) event(ctx context.Context, taskID string, req insightapi.InsightRequest, name string, data map[string]any) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	evt := insightapi.NewProgressEvent(taskID, name, data)
	evt.MatchID = req.MatchID
	evt.Round = req.Round
	o.deps.Bus.Publish(ctx, bus.ProgressChannel, evt)
}

func basePayload(req insightapi.InsightRequest) worker.Payload {
	p := worker.Payload{
		"match_id":      req.MatchID,
		"round":         req.Round,
		"grid_snapshot": req.GridSnapshot,
		"round_meta":    req.RoundMeta,
	}
	if req.DurationS > 0 {
		p["duration_s"] = req.DurationS
	}
	if req.RequireHumanReview {
		p["_require_human_review"] = true
	}
	return p
}

// mergePayload overlays a stage result onto the running payload. The next
// stage sees every key the previous stage produced; merge, not replacement.
func mergePayload(payload worker.Payload, result map[string]any) worker.Payload {
	out := make(worker.Payload, len(payload)+len(result))
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range result {
		out[k] = v
	}
	return out
}

func anySlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}
