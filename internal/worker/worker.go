// Package worker pulls build jobs off the durable queue and drives the
// compile / heal / recompile cycle for each of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"gramforge/internal/compiler"
	"gramforge/internal/logging"
	"gramforge/internal/queue"
	"gramforge/internal/strategy"
)

// Compiler runs compile passes.
type Compiler interface {
	Compile(ctx context.Context, plan strategy.BuildPlan) (*compiler.Result, error)
	CompileOne(ctx context.Context, plan strategy.BuildPlan, target string) (*compiler.Result, error)
}

// Healer runs one repair round over a failure report.
type Healer interface {
	RunHealingRound(ctx context.Context, report compiler.FailureReport) map[string]bool
}

// Queue is the job source.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, id string) error
}

// Deps is everything a Worker needs. Compiler, Healer, Queue and Plan are
// required.
type Deps struct {
	Compiler Compiler
	Healer   Healer
	Queue    Queue
	// Plan returns the current build plan; it is called once per job.
	Plan func() strategy.BuildPlan

	PopTimeout time.Duration
	RetryDelay time.Duration
	MaxBackoff time.Duration
	Log        *zap.Logger
}

// Worker is a single-threaded job loop.
type Worker struct {
	deps  Deps
	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a worker.
func New(d Deps) (*Worker, error) {
	switch {
	case d.Compiler == nil:
		return nil, errors.New("worker: compiler is required")
	case d.Healer == nil:
		return nil, errors.New("worker: healer is required")
	case d.Queue == nil:
		return nil, errors.New("worker: queue is required")
	case d.Plan == nil:
		return nil, errors.New("worker: plan source is required")
	}
	if d.PopTimeout <= 0 {
		d.PopTimeout = 5 * time.Second
	}
	if d.RetryDelay <= 0 {
		d.RetryDelay = 5 * time.Second
	}
	if d.MaxBackoff <= 0 {
		d.MaxBackoff = time.Minute
	}
	return &Worker{deps: d, log: logging.For(d.Log, logging.CategoryWorker), sleep: sleepCtx}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run polls until ctx is cancelled. Queue errors are retried with backoff
// and never end the loop; a job in progress when ctx is cancelled runs to
// completion and is acknowledged before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.Duration("pop_timeout", w.deps.PopTimeout))
	defer w.log.Info("worker stopped")

	var consecutive int
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := w.deps.Queue.Pop(ctx, w.deps.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var bad *queue.BadJobError
			if errors.As(err, &bad) {
				w.log.Error("discarding invalid job", zap.String("job_id", bad.ID), zap.Error(bad.Err))
				w.ack(ctx, bad.ID)
				continue
			}
			consecutive++
			delay := w.backoff(consecutive)
			w.log.Warn("queue unavailable, retrying", zap.Error(err), zap.Int("consecutive", consecutive), zap.Duration("retry_in", delay))
			if !w.sleep(ctx, delay) {
				return nil
			}
			continue
		}
		consecutive = 0
		if job == nil {
			continue
		}

		// The job is finished even if shutdown was requested meanwhile.
		jobCtx := context.WithoutCancel(ctx)
		out := w.Process(jobCtx, job)
		w.report(out)
		w.ack(jobCtx, job.ID)
	}
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.deps.Queue.Ack(context.WithoutCancel(ctx), id); err != nil {
		w.log.Error("failed to ack job; it will be redelivered", zap.String("job_id", id), zap.Error(err))
	}
}

// backoff returns RetryDelay doubled per consecutive failure, capped at
// MaxBackoff, plus up to 50% jitter.
func (w *Worker) backoff(n int) time.Duration {
	d := w.deps.RetryDelay
	for i := 1; i < n && d < w.deps.MaxBackoff; i++ {
		d *= 2
	}
	if d > w.deps.MaxBackoff {
		d = w.deps.MaxBackoff
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}

func (w *Worker) report(out Outcome) {
	if out.State == StateSuccess {
		w.log.Info("job complete", outcomeField(out))
		return
	}
	w.log.Error("job failed", outcomeField(out))
}

// Process runs one job to a terminal state. It never panics.
func (w *Worker) Process(ctx context.Context, job *queue.Job) (out Outcome) {
	out = Outcome{JobID: job.ID, Type: job.Type, Lang: job.Lang}
	out.enter(StatePending)

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("worker: job panicked: %v", r)
			out.enter(StateFinalFailure)
			return
		}
		if !out.State.Terminal() {
			out.Err = fmt.Errorf("worker: job stopped in state %s", out.State)
			out.enter(StateFinalFailure)
		}
	}()

	log := w.log.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	if len(job.Params) > 0 {
		log.Debug("job params", zap.Any("params", job.Params))
	}
	if job.Attempts > 1 {
		log.Info("redelivered job", zap.Int("attempt", job.Attempts))
	}

	switch job.Type {
	case queue.JobCompileAll:
		w.compileAll(ctx, &out, log)
	case queue.JobCompileOne:
		w.compileOne(ctx, &out, job.Lang, log)
	default:
		out.Err = fmt.Errorf("%w: %q", queue.ErrUnknownJobType, job.Type)
		out.enter(StateFinalFailure)
	}
	return out
}

func (w *Worker) compileAll(ctx context.Context, out *Outcome, log *zap.Logger) {
	plan := w.deps.Plan()

	out.enter(StateCompiling)
	res, err := w.deps.Compiler.Compile(ctx, plan)
	if w.settle(out, res, err) {
		return
	}
	if errors.Is(err, compiler.ErrAbstractFailed) {
		out.enter(StateFinalFailure)
		return
	}

	out.enter(StateCompileFailed)
	log.Warn("compile failed, healing", zap.Int("failed", out.Failed))

	out.enter(StateHealing)
	var report compiler.FailureReport
	if res != nil {
		report = res.Failed
	}
	healed := w.deps.Healer.RunHealingRound(ctx, report)
	out.Healed = sortedKeys(healed)

	out.enter(StateRecompiling)
	res, err = w.deps.Compiler.Compile(ctx, plan)
	if !w.settle(out, res, err) {
		out.enter(StateFinalFailure)
	}
}

func (w *Worker) compileOne(ctx context.Context, out *Outcome, target string, log *zap.Logger) {
	plan := w.deps.Plan()

	out.enter(StateCompiling)
	res, err := w.deps.Compiler.CompileOne(ctx, plan, target)
	if !w.settle(out, res, err) {
		log.Info("single-language compile failed; healing is caller-initiated", zap.String("lang", target))
		out.enter(StateFinalFailure)
	}
}

// settle records a compile pass on out and reports whether it succeeded
// (entering SUCCESS if so).
func (w *Worker) settle(out *Outcome, res *compiler.Result, err error) bool {
	out.Succeeded, out.Failed = res.Counts()
	out.Err = err
	if err == nil && res.OK() {
		out.enter(StateSuccess)
		return true
	}
	if err == nil && res != nil && !res.Linked && len(res.Failed) == 0 {
		out.Err = errors.New(firstNonEmpty(res.LinkDiagnostic, "nothing compiled"))
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
