package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// sessionCloseTimeout bounds session teardown after a test.
const sessionCloseTimeout = 30 * time.Second

type assignment struct {
	job  int
	spec TestSpec
}

type eventKind int

const (
	// evRunning is sent at the start of every attempt.
	evRunning eventKind = iota
	// evBeat marks a phase change inside an attempt: the body starting or
	// teardown starting.
	evBeat
	evResult
	evExited
)

// event is the only way a worker talks to the supervisor. gen identifies the
// worker generation so messages from an abandoned worker can be dropped.
type event struct {
	kind    eventKind
	slot    int
	gen     int
	job     int
	attempt int
	// budget is how long the phase that starts with this event may stay
	// silent, before the stall grace. Set on evRunning and evBeat.
	budget time.Duration
	result TestResult
}

// worker runs assignments for one slot generation with a driver of its own.
type worker struct {
	slot   int
	gen    int
	sched  *Scheduler
	driver webdriver.Driver
	logger *logging.Logger

	ctx    context.Context
	assign chan assignment
	events chan<- event
	// stop is closed when the supervisor no longer listens to this worker.
	stop chan struct{}
	done chan struct{}
}

func (w *worker) send(ev event) {
	ev.slot, ev.gen = w.slot, w.gen
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}

func (w *worker) run() {
	defer close(w.done)
	defer w.send(event{kind: evExited})

	for {
		select {
		case <-w.stop:
			return
		case a, ok := <-w.assign:
			if !ok {
				return
			}
			w.execute(a)
		}
	}
}

// execute runs a spec, retrying failed attempts, and reports one result.
func (w *worker) execute(a assignment) {
	retries := w.sched.retries
	if a.spec.Options.Retries != nil {
		retries = *a.spec.Options.Retries
	}
	if retries < 0 {
		retries = 0
	}

	start := time.Now()
	var result TestResult
	for attempt := 0; ; attempt++ {
		w.send(event{kind: evRunning, job: a.job, attempt: attempt, budget: w.sched.timeoutFor(a.spec)})
		if attempt > 0 {
			w.sched.metrics.retry()
			w.logger.Infof("Retrying %s (attempt %d of %d)", a.spec, attempt+1, retries+1)
		}

		result = w.attempt(a, attempt)
		result.RetryCount = attempt
		if result.Success || attempt >= retries || w.ctx.Err() != nil {
			break
		}
		w.logger.Warnf("Attempt %d of %s failed: %s", attempt+1, a.spec, result.Error)
	}
	result.StartedAt = start
	result.Duration = time.Since(start)

	w.send(event{kind: evResult, job: a.job, result: result})
}

// attempt runs the spec once on a fresh session. Any panic becomes a failed
// result.
func (w *worker) attempt(a assignment, attempt int) (result TestResult) {
	spec := a.spec
	result = TestResult{
		ID:          spec.ID,
		TestFile:    spec.TestFile,
		BrowserType: spec.BrowserType,
		Worker:      w.slot,
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("Worker panicked running %s: %v\n%s", spec, r, debug.Stack())
			result.Success = false
			result.Error = fmt.Sprintf("worker panicked: %v", r)
		}
	}()

	fail := func(err error) TestResult {
		result.Success = false
		result.Error = err.Error()
		return result
	}

	body, err := w.sched.suite.Lookup(spec)
	if err != nil {
		return fail(err)
	}

	caps, err := w.sched.resolver.Resolve(w.ctx, spec.BrowserType, spec.BrowserOptions())
	if err != nil {
		return fail(err)
	}
	defer caps.Release()

	handle, err := w.driver.Connect(w.ctx, caps)
	if err != nil {
		if !types.IsKind(err, types.KindConnection) {
			err = types.WrapError(err, types.KindConnection, string(spec.BrowserType), "failed to start browser session")
		}
		return fail(err)
	}
	if handle == nil {
		return fail(types.NewError(types.KindConnection, string(spec.BrowserType), "driver returned no session"))
	}

	info, err := w.sched.sessions.Create(handle, spec.BrowserType)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), sessionCloseTimeout)
		_ = handle.DeleteSession(closeCtx)
		cancel()
		return fail(err)
	}
	result.SessionID = info.ID

	defer func() {
		w.send(event{kind: evBeat, job: a.job, attempt: attempt, budget: sessionCloseTimeout})
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), sessionCloseTimeout)
		defer cancel()
		if err := w.sched.sessions.Close(closeCtx, info.ID); err != nil {
			w.logger.Warnf("Failed to close session %s: %v", info.ID, err)
			result.CleanupError = err.Error()
		}
	}()

	t := &T{
		Spec:         spec,
		Session:      info,
		Handle:       handle,
		Capabilities: caps,
		Logger:       w.logger.With(fmt.Sprintf("test:%s", spec.ID)),
		Attempt:      attempt,
	}
	timeout := w.sched.timeoutFor(spec)
	w.send(event{kind: evBeat, job: a.job, attempt: attempt, budget: timeout})
	if err := w.runBody(body, t, timeout); err != nil {
		return fail(err)
	}
	result.Success = true
	return result
}

// runBody runs a test body under timeout. The body runs on its own goroutine
// so a body that ignores its context cannot hold the worker past the
// deadline.
func (w *worker) runBody(body TestFunc, t *T, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(w.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Errorf("Test %s panicked: %v\n%s", t.Spec.ID, r, debug.Stack())
				done <- fmt.Errorf("test panicked: %v", r)
			}
		}()
		done <- body(ctx, t)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		// Prefer a result that raced the deadline.
		select {
		case err = <-done:
		default:
			err = ctx.Err()
		}
	}
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.NewError(types.KindTestFailure, t.Spec.ID, fmt.Sprintf("test timed out after %s", timeout))
	case ctx.Err() != nil:
		return fmt.Errorf("test cancelled: %w", ctx.Err())
	}
	return testError(err)
}

func testError(err error) error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return &types.Error{Kind: types.KindTestFailure, Message: "test failed", Err: err}
}
