// Package scheduler runs batches of browser tests on a bounded pool of
// isolated workers.
//
// A single supervisor goroutine owns the FIFO queue and the slot table.
// Every worker has its own assignment channel and reports back on one shared
// event channel; nothing polls. A watchdog restarts slots whose worker stays
// silent past the test timeout plus a grace period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/session"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

const (
	DefaultTestTimeout = 2 * time.Minute
	DefaultStallGrace  = 30 * time.Second
)

// ErrBusy is returned when RunTests is called while a batch is running.
var ErrBusy = errors.New("scheduler is already running a batch")

// Scheduler executes TestSpecs concurrently.
type Scheduler struct {
	resolver CapabilityResolver
	sessions *session.Registry
	factory  webdriver.Factory
	suite    Suite

	workers    int
	timeout    time.Duration
	retries    int
	stallGrace time.Duration
	numCPU     func() int
	logger     *logging.Logger
	registerer prometheus.Registerer

	metrics *metrics
	runMu   sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the requested pool size. Zero uses host parallelism.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithTimeout sets the default per-test timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets how many times a failed test is re-run by default.
func WithRetries(n int) Option {
	return func(s *Scheduler) { s.retries = n }
}

// WithStallGrace sets how long past its timeout a worker may stay silent
// before its slot is restarted.
func WithStallGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stallGrace = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRegisterer registers the scheduler's prometheus collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.registerer = reg }
}

func withNumCPU(fn func() int) Option {
	return func(s *Scheduler) { s.numCPU = fn }
}

// New creates a scheduler. factory is called once per worker slot.
func New(resolver CapabilityResolver, sessions *session.Registry, factory webdriver.Factory, suite Suite, opts ...Option) *Scheduler {
	s := &Scheduler{
		resolver:   resolver,
		sessions:   sessions,
		factory:    factory,
		suite:      suite,
		timeout:    DefaultTestTimeout,
		stallGrace: DefaultStallGrace,
		numCPU:     runtime.NumCPU,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = session.NewRegistry(s.logger.With("session"))
	}
	s.metrics = newMetrics(s.registerer)
	return s
}

// Metrics returns a snapshot of the running (or last) batch.
func (s *Scheduler) Metrics() Snapshot {
	return s.metrics.snapshot()
}

// State returns the lifecycle state of the i-th spec of the current batch.
func (s *Scheduler) State(i int) State {
	return s.metrics.state(i)
}

// PoolSize is the number of workers a batch of n specs gets: the requested
// size (host parallelism minus one when unset) capped by host parallelism
// minus one and by n, never below one.
func (s *Scheduler) PoolSize(n int) int {
	limit := s.numCPU() - 1
	if limit < 1 {
		limit = 1
	}
	size := s.workers
	if size <= 0 || size > limit {
		size = limit
	}
	if size > n {
		size = n
	}
	if size < 1 {
		size = 1
	}
	return size
}

func (s *Scheduler) timeoutFor(spec TestSpec) time.Duration {
	if spec.Options.Timeout > 0 {
		return spec.Options.Timeout
	}
	return s.timeout
}

// RunTests runs every spec and returns one result per spec, in input order.
// Test failures are reported in the results; the error is reserved for
// pool-level failures such as a driver that cannot be created.
func (s *Scheduler) RunTests(ctx context.Context, specs []TestSpec) ([]TestResult, error) {
	if !s.runMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.runMu.Unlock()

	if len(specs) == 0 {
		s.metrics.reset(0, 0)
		return []TestResult{}, nil
	}

	pool := s.PoolSize(len(specs))
	drivers, err := s.createDrivers(pool)
	if err != nil {
		return nil, err
	}

	s.metrics.reset(len(specs), pool)
	s.logger.Infof("Running %d tests on %d workers", len(specs), pool)

	sup := newSupervisor(ctx, s, specs, drivers)
	results := sup.run()

	s.closeDrivers(sup.liveDrivers())
	snap := s.metrics.snapshot()
	s.logger.Infof("Finished %d tests: %d passed, %d failed", snap.Total, snap.Completed, snap.Failed)
	return results, nil
}

// createDrivers builds one driver per slot in parallel. Any failure closes
// the drivers already built and fails the batch.
func (s *Scheduler) createDrivers(pool int) ([]webdriver.Driver, error) {
	drivers := make([]webdriver.Driver, pool)
	var g errgroup.Group
	for slot := 0; slot < pool; slot++ {
		slot := slot
		g.Go(func() error {
			d, err := s.factory(slot)
			if err != nil {
				return fmt.Errorf("failed to create driver for worker %d: %w", slot, err)
			}
			if d == nil {
				return fmt.Errorf("driver factory returned nil for worker %d", slot)
			}
			drivers[slot] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.closeDrivers(drivers)
		return nil, err
	}
	return drivers, nil
}

func (s *Scheduler) closeDrivers(drivers []webdriver.Driver) {
	var g errgroup.Group
	for _, d := range drivers {
		if d == nil {
			continue
		}
		d := d
		g.Go(func() error {
			if err := d.Close(); err != nil {
				s.logger.Warnf("Failed to close driver: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// slot is the supervisor's view of one worker position.
type slot struct {
	id       int
	gen      int
	w        *worker
	cancel   context.CancelFunc
	dead     bool
	busy     bool
	job      int
	spec     TestSpec
	lastBeat time.Time
	timeout  time.Duration
}

type supervisor struct {
	s       *Scheduler
	ctx     context.Context
	specs   []TestSpec
	slots   []*slot
	events  chan event
	queue   []int
	results []TestResult
	done    []bool
	pending int
	timer   *time.Timer
}

func newSupervisor(ctx context.Context, s *Scheduler, specs []TestSpec, drivers []webdriver.Driver) *supervisor {
	sup := &supervisor{
		s:       s,
		ctx:     ctx,
		specs:   specs,
		events:  make(chan event, 2*len(drivers)),
		queue:   make([]int, len(specs)),
		results: make([]TestResult, len(specs)),
		done:    make([]bool, len(specs)),
		pending: len(specs),
	}
	for i := range specs {
		sup.queue[i] = i
	}
	for id, d := range drivers {
		sl := &slot{id: id}
		sup.slots = append(sup.slots, sl)
		sup.startWorker(sl, d)
	}
	return sup
}

func (sup *supervisor) startWorker(sl *slot, d webdriver.Driver) {
	sl.gen++
	ctx, cancel := context.WithCancel(sup.ctx)
	w := &worker{
		slot:   sl.id,
		gen:    sl.gen,
		sched:  sup.s,
		driver: d,
		logger: sup.s.logger.With(fmt.Sprintf("worker-%d", sl.id)),
		ctx:    ctx,
		assign: make(chan assignment, 1),
		events: sup.events,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	sl.w = w
	sl.cancel = cancel
	sl.busy = false
	sl.dead = false
	go w.run()
}

func (sup *supervisor) run() []TestResult {
	sup.timer = time.NewTimer(time.Hour)
	sup.timer.Stop()
	defer sup.timer.Stop()

	ctxDone := sup.ctx.Done()
	sup.dispatch()
	sup.armWatchdog()

	for sup.pending > 0 {
		select {
		case ev := <-sup.events:
			sup.handle(ev)
		case <-sup.timer.C:
			sup.checkStalls()
		case <-ctxDone:
			ctxDone = nil
			sup.drainQueue(fmt.Sprintf("not started: %v", sup.ctx.Err()))
		}
		sup.dispatch()
		sup.armWatchdog()
	}

	sup.shutdown()
	return sup.results
}

// dispatch hands queued specs to idle workers.
func (sup *supervisor) dispatch() {
	for _, sl := range sup.slots {
		if len(sup.queue) == 0 {
			return
		}
		if sl.dead || sl.busy {
			continue
		}
		job := sup.queue[0]
		sup.queue = sup.queue[1:]

		sl.busy = true
		sl.job = job
		sl.spec = sup.specs[job]
		sl.lastBeat = time.Now()
		sl.timeout = sup.s.timeoutFor(sl.spec)
		sup.s.metrics.transition(job, StateAssigned)
		sl.w.assign <- assignment{job: job, spec: sl.spec}
	}

	if len(sup.queue) > 0 && sup.liveSlots() == 0 {
		sup.drainQueue("no workers available")
	}
}

func (sup *supervisor) handle(ev event) {
	sl := sup.slots[ev.slot]
	if ev.gen != sl.gen {
		sup.s.logger.Debugf("Dropping event from abandoned worker %d (generation %d)", ev.slot, ev.gen)
		return
	}

	switch ev.kind {
	case evRunning, evBeat:
		sl.lastBeat = time.Now()
		if ev.budget > 0 {
			sl.timeout = ev.budget
		}
		if ev.kind == evRunning {
			sup.s.metrics.transition(ev.job, StateRunning)
		}
	case evResult:
		sl.busy = false
		sup.finish(ev.job, ev.result)
	case evExited:
		// Live workers only exit on shutdown; anything else is a crash.
		sup.s.logger.Errorf("Worker %d exited unexpectedly", sl.id)
		if sl.busy {
			sl.busy = false
			sup.finish(sl.job, sup.failure(sl, "worker exited unexpectedly"))
		}
		sup.restart(sl)
	}
}

func (sup *supervisor) finish(job int, r TestResult) {
	if sup.done[job] {
		return
	}
	sup.done[job] = true
	sup.pending--
	sup.results[job] = r
	sup.s.metrics.record(job, r)

	if r.Success {
		sup.s.logger.Infof("PASS %s in %s", sup.specs[job], r.Duration.Round(time.Millisecond))
	} else {
		sup.s.logger.Warnf("FAIL %s in %s: %s", sup.specs[job], r.Duration.Round(time.Millisecond), r.Error)
	}
}

func (sup *supervisor) failure(sl *slot, msg string) TestResult {
	spec := sup.specs[sl.job]
	return TestResult{
		ID:          spec.ID,
		TestFile:    spec.TestFile,
		BrowserType: spec.BrowserType,
		Error:       msg,
		Worker:      sl.id,
		StartedAt:   sl.lastBeat,
		Duration:    time.Since(sl.lastBeat),
	}
}

// drainQueue fails every spec that has not reached a worker.
func (sup *supervisor) drainQueue(reason string) {
	for _, job := range sup.queue {
		spec := sup.specs[job]
		sup.finish(job, TestResult{
			ID:          spec.ID,
			TestFile:    spec.TestFile,
			BrowserType: spec.BrowserType,
			Error:       reason,
			Worker:      -1,
		})
	}
	sup.queue = nil
}

func (sup *supervisor) deadline(sl *slot) time.Time {
	return sl.lastBeat.Add(sl.timeout + sup.s.stallGrace)
}

func (sup *supervisor) armWatchdog() {
	var next time.Time
	for _, sl := range sup.slots {
		if !sl.busy || sl.dead {
			continue
		}
		if d := sup.deadline(sl); next.IsZero() || d.Before(next) {
			next = d
		}
	}

	if !sup.timer.Stop() {
		select {
		case <-sup.timer.C:
		default:
		}
	}
	if !next.IsZero() {
		sup.timer.Reset(time.Until(next))
	}
}

// checkStalls fails the spec of every slot past its deadline and restarts the
// slot with a fresh worker and driver.
func (sup *supervisor) checkStalls() {
	now := time.Now()
	for _, sl := range sup.slots {
		if !sl.busy || sl.dead || now.Before(sup.deadline(sl)) {
			continue
		}
		silent := now.Sub(sl.lastBeat).Round(time.Millisecond)
		sup.s.logger.Errorf("Worker %d stalled on %s (silent for %s); restarting slot", sl.id, sl.spec, silent)
		sup.s.metrics.stall()
		sl.busy = false
		sup.finish(sl.job, sup.failure(sl, fmt.Sprintf("worker stalled: no progress for %s", silent)))
		sup.restart(sl)
	}
}

// restart abandons the slot's worker and starts a new generation. The old
// driver is closed in the background; it may be wedged.
func (sup *supervisor) restart(sl *slot) {
	old := sl.w
	close(old.stop)
	sl.cancel()
	go func() {
		if err := old.driver.Close(); err != nil {
			old.logger.Warnf("Failed to close abandoned driver: %v", err)
		}
	}()

	d, err := sup.s.factory(sl.id)
	if err == nil && d == nil {
		err = errors.New("driver factory returned nil")
	}
	if err != nil {
		sup.s.logger.Errorf("Cannot restart worker %d: %v", sl.id, err)
		sl.gen++
		sl.dead = true
		sl.busy = false
		sl.w = nil
		return
	}
	sup.startWorker(sl, d)
}

func (sup *supervisor) liveSlots() int {
	n := 0
	for _, sl := range sup.slots {
		if !sl.dead {
			n++
		}
	}
	return n
}

// shutdown stops every live worker and waits for it to exit. Live workers are
// idle once every result is in.
func (sup *supervisor) shutdown() {
	for _, sl := range sup.slots {
		if sl.dead {
			continue
		}
		close(sl.w.assign)
		close(sl.w.stop)
		sl.cancel()
	}
	for _, sl := range sup.slots {
		if !sl.dead {
			<-sl.w.done
		}
	}
}

func (sup *supervisor) liveDrivers() []webdriver.Driver {
	var out []webdriver.Driver
	for _, sl := range sup.slots {
		if !sl.dead && sl.w != nil {
			out = append(out, sl.w.driver)
		}
	}
	return out
}

// Summarize counts passes and failures in a finished batch.
func Summarize(results []TestResult) (passed, failed int) {
	for _, r := range results {
		if r.Success {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
