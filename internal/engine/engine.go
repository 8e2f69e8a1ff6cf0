package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/credential"
	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
)

const (
	// DefaultWorkers bounds how many entity types sync concurrently.
	DefaultWorkers = 4

	// DefaultMaxRetries is the number of transient failures a mutation may
	// accumulate before it becomes stuck.
	DefaultMaxRetries = 5

	DefaultPageSize       = 100
	DefaultRequestTimeout = 30 * time.Second
)

// ErrNotHeld is returned by Decide for a record with no held conflict.
var ErrNotHeld = errors.New("no held conflict")

// Deps are the collaborators of an Orchestrator. Store, Remote and Keyring
// are required.
type Deps struct {
	Store  *store.Store
	Remote remote.Authority
	// Connectivity defaults to always online.
	Connectivity connectivity.Checker
	Keyring      credential.Keyring
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator runs sync cycles between the local store and the remote
// authority.
//
// Thread-safety model:
//   - SyncNow, Trigger, Cancel, Decide, Held and State: safe from any
//     goroutine
//   - Start: at most once
//
// INVARIANTS:
//   - At most one cycle runs at a time
//   - Mutations of one entity type are pushed in enqueue order
//   - A pull cursor never passes a conflict held for a user decision
type Orchestrator struct {
	store    *store.Store
	remote   remote.Authority
	conn     connectivity.Checker
	keyring  credential.Keyring
	clock    clock.Clock
	logger   *slog.Logger
	triggers *triggerQueue

	workers        int
	maxRetries     int
	skew           time.Duration
	policy         conflict.Policy
	pageSize       int
	requestTimeout time.Duration
	interval       time.Duration
	retry          RetryPolicy
	listener       StateListener

	started atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	// busy is non-nil while a caller holds the cycle slot and is closed
	// when the slot is released.
	busy      chan struct{}
	rerun     bool
	suspended bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets how many entity types sync concurrently.
//
// Default: 4 (DefaultWorkers)
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMaxRetries sets the transient failures a mutation may accumulate
// before it becomes stuck.
//
// Default: 5 (DefaultMaxRetries)
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.maxRetries = n
	}
}

// WithSkew sets the clock skew buffer of conflict detection.
//
// Default: 1s (conflict.DefaultSkew)
func WithSkew(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.skew = d
	}
}

// WithPolicy sets the conflict strategies.
//
// Default: server_wins for every entity type
func WithPolicy(p conflict.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithPageSize sets the page size of change pulls.
func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithRequestTimeout bounds each remote call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.requestTimeout = d
	}
}

// WithInterval sets the periodic sync interval of Start. Zero disables the
// timer.
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.interval = d
	}
}

// WithRetryPolicy sets the backoff applied after transient push failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// WithStateListener registers a listener for state transitions.
func WithStateListener(l StateListener) Option {
	return func(o *Orchestrator) {
		o.listener = l
	}
}

// New creates an Orchestrator. It does not start any goroutine; call Start
// for background syncing or SyncNow for a single cycle.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("new orchestrator: store is required")
	}
	if deps.Remote == nil {
		return nil, fmt.Errorf("new orchestrator: remote is required")
	}
	if deps.Keyring == nil {
		return nil, fmt.Errorf("new orchestrator: keyring is required")
	}
	if deps.Connectivity == nil {
		deps.Connectivity = connectivity.NewMonitor(true)
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	o := &Orchestrator{
		store:          deps.Store,
		remote:         deps.Remote,
		conn:           deps.Connectivity,
		keyring:        deps.Keyring,
		clock:          deps.Clock,
		logger:         deps.Logger,
		triggers:       newTriggerQueue(),
		workers:        DefaultWorkers,
		maxRetries:     DefaultMaxRetries,
		skew:           conflict.DefaultSkew,
		policy:         conflict.Policy{Default: conflict.ServerWins},
		pageSize:       DefaultPageSize,
		requestTimeout: DefaultRequestTimeout,
		retry:          DefaultRetryPolicy,
		state:          StateIdle,
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Start launches the background loop. It runs a cycle right away, whenever
// connectivity is regained, on every interval tick and for every Trigger.
// The loop ends when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.stopped.Load() {
		return ErrStopped
	}
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator already started")
	}

	updates, unsubscribe := o.conn.Subscribe()
	o.triggers.Enqueue("start")
	go o.run(ctx, updates, unsubscribe)
	return nil
}

// Stop ends the background loop, cancels the active cycle and waits for the
// loop to exit. Subsequent SyncNow calls fail with ErrStopped.
func (o *Orchestrator) Stop() {
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	o.triggers.Close()
	o.Cancel()
	if o.started.Load() {
		<-o.done
	}
}

// Cancel stops the active cycle, if any, once its in-flight remote calls
// return, and drops a pending rerun. Work finished before that point is
// kept. Cancel does not wait; use Suspend to wait for the cycle to end.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rerun = false
	if o.cancel != nil {
		o.cancel()
	}
}

// Suspend cancels the active cycle, waits for it to return and keeps new
// cycles from starting until resume is called. While suspended SyncNow
// fails with ErrSuspended and triggers are dropped.
//
// Suspend must not be called from a StateListener: the cycle it waits for
// is the one running the listener.
func (o *Orchestrator) Suspend(ctx context.Context) (resume func(), err error) {
	o.mu.Lock()
	if o.suspended {
		o.mu.Unlock()
		return nil, fmt.Errorf("suspend: %w", ErrSuspended)
	}
	o.suspended = true
	o.rerun = false
	if o.cancel != nil {
		o.cancel()
	}
	busy := o.busy
	o.mu.Unlock()

	unsuspend := func() {
		o.mu.Lock()
		o.suspended = false
		o.mu.Unlock()
	}

	if busy != nil {
		select {
		case <-busy:
		case <-ctx.Done():
			unsuspend()
			return nil, fmt.Errorf("suspend: %w", ctx.Err())
		}
	}
	o.logger.Debug("sync suspended")

	var once sync.Once
	return func() {
		once.Do(func() {
			unsuspend()
			o.logger.Debug("sync resumed")
		})
	}, nil
}

// Trigger requests a cycle from the background loop. Triggers arriving
// while a cycle runs are coalesced into one follow-up cycle.
// Returns false once the orchestrator is stopped.
func (o *Orchestrator) Trigger(reason string) bool {
	return o.triggers.Enqueue(reason)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SyncNow runs a cycle in the calling goroutine and returns its report.
//
// If a cycle is already running the request is coalesced: that cycle runs
// once more after it finishes and SyncNow returns at once with
// Report.Coalesced set. While the orchestrator is suspended SyncNow fails
// with ErrSuspended.
//
// The returned error is a *CycleError for failures that abort the cycle
// (authentication and storage). Cancellation is not an error; it is
// reported through Report.Cancelled.
func (o *Orchestrator) SyncNow(ctx context.Context, reason string) (Report, error) {
	if o.stopped.Load() {
		return Report{}, ErrStopped
	}
	acquired, err := o.acquire()
	if err != nil {
		return Report{Reason: reason}, err
	}
	if !acquired {
		o.logger.Debug("sync coalesced", "reason", reason)
		return Report{Reason: reason, Coalesced: true}, nil
	}

	for {
		rep, err := o.cycle(ctx, reason)
		if !o.next(err == nil && ctx.Err() == nil && !o.stopped.Load()) {
			return rep, err
		}
		reason = "rerun"
	}
}

// Decide records the user's strategy for a held conflict. The next cycle
// applies it.
func (o *Orchestrator) Decide(ctx context.Context, et record.EntityType, localID string, strategy conflict.Strategy) error {
	if !strategy.Valid() || strategy == conflict.AskUser {
		return syncerr.Validation("decide", fmt.Errorf("strategy %q cannot settle a held conflict", strategy))
	}

	held, err := o.store.ListHeld(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, h := range held {
		if h.EntityType == et && h.LocalID == localID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("decide %s/%s: %w", et, localID, ErrNotHeld)
	}

	if err := o.store.SetDecision(ctx, et, localID, string(strategy)); err != nil {
		return fmt.Errorf("decide %s/%s: %w", et, localID, err)
	}
	o.logger.Info("conflict decision recorded",
		"entity_type", et,
		"local_id", localID,
		"strategy", strategy,
	)
	return nil
}

// Held returns the conflicts waiting for a user decision.
func (o *Orchestrator) Held(ctx context.Context) ([]store.HeldConflict, error) {
	return o.store.ListHeld(ctx)
}

// acquire claims the single cycle slot. When the slot is taken it leaves a
// rerun request for the holder instead.
func (o *Orchestrator) acquire() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.suspended {
		return false, ErrSuspended
	}
	if o.busy != nil {
		o.rerun = true
		return false, nil
	}
	o.busy = make(chan struct{})
	o.rerun = false
	return true, nil
}

// next is called by the slot holder after each cycle. It reports whether a
// rerun was requested and allowed; otherwise it releases the slot.
func (o *Orchestrator) next(mayRerun bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if mayRerun && o.rerun && !o.suspended {
		o.rerun = false
		return true
	}
	close(o.busy)
	o.busy = nil
	return false
}

func (o *Orchestrator) run(ctx context.Context, updates <-chan bool, unsubscribe func()) {
	defer close(o.done)
	defer unsubscribe()

	o.logger.Info("orchestrator starting", "interval", o.interval, "workers", o.workers)

	var tick <-chan time.Time
	if o.interval > 0 {
		t := time.NewTicker(o.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping: context cancelled")
			return

		case online, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if online {
				o.Trigger("connectivity")
			}

		case <-tick:
			o.Trigger("timer")

		case _, ok := <-o.triggers.Wait():
			reasons := o.triggers.Drain()
			if !ok && len(reasons) == 0 {
				o.logger.Info("orchestrator stopping: stopped")
				return
			}
			if len(reasons) == 0 {
				continue
			}
			o.runTriggered(ctx, strings.Join(dedupe(reasons), ","))
		}
	}
}

func (o *Orchestrator) runTriggered(ctx context.Context, reason string) {
	rep, err := o.SyncNow(ctx, reason)
	if err != nil {
		if errors.Is(err, ErrStopped) || errors.Is(err, ErrSuspended) {
			return
		}
		o.logger.Error("sync cycle failed",
			"reason", reason,
			"phase", PhaseOf(err),
			"kind", syncerr.KindOf(err),
			"error", err,
		)
		return
	}
	if rep.Coalesced {
		return
	}
	o.logger.Info("sync cycle finished",
		"reason", rep.Reason,
		"offline", rep.Offline,
		"cancelled", rep.Cancelled,
		"pushed", rep.Pushed,
		"pulled", rep.Pulled,
		"conflicts", len(rep.Conflicts),
		"data_errors", len(rep.DataErrors),
		"stuck", len(rep.Stuck),
	)
}

// cycle runs Checking through Reconciling. Callers hold the cycle slot.
func (o *Orchestrator) cycle(parent context.Context, reason string) (Report, error) {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	o.cancel = cancel
	if o.suspended {
		// Suspend ran between acquire and here and could not cancel us.
		cancel()
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}()

	rep := Report{Reason: reason, StartedAt: o.clock.Now()}
	finish := func(err error) (Report, error) {
		rep.FinishedAt = o.clock.Now()
		if err != nil {
			o.setState(StateFailed)
			o.setState(StateIdle)
			return rep, err
		}
		o.setState(StateIdle)
		return rep, nil
	}
	cancelled := func() bool {
		if ctx.Err() != nil {
			rep.Cancelled = true
			return true
		}
		return false
	}

	o.setState(StateChecking)
	if !o.conn.Online() {
		rep.Offline = true
		o.logger.Debug("sync skipped: offline", "reason", reason)
		return finish(nil)
	}
	token, err := o.keyring.Token(ctx)
	if err != nil {
		return finish(cycleErr(StateChecking, "", err))
	}

	o.setState(StatePushing)
	pushed := make([]Report, len(record.EntityTypes))
	err = o.forEachType(ctx, func(ctx context.Context, i int, et record.EntityType) error {
		part, err := o.push(ctx, token, et)
		pushed[i] = part
		return err
	})
	for _, part := range pushed {
		rep.merge(part)
	}
	if err != nil {
		return finish(err)
	}
	if cancelled() {
		return finish(nil)
	}

	o.setState(StatePulling)
	pulled := make([]pullResult, len(record.EntityTypes))
	err = o.forEachType(ctx, func(ctx context.Context, i int, et record.EntityType) error {
		res, err := o.pull(ctx, token, et)
		pulled[i] = res
		return err
	})
	for _, res := range pulled {
		rep.merge(res.report)
	}
	if err != nil {
		return finish(err)
	}
	if cancelled() {
		return finish(nil)
	}

	o.setState(StateReconciling)
	reconciled := make([]Report, len(record.EntityTypes))
	err = o.forEachType(ctx, func(ctx context.Context, i int, et record.EntityType) error {
		part, err := o.reconcile(ctx, et, pulled[i])
		reconciled[i] = part
		return err
	})
	for _, part := range reconciled {
		rep.merge(part)
	}
	if err != nil {
		return finish(err)
	}
	cancelled()
	return finish(nil)
}

// forEachType runs fn for every entity type on the bounded worker pool.
// The first error cancels the remaining types.
func (o *Orchestrator) forEachType(ctx context.Context, fn func(ctx context.Context, i int, et record.EntityType) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, et := range record.EntityTypes {
		g.Go(func() error {
			return fn(gctx, i, et)
		})
	}
	return g.Wait()
}

// remoteContext detaches a remote call from cancellation so it is never
// aborted mid-flight, and bounds it by the request timeout.
func (o *Orchestrator) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if o.requestTimeout > 0 {
		return context.WithTimeout(detached, o.requestTimeout)
	}
	return context.WithCancel(detached)
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if from == to {
		return
	}
	o.logger.Debug("sync state", "from", from, "to", to)
	if o.listener != nil {
		o.listener(from, to)
	}
}

func dedupe(reasons []string) []string {
	seen := make(map[string]bool, len(reasons))
	out := reasons[:0]
	for _, r := range reasons {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
