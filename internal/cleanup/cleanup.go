// Package cleanup erases local sync state on sign-out and account switch.
//
// Every step runs even if an earlier one failed. Sign-out must never be
// blocked by a stale cache, so failures are logged and collected in the
// Report instead of aborting the sequence.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// LocalData is the local state a cleanup erases. *store.Store implements
// it.
type LocalData interface {
	// WipeAll deletes every record.
	WipeAll(ctx context.Context) error
	// Clear drops every queued mutation.
	Clear(ctx context.Context) error
	// ClearCursors forgets every pull cursor.
	ClearCursors(ctx context.Context) error
	// ClearDecisions forgets held conflicts and recorded decisions.
	ClearDecisions(ctx context.Context) error
}

// Credentials is the credential storage a cleanup erases.
// credential.Keyring implements it.
type Credentials interface {
	ClearAll(ctx context.Context) error
	ClearAccount(ctx context.Context) error
}

// Suspender stops syncing while local data is erased: it waits for the
// active cycle to return and starts no new one until resume is called.
// *engine.Orchestrator implements it.
type Suspender interface {
	Suspend(ctx context.Context) (resume func(), err error)
}

// Scope says which cleanups run an extra step.
type Scope int

const (
	// ScopeAccount steps hold data of the signed-in account. They run on
	// logout and on account switch.
	ScopeAccount Scope = iota
	// ScopeDevice steps hold data of the device. They run on logout only.
	ScopeDevice
)

// Step is an extra cleanup step registered by another component, such as a
// cache of attachments.
type Step struct {
	Name  string
	Scope Scope
	Run   func(ctx context.Context) error
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name string
	Err  error
}

// Report lists the outcome of every step, in execution order.
type Report struct {
	Steps []StepResult
}

// Failed returns the steps that failed.
func (r Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Err joins the failures of every step, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
	}
	return errors.Join(errs...)
}

// Service runs the logout and account-switch cleanups.
type Service struct {
	data   LocalData
	creds  Credentials
	sync   Suspender
	steps  []Step
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSuspender suspends syncing for the duration of a cleanup, so no
// cycle writes to the store once erasing has begun.
func WithSuspender(c Suspender) Option {
	return func(s *Service) {
		s.sync = c
	}
}

// WithStep registers an extra step. Steps run after the built-in ones, in
// registration order.
func WithStep(step Step) Option {
	return func(s *Service) {
		s.steps = append(s.steps, step)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a Service.
func New(data LocalData, creds Credentials, opts ...Option) *Service {
	s := &Service{
		data:   data,
		creds:  creds,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PerformLogoutCleanup erases records, queued mutations, pull cursors,
// held conflicts, every credential and every extra step's data.
func (s *Service) PerformLogoutCleanup(ctx context.Context) Report {
	return s.run(ctx, "logout", s.creds.ClearAll, func(Step) bool { return true })
}

// PerformAccountSwitchCleanup erases what belongs to the signed-in account:
// records, queued mutations, pull cursors, held conflicts, the account's
// credentials and account-scoped extra steps. The device id and
// device-scoped steps are kept.
func (s *Service) PerformAccountSwitchCleanup(ctx context.Context) Report {
	return s.run(ctx, "account switch", s.creds.ClearAccount, func(st Step) bool {
		return st.Scope == ScopeAccount
	})
}

func (s *Service) run(ctx context.Context, kind string, clearCreds func(context.Context) error, include func(Step) bool) Report {
	var rep Report
	if s.sync != nil {
		resume, err := s.sync.Suspend(ctx)
		if err != nil {
			s.logger.Error("cleanup could not suspend sync", "cleanup", kind, "error", err)
			rep.Steps = append(rep.Steps, StepResult{Name: "suspend sync", Err: err})
		} else {
			defer resume()
		}
	}

	steps := []Step{
		{Name: "records", Run: s.data.WipeAll},
		{Name: "mutation queue", Run: s.data.Clear},
		{Name: "sync cursors", Run: s.data.ClearCursors},
		{Name: "conflict decisions", Run: s.data.ClearDecisions},
		{Name: "credentials", Run: clearCreds},
	}
	for _, st := range s.steps {
		if include(st) {
			steps = append(steps, st)
		}
	}

	for _, st := range steps {
		err := runStep(ctx, st)
		if err != nil {
			s.logger.Error("cleanup step failed",
				"cleanup", kind,
				"step", st.Name,
				"error", err,
			)
		} else {
			s.logger.Debug("cleanup step done", "cleanup", kind, "step", st.Name)
		}
		rep.Steps = append(rep.Steps, StepResult{Name: st.Name, Err: err})
	}

	s.logger.Info("cleanup finished",
		"cleanup", kind,
		"steps", len(rep.Steps),
		"failed", len(rep.Failed()),
	)
	return rep
}

// runStep turns a panicking step into a failed one so later steps still run.
func runStep(ctx context.Context, st Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.Run(ctx)
}
