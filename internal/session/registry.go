package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the unit of work a session executes: the platform-specific hunt
// loop. It runs on the session's worker goroutine and must route every
// browser action through the session's gate.
type Task interface {
	Run(ctx context.Context, s *Session) error
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, s *Session) error

func (f TaskFunc) Run(ctx context.Context, s *Session) error { return f(ctx, s) }

// TaskFactory builds the task for a newly started session.
type TaskFactory func(params StartParams) (Task, error)

// ResourceProvider acquires the browser resource for a new session. The
// registry owns the returned resource via the handle and releases it exactly
// once on cleanup.
type ResourceProvider interface {
	Acquire(ctx context.Context, params StartParams) (Resource, error)
}

// StartParams carries the per-run inputs supplied by the control surface.
type StartParams struct {
	UserID     string            `json:"userId"`
	Platform   string            `json:"platform"`
	StarterURL string            `json:"starterUrl"`
	// Budget is the optional wall-clock limit for the whole run. On expiry
	// the registry requests the normal stop path; there is no hard kill.
	Budget   time.Duration     `json:"budget"`
	Criteria map[string]string `json:"criteria,omitempty"`
}

// Session is the runtime handed to a Task: gated browser actions plus
// activity publishing, nothing else. Tasks never touch the handle directly.
type Session struct {
	handle *Handle
}

// ID returns the workflow-run identifier.
func (s *Session) ID() string { return s.handle.ID() }

// Do submits one browser action through the session's gate.
func (s *Session) Do(ctx context.Context, name string, fn func(context.Context) error, opts ...DoOption) error {
	return s.handle.gate.Do(ctx, name, fn, opts...)
}

// Running reports whether the session should keep working. Tasks check this
// between non-browser steps (scoring calls, record writes) where no gate
// check would otherwise observe a stop.
func (s *Session) Running() bool { return s.handle.Running() }

// Resource returns the browser resource for read-style access that a task
// needs outside gated actions. May be nil once the session is shutting down.
func (s *Session) Resource() Resource { return s.handle.Resource() }

// Activity returns the session's activity publisher.
func (s *Session) Activity() *Publisher { return s.handle.Activity() }

// Options configures a Registry.
type Options struct {
	Pacing  PacingConfig
	Markers ChallengeMarkers
	// StopTimeout bounds how long a Stop call waits for teardown. Defaults
	// to 10 seconds.
	StopTimeout      time.Duration
	ActivityCapacity int
	// DefaultBudget is the wall-clock limit applied to runs whose params
	// carry none. Zero means unlimited.
	DefaultBudget time.Duration
}

// Registry owns one session handle per workflow run. It enforces at most one
// live handle per identifier and serializes start/stop races under a single
// mutex, held only for map work, never across a browser call.
type Registry struct {
	logger   *zap.Logger
	opts     Options
	provider ResourceProvider
	newTask  TaskFactory
	hub      *ActivityHub

	mu       sync.Mutex
	handles  map[string]*Handle
	stopping map[string]struct{}
}

// NewRegistry wires a registry with its resource provider and task factory.
func NewRegistry(logger *zap.Logger, provider ResourceProvider, factory TaskFactory, opts Options) *Registry {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Markers == (ChallengeMarkers{}) {
		opts.Markers = DefaultChallengeMarkers()
	}
	return &Registry{
		logger:   logger.Named("session_registry"),
		opts:     opts,
		provider: provider,
		newTask:  factory,
		hub:      NewActivityHub(opts.ActivityCapacity),
		handles:  make(map[string]*Handle),
		stopping: make(map[string]struct{}),
	}
}

// Hub exposes the activity subsystem for the observer polling surface.
func (r *Registry) Hub() *ActivityHub { return r.hub }

// Start creates a fresh handle for the id and launches its worker. Returns
// ErrAlreadyRunning when a live handle exists. A stale terminal handle is
// replaced; handles are never reused. Non-blocking: the worker acquires the
// browser and runs the task in the background.
func (r *Registry) Start(id string, params StartParams) error {
	r.mu.Lock()
	if existing, ok := r.handles[id]; ok {
		if existing.Status().Live() {
			r.mu.Unlock()
			return ErrAlreadyRunning
		}
		delete(r.handles, id)
	}
	h := newHandle(id, r.hub, r.opts.Pacing, r.opts.Markers, r.logger)
	r.handles[id] = h
	r.mu.Unlock()

	if params.Budget <= 0 {
		params.Budget = r.opts.DefaultBudget
	}

	// Begin buffering activity for this run right away, so messages emitted
	// before the first poller arrives are not lost.
	r.hub.Register(id)

	r.logger.Info("Session accepted",
		zap.String("run_id", id),
		zap.String("bot_id", h.BotID()),
		zap.String("platform", params.Platform))

	go r.run(h, params)
	return nil
}

// Stop requests a stop for the id and waits, bounded, for teardown. The
// intent flag and status are flipped synchronously on this goroutine before
// the teardown is spawned, so the worker observes the stop at its next gate
// check. A second concurrent Stop for the same id returns nil without
// spawning another teardown.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if _, inFlight := r.stopping[id]; inFlight {
		r.mu.Unlock()
		return nil
	}
	r.stopping[id] = struct{}{}
	r.mu.Unlock()

	h.requestStop()
	r.logger.Info("Stop requested", zap.String("run_id", id))

	done := make(chan struct{})
	go func() {
		r.teardown(h)
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(r.opts.StopTimeout):
		err = ErrStopTimeout
		r.logger.Warn("Teardown exceeded stop timeout; continuing in background",
			zap.String("run_id", id),
			zap.Duration("timeout", r.opts.StopTimeout))
	}

	// The map never retains this handle past this point, timeout or not. If
	// a new start already replaced it, the successor (and its activity
	// buffer) stays untouched.
	r.mu.Lock()
	removed := false
	if cur, ok := r.handles[id]; ok && cur == h {
		delete(r.handles, id)
		removed = true
	}
	delete(r.stopping, id)
	r.mu.Unlock()
	if removed {
		r.hub.Unregister(id)
	}

	r.logger.Info("Session removed", zap.String("run_id", id))
	return err
}

// teardown releases the browser resource, waits for the worker goroutine to
// observe the stop and exit, and finalizes the status. Runs off the stop
// caller's goroutine so slow cleanup never blocks the control surface beyond
// the bounded wait in Stop.
func (r *Registry) teardown(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StopTimeout)
	defer cancel()

	h.releaseResource(ctx)
	<-h.Done()
	h.markStopped()
	h.pub.Status("Session stopped.")
}

// Pause flips the pause flag; the gate observes it before its next action.
func (r *Registry) Pause(id string) error {
	h, err := r.lookup(id)
	if err != nil {
		return err
	}
	h.requestPause()
	h.pub.Status("Pause requested.")
	r.logger.Info("Pause requested", zap.String("run_id", id))
	return nil
}

// Resume clears the pause flag; a gate blocked in its pause loop notices
// within one poll interval.
func (r *Registry) Resume(id string) error {
	h, err := r.lookup(id)
	if err != nil {
		return err
	}
	h.requestResume()
	h.pub.Status("Resumed.")
	r.logger.Info("Resume requested", zap.String("run_id", id))
	return nil
}

// StatusOf returns a snapshot of the handle, or ErrNotFound.
func (r *Registry) StatusOf(id string) (Info, error) {
	h, err := r.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return h.Snapshot(), nil
}

// All returns snapshots of every tracked handle, ordered by id.
func (r *Registry) All() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.handles))
	for _, h := range r.handles {
		infos = append(infos, h.Snapshot())
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// StopAll stops every tracked session. Used on server shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Stop(id); err != nil && !errors.Is(err, ErrNotFound) {
				r.logger.Warn("Error stopping session during shutdown",
					zap.String("run_id", id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}

func (r *Registry) lookup(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

// run is the per-session worker goroutine: acquire the browser, execute the
// task through the gate, classify the outcome, and always clean up. This is
// the worker's top-level exception boundary; nothing escapes it.
func (r *Registry) run(h *Handle, params StartParams) {
	defer close(h.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Session worker panicked",
				zap.String("run_id", h.ID()),
				zap.Any("panic", rec))
			h.markError()
			h.pub.Status("Session failed unexpectedly.")
		}
		h.releaseResource(context.Background())
	}()

	if params.Budget > 0 {
		id := h.ID()
		timer := time.AfterFunc(params.Budget, func() {
			r.logger.Info("Session budget expired; requesting stop",
				zap.String("run_id", id),
				zap.Duration("budget", params.Budget))
			// Timeout and explicit stop share one teardown sequence.
			if err := r.Stop(id); err != nil && !errors.Is(err, ErrNotFound) {
				r.logger.Warn("Budget stop returned error", zap.String("run_id", id), zap.Error(err))
			}
		})
		defer timer.Stop()
	}

	if !h.markStarted() {
		// A stop raced ahead of us; never ran, nothing to clean beyond the
		// deferred release.
		h.markStopped()
		return
	}
	h.pub.Status("Session started.")

	ctx := context.Background()

	res, err := r.provider.Acquire(ctx, params)
	if err != nil {
		r.logger.Error("Failed to acquire browser resource",
			zap.String("run_id", h.ID()), zap.Error(err))
		h.markError()
		h.pub.Status("Failed to launch the browser. Session not started.")
		return
	}
	h.setResource(res)

	task, err := r.newTask(params)
	if err != nil {
		r.logger.Error("Failed to build session task",
			zap.String("run_id", h.ID()), zap.Error(err))
		h.markError()
		h.pub.Status("Failed to prepare the session task.")
		return
	}

	err = task.Run(ctx, &Session{handle: h})
	switch {
	case err == nil && h.Running():
		h.markCompleted()
		h.pub.Status("Session completed.")
		r.logger.Info("Session completed", zap.String("run_id", h.ID()))
	case err == nil,
		errors.Is(err, ErrActionUnavailable),
		errors.Is(err, ErrManualClosure),
		errors.Is(err, ErrChallengeDetected),
		!h.Running():
		// Expected shutdown: a stop, closure, or challenge already set the
		// handle's fate; just finalize.
		h.markStopped()
		r.logger.Info("Session stopped", zap.String("run_id", h.ID()))
	default:
		r.logger.Error("Session worker failed",
			zap.String("run_id", h.ID()), zap.Error(err))
		h.markError()
		h.pub.Status("Session hit an unrecoverable error and stopped.")
	}
}
