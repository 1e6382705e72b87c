package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handle is the control-plane object for one automation run. It owns the
// browser resource exclusively, carries the lifecycle status, and exposes the
// flags the gate and the registry coordinate through.
//
// running is the stop-intent flag, deliberately separate from status: a stop
// request flips it synchronously on the caller's goroutine, before any
// teardown is spawned, so the in-flight worker observes it at its very next
// gate check. It is atomic so the cross-goroutine write is never buffered
// behind a lock queue.
type Handle struct {
	id    string // workflow-run identifier, the registry's sole lookup key
	botID string

	logger *zap.Logger

	running        atomic.Bool
	pauseRequested atomic.Bool
	verification   atomic.Bool

	mu       sync.Mutex // guards status and resource
	status   Status
	resource Resource

	gate *Gate
	pub  *Publisher

	// done is closed when the worker goroutine has exited, cleanup included.
	done chan struct{}

	startedAt time.Time
}

// Info is a point-in-time snapshot of a handle, safe to serialize.
type Info struct {
	ID                   string    `json:"id"`
	BotID                string    `json:"botId"`
	Status               Status    `json:"status"`
	Running              bool      `json:"isRunning"`
	VerificationRequired bool      `json:"verificationRequired"`
	StartedAt            time.Time `json:"startedAt"`
}

func newHandle(id string, hub *ActivityHub, pacing PacingConfig, markers ChallengeMarkers, logger *zap.Logger) *Handle {
	h := &Handle{
		id:        id,
		botID:     fmt.Sprintf("huntr_%s_%s", id, uuid.NewString()[:8]),
		logger:    logger.Named("session").With(zap.String("run_id", id)),
		status:    StatusIdle,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	h.pub = NewPublisher(hub, id)
	h.gate = newGate(h, pacing, markers, h.logger)
	return h
}

// ID returns the workflow-run identifier.
func (h *Handle) ID() string { return h.id }

// BotID returns the unique per-handle instance id.
func (h *Handle) BotID() string { return h.botID }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Running reports the stop-intent flag: true until a stop is requested or the
// run ends.
func (h *Handle) Running() bool { return h.running.Load() }

// PauseRequested reports the pause flag observed by the gate.
func (h *Handle) PauseRequested() bool { return h.pauseRequested.Load() }

// VerificationRequired reports whether the anti-automation watchdog fired.
func (h *Handle) VerificationRequired() bool { return h.verification.Load() }

// Resource returns the browser resource, or nil once released or revoked.
func (h *Handle) Resource() Resource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resource
}

// Gate returns the per-handle operation gate.
func (h *Handle) Gate() *Gate { return h.gate }

// Activity returns the handle's activity publisher.
func (h *Handle) Activity() *Publisher { return h.pub }

// Done is closed once the worker goroutine has fully exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Snapshot captures the handle's observable state.
func (h *Handle) Snapshot() Info {
	h.mu.Lock()
	status := h.status
	h.mu.Unlock()
	return Info{
		ID:                   h.id,
		BotID:                h.botID,
		Status:               status,
		Running:              h.running.Load(),
		VerificationRequired: h.verification.Load(),
		StartedAt:            h.startedAt,
	}
}

func (h *Handle) setResource(r Resource) {
	h.mu.Lock()
	h.resource = r
	h.mu.Unlock()
}

// transition moves the handle through the lifecycle table. Invalid moves are
// ignored (and logged), which keeps racing writers harmless: whichever
// terminal state lands first wins.
func (h *Handle) transition(to Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(to)
}

func (h *Handle) transitionLocked(to Status) bool {
	if h.status == to {
		return true
	}
	if !h.status.canTransition(to) {
		h.logger.Debug("Ignoring invalid status transition",
			zap.String("from", h.status.String()),
			zap.String("to", to.String()))
		return false
	}
	h.logger.Debug("Status transition",
		zap.String("from", h.status.String()),
		zap.String("to", to.String()))
	h.status = to
	return true
}

// markStarted flips the handle into its running state as the worker begins.
// Returns false when a stop raced ahead of the worker's first step, in which
// case the run must not proceed.
func (h *Handle) markStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.transitionLocked(StatusRunning) {
		return false
	}
	h.running.Store(true)
	return true
}

// requestStop is the synchronous half of a stop: flip the intent flag first,
// then the status. Runs on the controller's goroutine, never the worker's.
func (h *Handle) requestStop() {
	h.running.Store(false)
	h.transition(StatusStopping)
}

// requestPause asks the gate to hold before its next action.
func (h *Handle) requestPause() {
	h.pauseRequested.Store(true)
	h.transition(StatusPausing)
}

// requestResume clears the pause flag. The gate notices within one poll
// interval; if it never actually blocked, fix the status here.
func (h *Handle) requestResume() {
	h.pauseRequested.Store(false)
	h.transition(StatusRunning)
}

// markPaused is called by the gate once the worker is actually blocked.
func (h *Handle) markPaused() {
	h.transition(StatusPaused)
}

// markResumed is called by the gate when the pause loop exits normally.
func (h *Handle) markResumed() {
	h.transition(StatusRunning)
}

// markStopped finalizes a stop. No-op if another terminal state landed first.
func (h *Handle) markStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitionLocked(StatusStopping)
	h.transitionLocked(StatusStopped)
}

// markCompleted finalizes a run that finished its work naturally. If the
// lifecycle no longer permits completion (a pause or stop landed in between),
// fall through to the stopped terminal instead.
func (h *Handle) markCompleted() {
	h.running.Store(false)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transitionLocked(StatusCompleted) {
		return
	}
	h.transitionLocked(StatusStopping)
	h.transitionLocked(StatusStopped)
}

// markError records an unrecoverable worker failure.
func (h *Handle) markError() {
	h.running.Store(false)
	h.transition(StatusError)
}

// markVerificationRequired records a positive challenge detection and signals
// the handle to self-stop. Detection while already stopping is a no-op as far
// as the lifecycle is concerned; the flag is still recorded.
func (h *Handle) markVerificationRequired() {
	h.verification.Store(true)
	h.running.Store(false)
	h.transition(StatusStopping)
}

// markClosedByUser handles the manual-closure watchdog: the window is gone,
// so drop the reference (there is nothing left to release) and finalize.
func (h *Handle) markClosedByUser() {
	h.running.Store(false)
	h.mu.Lock()
	h.resource = nil
	h.transitionLocked(StatusStopping)
	h.transitionLocked(StatusStopped)
	h.mu.Unlock()
}

// releaseResource closes the browser resource exactly once. The take-and-nil
// swap under the lock is the exactly-once guarantee: whichever of the worker's
// deferred cleanup and a stop teardown arrives second sees nil and does
// nothing. A release that runs while the resource is still nil consumes
// nothing, so a browser acquired after a stop request is still closed by the
// worker's deferred cleanup.
func (h *Handle) releaseResource(ctx context.Context) {
	h.mu.Lock()
	r := h.resource
	h.resource = nil
	h.mu.Unlock()
	if r == nil {
		return
	}
	if err := r.Close(ctx); err != nil {
		h.logger.Debug("Error closing browser resource", zap.Error(err))
	}
}
