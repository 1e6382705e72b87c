package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PacingConfig shapes the randomized inter-action delay. Delays are drawn
// from a normal distribution, measured from the end of the previous action.
type PacingConfig struct {
	MeanDelay   time.Duration
	StdDevDelay time.Duration
	// Debug disables pacing entirely.
	Debug             bool
	PausePollInterval time.Duration
}

// stopPollSlice bounds how long the pacing sleep goes without re-checking the
// stop flag. Stop latency during pacing is at most one slice.
const stopPollSlice = 100 * time.Millisecond

// Gate is the mandatory checkpoint every browser action passes through. For
// each submitted action it checks liveness, applies pacing, blocks while
// paused, executes, and then runs the anti-automation watchdog. Pause and
// stop requests from other goroutines are observed here, which is what makes
// cancellation cooperative and sub-second.
type Gate struct {
	handle  *Handle
	pacing  PacingConfig
	markers ChallengeMarkers
	logger  *zap.Logger

	mu     sync.Mutex // guards lastOp and rng
	lastOp time.Time
	rng    *rand.Rand

	// One-shot notification guards. Repeat detections within a session must
	// not produce duplicate observer messages.
	challengeNotice Latch
	closureNotice   Latch
}

func newGate(h *Handle, pacing PacingConfig, markers ChallengeMarkers, logger *zap.Logger) *Gate {
	if pacing.PausePollInterval <= 0 {
		pacing.PausePollInterval = time.Second
	}
	return &Gate{
		handle:  h,
		pacing:  pacing,
		markers: markers,
		logger:  logger.Named("gate"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type doOptions struct {
	suppress bool
}

// DoOption adjusts how the gate treats a single action.
type DoOption func(*doOptions)

// Suppress makes the gate swallow this action's failure (including liveness
// refusals) and return nil instead. For best-effort actions whose failure
// should not end the workflow step.
func Suppress() DoOption {
	return func(o *doOptions) { o.suppress = true }
}

// Do submits one browser action through the gate. The gate never retries;
// transient failures surface to the caller, liveness failures terminate the
// step immediately. An action already past the liveness check when a stop
// arrives is allowed to complete.
func (g *Gate) Do(ctx context.Context, name string, fn func(context.Context) error, opts ...DoOption) error {
	var o doOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := g.checkLiveness(ctx); err != nil {
		return g.finish(o, err)
	}
	if err := g.pace(ctx); err != nil {
		return g.finish(o, err)
	}
	if err := g.awaitResume(ctx); err != nil {
		return g.finish(o, err)
	}

	err := fn(ctx)
	g.mu.Lock()
	g.lastOp = time.Now()
	g.mu.Unlock()

	if err != nil {
		if o.suppress {
			g.logger.Debug("Suppressed action error", zap.String("action", name), zap.Error(err))
			return nil
		}
		return fmt.Errorf("action %q: %w", name, err)
	}

	if g.challengeTripped(ctx) {
		return g.finish(o, ErrChallengeDetected)
	}
	return nil
}

func (g *Gate) finish(o doOptions, err error) error {
	if o.suppress {
		return nil
	}
	return err
}

// checkLiveness refuses the action when the session is stopping, already
// terminal, or the browser window is gone. The manual-closure probe runs here
// on every call, so a closed window is detected within one action interval.
func (g *Gate) checkLiveness(ctx context.Context) error {
	h := g.handle
	if !h.Running() {
		return ErrActionUnavailable
	}
	switch h.Status() {
	case StatusStopping, StatusStopped, StatusError:
		return ErrActionUnavailable
	}
	if resourceClosed(ctx, h.Resource()) {
		g.reportManualClosure()
		return ErrManualClosure
	}
	return nil
}

// reportManualClosure emits the one-time closure explanation and finalizes
// the handle. markClosedByUser is idempotent; only the message is latched.
func (g *Gate) reportManualClosure() {
	if g.closureNotice.Fire() {
		g.logger.Info("Browser window closed manually; stopping session")
		g.handle.pub.Status("Browser window was closed manually. Session stopped.")
	}
	g.handle.markClosedByUser()
}

// pace sleeps until the randomized minimum interval since the previous action
// has elapsed. The sleep is sliced so a stop request interrupts it promptly.
func (g *Gate) pace(ctx context.Context) error {
	if g.pacing.Debug || (g.pacing.MeanDelay <= 0 && g.pacing.StdDevDelay <= 0) {
		return nil
	}

	g.mu.Lock()
	interval := time.Duration(float64(g.pacing.MeanDelay) + g.rng.NormFloat64()*float64(g.pacing.StdDevDelay))
	last := g.lastOp
	g.mu.Unlock()

	if interval <= 0 || last.IsZero() {
		return nil
	}
	deadline := last.Add(interval)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if !g.handle.Running() || ctx.Err() != nil {
			return ErrActionUnavailable
		}
		slice := stopPollSlice
		if remaining < slice {
			slice = remaining
		}
		time.Sleep(slice)
	}
}

// awaitResume blocks the calling goroutine while the pause flag is set,
// polling roughly once per second. A stop request observed while paused exits
// the loop without executing the action.
func (g *Gate) awaitResume(ctx context.Context) error {
	blocked := false
	for g.handle.PauseRequested() {
		if !g.handle.Running() || ctx.Err() != nil {
			return ErrActionUnavailable
		}
		if !blocked {
			blocked = true
			g.handle.markPaused()
			g.logger.Debug("Operations paused; holding before next action")
		}
		time.Sleep(g.pacing.PausePollInterval)
	}
	if blocked {
		g.handle.markResumed()
		g.logger.Debug("Operations resumed")
	}
	return nil
}

// challengeTripped runs the anti-automation watchdog after a successful
// action. On the first positive it emits the explanation, marks the handle
// for verification, and signals it to self-stop; repeats are suppressed.
func (g *Gate) challengeTripped(ctx context.Context) bool {
	if !DetectChallenge(ctx, g.handle.Resource(), g.markers) {
		return false
	}
	if g.challengeNotice.Fire() {
		g.logger.Warn("Verification challenge detected; stopping session")
		g.handle.pub.Status("Detected a verification challenge. " +
			"Complete the verification in the browser and start the session again.")
		g.handle.markVerificationRequired()
	}
	return true
}
