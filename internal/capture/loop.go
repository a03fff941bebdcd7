// Package capture implements the capture-orchestration state machine: it
// drives an opaque, asynchronously rendering presentation player through an
// unknown number of slides under a wall-clock budget, with no reliable
// signal of success.
//
// One Run is one session: navigate, count once, then capture slide by slide
// with bounded readiness polling, a deadline checked at every iteration
// boundary, and graceful degradation to partial results. The surface is a
// single shared mutable resource, so everything is strictly sequential.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/hazyhaar/deckfetch/internal/readiness"
	"github.com/hazyhaar/deckfetch/internal/slidecount"
)

// Config tunes one capture loop. Zero values get defaults.
type Config struct {
	// NavigationTimeout bounds the initial navigation, independent of the
	// session deadline. Default: 30s.
	NavigationTimeout time.Duration

	// SettleDelay follows the home reset before the first capture.
	// Default: 3s.
	SettleDelay time.Duration

	// InterSlideDelay follows each advance input. Default: 2s.
	InterSlideDelay time.Duration

	// AssembleReserve is the trailing wall-clock slice kept free for
	// document assembly. Capture stops early once the deadline minus
	// this reserve is reached. Default: 30s.
	AssembleReserve time.Duration

	// ReadinessAttempts caps readiness polls per slide, with backoff
	// between attempts. Default: 2.
	ReadinessAttempts int

	// ReadinessBackoff separates repeated readiness attempts.
	// Default: 1s.
	ReadinessBackoff time.Duration

	// MouseJitter issues a small randomized mouse move before each
	// capture. Cosmetic policy knob, off by default.
	MouseJitter bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.InterSlideDelay <= 0 {
		c.InterSlideDelay = 2 * time.Second
	}
	if c.AssembleReserve <= 0 {
		c.AssembleReserve = 30 * time.Second
	}
	if c.ReadinessAttempts <= 0 {
		c.ReadinessAttempts = 2
	}
	if c.ReadinessBackoff <= 0 {
		c.ReadinessBackoff = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Loop sequences navigation, counting, readiness waiting, capture and
// advancement for one session at a time.
type Loop struct {
	cfg     Config
	oracle  *readiness.Oracle
	counter *slidecount.Counter
}

// New creates a Loop around the given oracle and counter.
func New(cfg Config, oracle *readiness.Oracle, counter *slidecount.Counter) *Loop {
	cfg.defaults()
	return &Loop{cfg: cfg, oracle: oracle, counter: counter}
}

// Run executes one capture session against surf. slideBudget caps the
// number of slides ever captured; deadline is the whole-session wall-clock
// budget measured from the moment Run starts.
//
// Cancellation of ctx is cooperative: it is observed at iteration
// boundaries and before every navigation, never mid-primitive. On
// cancellation the frames collected so far come back with StatusAborted
// and a nil error.
func (l *Loop) Run(ctx context.Context, surf Surface, target string, slideBudget int, deadline time.Duration) (*Outcome, error) {
	s := &session{
		deadline: deadline,
		started:  time.Now(),
		state:    StatePending,
	}
	log := l.cfg.Logger

	// Init -> Navigated. Terminal on failure: without a loaded surface
	// nothing else is possible.
	s.transition(StateNavigating, log)
	if err := l.navigate(ctx, surf, target); err != nil {
		s.transition(StateFailed, log)
		log.Error("capture: navigation failed", "target", target, "error", err)
		return l.outcome(s, StatusFailed), fmt.Errorf("%w: %v", ErrNavigationFailed, err)
	}

	if ctx.Err() != nil {
		return l.abort(s), nil
	}

	// Navigated -> Counted. Never fails; degrades to the fallback.
	s.transition(StateCounting, log)
	s.estimate = l.counter.Estimate(ctx, surf, slideBudget)

	if ctx.Err() != nil {
		return l.abort(s), nil
	}

	// Counted -> Capturing(1): focus the player, reset to the first
	// slide and settle.
	s.transition(StateCapturing, log)
	l.focus(ctx, surf)
	if err := surf.SendKey(ctx, input.Home); err != nil {
		log.Warn("capture: home reset failed", "error", err)
	}
	sleep(ctx, l.cfg.SettleDelay)

	for i := 1; i <= s.estimate.Count; i++ {
		// Cancellation and deadline are both checked at the top of every
		// iteration, before any new surface interaction.
		if ctx.Err() != nil {
			log.Info("capture: cancellation observed", "captured", len(s.frames))
			return l.abort(s), nil
		}
		if s.remaining(l.cfg.AssembleReserve) <= 0 {
			log.Warn("capture: deadline approaching, stopping early",
				"slide", i, "captured", len(s.frames), "elapsed", s.elapsed())
			s.transition(StateAssembling, log)
			return l.finalize(s, true)
		}

		l.captureSlide(ctx, surf, s, i)

		// Advance once, except after the last slide. The estimate is
		// fixed: capture never walks past it.
		if i < s.estimate.Count {
			if ctx.Err() != nil {
				return l.abort(s), nil
			}
			if err := surf.SendKey(ctx, input.ArrowRight); err != nil {
				log.Warn("capture: advance failed", "slide", i, "error", err)
			}
			sleep(ctx, l.cfg.InterSlideDelay)
		}
	}

	s.transition(StateAssembling, log)
	return l.finalize(s, false)
}

func (l *Loop) navigate(ctx context.Context, surf Surface, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, l.cfg.NavigationTimeout)
	defer cancel()

	if err := surf.Navigate(navCtx, target); err != nil {
		return err
	}
	// A load-event timeout is tolerable; script-rendered players often
	// never settle. Fall back to waiting for rendered body content, and
	// past that the readiness oracle takes over.
	if err := surf.WaitLoad(navCtx); err != nil {
		l.cfg.Logger.Warn("capture: load wait timed out", "target", target, "error", err)
		if err := surf.WaitFor(navCtx,
			`() => document.body && document.body.childElementCount > 0`,
			l.cfg.NavigationTimeout); err != nil {
			l.cfg.Logger.Warn("capture: render wait timed out", "target", target, "error", err)
		}
	}
	return nil
}

// focus clicks the viewport centre so key presses reach the player and
// not the surrounding page chrome. Some players ignore arrow keys until
// the deck has been interacted with.
func (l *Loop) focus(ctx context.Context, surf Surface) {
	res, err := surf.Eval(ctx, `() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return
	}
	w, h := res.Get("w").Num(), res.Get("h").Num()
	if w <= 0 || h <= 0 {
		return
	}
	if err := surf.Click(ctx, w/2, h/2); err != nil {
		l.cfg.Logger.Debug("capture: focus click failed", "error", err)
	}
}

// captureSlide waits for readiness with bounded attempts, then captures
// regardless of the final verdict. A failed capture drops the frame and
// moves on; one bad slide does not abort the run.
func (l *Loop) captureSlide(ctx context.Context, surf Surface, s *session, index int) {
	log := l.cfg.Logger

	verdict := readiness.Verdict{Ready: false, Reason: readiness.ReasonTimeout}
	for attempt := 1; attempt <= l.cfg.ReadinessAttempts; attempt++ {
		verdict = l.oracle.Wait(ctx, surf)
		if verdict.Ready || ctx.Err() != nil {
			break
		}
		log.Debug("capture: slide not ready, retrying",
			"slide", index, "attempt", attempt, "reason", verdict.Reason)
		if attempt < l.cfg.ReadinessAttempts {
			sleep(ctx, time.Duration(attempt)*l.cfg.ReadinessBackoff)
		}
	}
	if !verdict.Ready {
		log.Warn("capture: capturing unsettled slide", "slide", index, "reason", verdict.Reason)
	}

	if l.cfg.MouseJitter {
		x := 100 + rand.Float64()*700
		y := 100 + rand.Float64()*500
		if err := surf.MouseMove(ctx, x, y); err != nil {
			log.Debug("capture: mouse jitter failed", "error", err)
		}
	}

	png, err := surf.Screenshot(ctx)
	if err != nil {
		log.Error("capture: screenshot failed, frame dropped", "slide", index, "error", err)
		return
	}

	s.frames = append(s.frames, Frame{Index: index, PNG: png})
	log.Info("capture: frame captured",
		"slide", index, "bytes", len(png), "ready", verdict.Ready, "reason", verdict.Reason)
}

func (l *Loop) finalize(s *session, partial bool) (*Outcome, error) {
	if len(s.frames) == 0 {
		s.transition(StateFailed, l.cfg.Logger)
		return l.outcome(s, StatusFailed), ErrNoFrames
	}
	s.transition(StateDone, l.cfg.Logger)
	out := l.outcome(s, StatusDone)
	out.Partial = partial
	l.cfg.Logger.Info("capture: session finished",
		"frames", len(s.frames), "partial", partial, "elapsed", s.elapsed())
	return out, nil
}

func (l *Loop) abort(s *session) *Outcome {
	s.transition(StateAborted, l.cfg.Logger)
	return l.outcome(s, StatusAborted)
}

func (l *Loop) outcome(s *session, status Status) *Outcome {
	return &Outcome{
		Status:   status,
		Frames:   s.frames,
		Estimate: s.estimate,
		Elapsed:  s.elapsed(),
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
