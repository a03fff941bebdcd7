// Package slidecount determines how many slides a presentation has before
// capture begins. Detection runs a cascade of independent strategies in
// confidence order; the first one that produces a sane number wins. The
// cascade is bounded by its own sub-budget so detection can never eat the
// wall-clock budget that capture needs.
//
// The counter never fails: when every strategy comes up empty it degrades to
// a configured fallback and says so via the estimate's confidence. Callers
// must not treat the fallback as a discovered fact.
package slidecount

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/ysmood/gson"
)

// Confidence ranks how an estimate was obtained.
type Confidence string

const (
	ConfidenceCounterText     Confidence = "counter-text"
	ConfidenceNavigationProbe Confidence = "navigation-probe"
	ConfidenceFallbackDefault Confidence = "fallback-default"
)

// Estimate is the cascade's single result. It is consumed once at capture
// start and never re-queried mid-run.
type Estimate struct {
	Count      int
	Confidence Confidence
	Strategy   string
}

// Surface is the subset of rendering-surface primitives detection needs.
type Surface interface {
	Eval(ctx context.Context, js string) (gson.JSON, error)
	SendKey(ctx context.Context, key input.Key) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Strategy is one detection method. Detect returns (count, true) on success.
// Strategies must swallow probe errors and report failure instead.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, surf Surface) (int, bool)
}

// Config tunes the cascade.
type Config struct {
	// CounterSelectors are CSS selectors for a "current / total" counter
	// element, tried in order. Defaults target the pitch.com player chrome.
	CounterSelectors []string

	// NextSelector locates the "next slide" control for the disabled check
	// during navigation probing.
	NextSelector string

	// UpperSanityBound rejects parsed totals above this value as false
	// positives from unrelated page numerals. Default: 50.
	UpperSanityBound int

	// ProbeLimit caps the number of advance steps during navigation
	// probing. Default: 10.
	ProbeLimit int

	// ProbeDelay is the settle wait after each probe advance. Default: 2s.
	ProbeDelay time.Duration

	// Fallback is the default count when every strategy fails. A policy
	// knob, not a discovered fact. Default: 9.
	Fallback int

	// Budget bounds the whole cascade, independent of the session
	// deadline. Default: 45s.
	Budget time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if len(c.CounterSelectors) == 0 {
		c.CounterSelectors = []string{
			".player-v2-chrome-controls-slide-count",
			`[class*="slide-count"]`,
			`[class*="counter"]`,
		}
	}
	if c.NextSelector == "" {
		c.NextSelector = `button[aria-label="Next"]`
	}
	if c.UpperSanityBound <= 0 {
		c.UpperSanityBound = 50
	}
	if c.ProbeLimit <= 0 {
		c.ProbeLimit = 10
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = 2 * time.Second
	}
	if c.Fallback <= 0 {
		c.Fallback = 9
	}
	if c.Budget <= 0 {
		c.Budget = 45 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Counter runs the detection cascade.
type Counter struct {
	cfg        Config
	strategies []Strategy
}

// New creates a Counter with the standard strategy order: counter text,
// text pattern, DOM density, navigation probe.
func New(cfg Config) *Counter {
	cfg.defaults()
	return &Counter{
		cfg: cfg,
		strategies: []Strategy{
			&counterTextStrategy{selectors: cfg.CounterSelectors, bound: cfg.UpperSanityBound, log: cfg.Logger},
			&textPatternStrategy{bound: cfg.UpperSanityBound, log: cfg.Logger},
			&domDensityStrategy{bound: cfg.UpperSanityBound, log: cfg.Logger},
			&navigationProbeStrategy{
				limit:        cfg.ProbeLimit,
				delay:        cfg.ProbeDelay,
				nextSelector: cfg.NextSelector,
				log:          cfg.Logger,
			},
		},
	}
}

// Estimate runs the cascade under its sub-budget and clamps the result to
// the caller's slide budget. It always returns a usable estimate.
func (c *Counter) Estimate(ctx context.Context, surf Surface, slideBudget int) Estimate {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()

	est := Estimate{
		Count:      c.cfg.Fallback,
		Confidence: ConfidenceFallbackDefault,
		Strategy:   "fallback",
	}

	for _, s := range c.strategies {
		if ctx.Err() != nil {
			c.cfg.Logger.Warn("slidecount: detection budget exhausted", "strategy", s.Name())
			break
		}
		n, ok := s.Detect(ctx, surf)
		if !ok {
			c.cfg.Logger.Debug("slidecount: strategy failed", "strategy", s.Name())
			continue
		}
		est = Estimate{Count: n, Confidence: confidenceFor(s.Name()), Strategy: s.Name()}
		break
	}

	if slideBudget > 0 && est.Count > slideBudget {
		c.cfg.Logger.Info("slidecount: clamping to slide budget",
			"detected", est.Count, "budget", slideBudget)
		est.Count = slideBudget
	}

	c.cfg.Logger.Info("slidecount: estimate",
		"count", est.Count, "confidence", est.Confidence, "strategy", est.Strategy)
	return est
}

func confidenceFor(name string) Confidence {
	switch name {
	case "navigation-probe":
		return ConfidenceNavigationProbe
	case "fallback":
		return ConfidenceFallbackDefault
	default:
		return ConfidenceCounterText
	}
}

// counterTextStrategy reads a dedicated "3 / 9" counter element. Highest
// confidence: the player itself reports the total.
type counterTextStrategy struct {
	selectors []string
	bound     int
	log       *slog.Logger
}

func (s *counterTextStrategy) Name() string { return "counter-text" }

func (s *counterTextStrategy) Detect(ctx context.Context, surf Surface) (int, bool) {
	for _, sel := range s.selectors {
		js := fmt.Sprintf(`() => {
			const el = document.querySelector(%q);
			return el ? el.textContent.trim() : "";
		}`, sel)
		res, err := surf.Eval(ctx, js)
		if err != nil {
			s.log.Debug("slidecount: counter eval failed", "selector", sel, "error", err)
			continue
		}
		if total, ok := parseCounterText(res.Str(), s.bound); ok {
			return total, true
		}
	}
	return 0, false
}

// parseCounterText extracts the total from "cur / total" counter text.
func parseCounterText(text string, bound int) (int, bool) {
	parts := strings.SplitN(text, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	cur, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	total, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, false
	}
	if cur < 1 || total < cur || total > bound {
		return 0, false
	}
	return total, true
}

var slidePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)slide\s+(\d+)\s+of\s+(\d+)`),
	regexp.MustCompile(`(\d+)\s*/\s*(\d+)`),
	regexp.MustCompile(`(?i)(\d+)\s+of\s+(\d+)`),
}

// textPatternStrategy scans all visible text for slide-counter shapes.
type textPatternStrategy struct {
	bound int
	log   *slog.Logger
}

func (s *textPatternStrategy) Name() string { return "text-pattern" }

func (s *textPatternStrategy) Detect(ctx context.Context, surf Surface) (int, bool) {
	res, err := surf.Eval(ctx, `() => document.body ? document.body.innerText : ""`)
	if err != nil {
		s.log.Debug("slidecount: body text eval failed", "error", err)
		return 0, false
	}
	return scanTextPatterns(res.Str(), s.bound)
}

// scanTextPatterns finds the first "N / M"-shaped match that passes the
// sanity bound. The bound rejects dates, scores and other page numerals.
func scanTextPatterns(text string, bound int) (int, bool) {
	for _, re := range slidePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			cur, err1 := strconv.Atoi(m[1])
			total, err2 := strconv.Atoi(m[2])
			if err1 != nil || err2 != nil {
				continue
			}
			if cur >= 1 && cur <= total && total <= bound {
				return total, true
			}
		}
	}
	return 0, false
}

// domDensityStrategy counts slide-like elements per predicate family and
// takes the maximum.
type domDensityStrategy struct {
	bound int
	log   *slog.Logger
}

func (s *domDensityStrategy) Name() string { return "dom-density" }

const densityJS = `() => {
	const families = [
		'[class*="slide-thumbnail"], [class*="thumbnail"]',
		'[class*="dot"], [class*="indicator"]',
		'[class*="pagination"] > *',
	];
	let max = 0;
	for (const sel of families) {
		try {
			max = Math.max(max, document.querySelectorAll(sel).length);
		} catch (e) {}
	}
	return max;
}`

func (s *domDensityStrategy) Detect(ctx context.Context, surf Surface) (int, bool) {
	res, err := surf.Eval(ctx, densityJS)
	if err != nil {
		s.log.Debug("slidecount: density eval failed", "error", err)
		return 0, false
	}
	n := res.Int()
	if n < 2 || n > s.bound {
		return 0, false
	}
	return n, true
}

// navigationProbeStrategy walks forward from the first slide until the next
// control reports disabled or the rendered pixels stop changing. Byte
// comparison of successive screenshots is the last-resort no-movement
// signal for players without a disabled state.
type navigationProbeStrategy struct {
	limit        int
	delay        time.Duration
	nextSelector string
	log          *slog.Logger
}

func (s *navigationProbeStrategy) Name() string { return "navigation-probe" }

func (s *navigationProbeStrategy) Detect(ctx context.Context, surf Surface) (int, bool) {
	// Start from the first slide.
	if err := surf.SendKey(ctx, input.Home); err != nil {
		return 0, false
	}
	if !sleep(ctx, s.delay) {
		return 0, false
	}

	prev, err := surf.Screenshot(ctx)
	if err != nil {
		s.log.Debug("slidecount: probe screenshot failed", "error", err)
		prev = nil
	}

	count := 1
	for step := 0; step < s.limit; step++ {
		if ctx.Err() != nil {
			break
		}

		// A disabled next control means the current slide is already the
		// last one; advancing past it would count a no-op step.
		if disabled, err := s.nextDisabled(ctx, surf); err == nil && disabled {
			s.resetHome(ctx, surf)
			return count, true
		}

		if err := surf.SendKey(ctx, input.ArrowRight); err != nil {
			break
		}
		if !sleep(ctx, s.delay) {
			break
		}

		cur, err := surf.Screenshot(ctx)
		if err == nil && prev != nil && bytes.Equal(prev, cur) {
			// No movement: the advance did nothing, we were already on
			// the last slide.
			s.resetHome(ctx, surf)
			return count, true
		}
		if err == nil {
			prev = cur
		}
		count++
	}

	s.resetHome(ctx, surf)
	if count <= 1 {
		return 0, false
	}
	return count, true
}

func (s *navigationProbeStrategy) nextDisabled(ctx context.Context, surf Surface) (bool, error) {
	js := fmt.Sprintf(`() => {
		const btn = document.querySelector(%q);
		return btn ? btn.disabled : false;
	}`, s.nextSelector)
	res, err := surf.Eval(ctx, js)
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

// resetHome returns the surface to slide one so capture starts clean.
func (s *navigationProbeStrategy) resetHome(ctx context.Context, surf Surface) {
	if err := surf.SendKey(ctx, input.Home); err != nil {
		s.log.Debug("slidecount: reset home failed", "error", err)
		return
	}
	sleep(ctx, s.delay)
}

// sleep waits d or until ctx is done; reports false when interrupted.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
