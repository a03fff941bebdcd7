// Package deckfetch reconstructs remote, script-rendered slide
// presentations as paged PDF documents. It orchestrates Chrome as a
// disposable component: one capture session navigates the player, discovers
// the slide count, screenshots each slide under a wall-clock budget, and
// assembles the frames into a landscape document.
//
// deckfetch degrades rather than fails: an undetectable slide count falls
// back to a configured default, an unsettled slide is captured anyway, and
// a deadline or cancellation mid-run yields a partial document instead of
// nothing.
package deckfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/deckfetch/internal/assemble"
	"github.com/hazyhaar/deckfetch/internal/browser"
	"github.com/hazyhaar/deckfetch/internal/capture"
	"github.com/hazyhaar/deckfetch/internal/config"
	"github.com/hazyhaar/deckfetch/internal/preflight"
	"github.com/hazyhaar/deckfetch/internal/readiness"
	"github.com/hazyhaar/deckfetch/internal/slidecount"
)

// ErrTargetUnreachable means the preflight probe got a hard HTTP error and
// no browser session was started.
var ErrTargetUnreachable = errors.New("deckfetch: target unreachable")

// Re-exported session-fatal error kinds, so callers match one package.
var (
	ErrNavigationFailed = capture.ErrNavigationFailed
	ErrNoFrames         = capture.ErrNoFrames
	ErrAssembly         = assemble.ErrAssembly
)

// Request describes one download.
type Request struct {
	// URL locates the presentation.
	URL string

	// MaxSlides caps how many slides are captured, independent of the
	// deck's true length. Zero = configured default.
	MaxSlides int

	// Timeout is the whole-session wall-clock budget, assembly included.
	// Zero = configured default.
	Timeout time.Duration

	// OutPath is where the PDF is written.
	OutPath string
}

// Result is the structured outcome of one download. Partial capture under
// time pressure is reported as such, not collapsed into failure.
type Result struct {
	Status   capture.Status
	Partial  bool
	Slides   int
	Estimate slidecount.Estimate
	Path     string
	Elapsed  time.Duration
}

// Downloader owns the browser and runs capture sessions. Create one per
// process; sessions against distinct targets may run concurrently, each on
// its own surface.
type Downloader struct {
	cfg    *config.Config
	mgr    *browser.Manager
	loop   *capture.Loop
	asm    *assemble.Assembler
	probe  *preflight.Probe
	logger *slog.Logger
}

// New creates a Downloader from configuration. Call Start before Download.
func New(cfg *config.Config, logger *slog.Logger) *Downloader {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Headful:          cfg.Browser.Headful,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		UserAgent:        cfg.Browser.UserAgent,
		ViewportWidth:    cfg.Browser.ViewportWidth,
		ViewportHeight:   cfg.Browser.ViewportHeight,
		Logger:           logger,
	})

	oracle := readiness.New(readiness.Config{
		MinTextLength:  cfg.Readiness.MinTextLength,
		PollInterval:   cfg.Readiness.PollInterval,
		MaxWait:        cfg.Readiness.MaxWait,
		Strict:         cfg.Readiness.Strict,
		ContentMarkers: cfg.Readiness.ContentMarkers,
		Logger:         logger,
	})

	counter := slidecount.New(slidecount.Config{
		CounterSelectors: cfg.Count.CounterSelectors,
		NextSelector:     cfg.Count.NextSelector,
		UpperSanityBound: cfg.Count.UpperSanityBound,
		ProbeLimit:       cfg.Count.ProbeLimit,
		ProbeDelay:       cfg.Count.ProbeDelay,
		Fallback:         cfg.Count.Fallback,
		Budget:           cfg.Count.Budget,
		Logger:           logger,
	})

	loop := capture.New(capture.Config{
		NavigationTimeout: cfg.Capture.NavigationTimeout,
		SettleDelay:       cfg.Capture.SettleDelay,
		InterSlideDelay:   cfg.Capture.InterSlideDelay,
		AssembleReserve:   cfg.Capture.AssembleReserve,
		ReadinessAttempts: cfg.Capture.ReadinessAttempts,
		ReadinessBackoff:  cfg.Capture.ReadinessBackoff,
		MouseJitter:       cfg.Capture.MouseJitter,
		Logger:            logger,
	}, oracle, counter)

	return &Downloader{
		cfg:    cfg,
		mgr:    mgr,
		loop:   loop,
		asm:    assemble.New(logger),
		probe:  preflight.New(preflight.WithLogger(logger)),
		logger: logger,
	}
}

// Start launches the browser.
func (d *Downloader) Start(ctx context.Context) error {
	return d.mgr.Start(ctx)
}

// Close shuts the browser down.
func (d *Downloader) Close() error {
	return d.mgr.Close()
}

// Download runs one capture session end to end: preflight, surface acquire,
// capture loop, assembly. The surface is released on every exit path.
//
// Cancelling ctx stops the session cooperatively; frames captured before
// the cancellation are still assembled and reported with StatusAborted.
func (d *Downloader) Download(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	maxSlides := req.MaxSlides
	if maxSlides <= 0 || maxSlides > d.cfg.Capture.MaxSlides {
		maxSlides = d.cfg.Capture.MaxSlides
	}
	timeout := req.Timeout
	if timeout <= 0 || timeout > d.cfg.Capture.Timeout {
		timeout = d.cfg.Capture.Timeout
	}

	if d.cfg.Service.Preflight {
		res, err := d.probe.Check(ctx, req.URL)
		if err != nil {
			// Transport-level failures are inconclusive: some players
			// gate plain HTTP clients that Chrome sails through.
			d.logger.Warn("deckfetch: preflight inconclusive", "url", req.URL, "error", err)
		} else if res.Disposition == preflight.DispositionUnreachable {
			return nil, fmt.Errorf("%w: HTTP %d", ErrTargetUnreachable, res.StatusCode)
		}
	}

	surf, err := d.mgr.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("deckfetch: acquire surface: %w", err)
	}
	defer surf.Close()

	out, err := d.loop.Run(ctx, surf, req.URL, maxSlides, timeout)
	if err != nil {
		return nil, err
	}

	if out.Status == capture.StatusAborted && len(out.Frames) == 0 {
		// Cancelled before anything was captured: nothing to assemble.
		return &Result{Status: out.Status, Estimate: out.Estimate, Elapsed: time.Since(start)}, nil
	}

	// Assemble whatever was captured, aborted sessions included: frames
	// collected before a cancellation are preserved, not discarded.
	if err := d.asm.AssembleFile(out.FrameImages(), req.OutPath); err != nil {
		return nil, err
	}

	res := &Result{
		Status:   out.Status,
		Partial:  out.Partial,
		Slides:   len(out.Frames),
		Estimate: out.Estimate,
		Path:     req.OutPath,
		Elapsed:  time.Since(start),
	}
	d.logger.Info("deckfetch: download finished",
		"url", req.URL, "status", res.Status, "slides", res.Slides,
		"partial", res.Partial, "elapsed", res.Elapsed)
	return res, nil
}
