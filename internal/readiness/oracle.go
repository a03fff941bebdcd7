// Package readiness decides whether the currently displayed slide has
// rendered enough to be safely captured. It polls a single DOM probe on a
// bounded interval and applies ordered checks in Go, so the heuristics stay
// testable without a browser.
//
// The oracle never blocks past MaxWait and never returns an error: a failed
// probe degrades to a not-ready verdict. Capture proceeds on a negative
// verdict anyway — best-effort capture beats no capture, because the remote
// player may never emit a clean ready signal.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ysmood/gson"
)

// Reason explains a Verdict.
type Reason string

const (
	ReasonSettled          Reason = "settled"
	ReasonLoadingIndicator Reason = "loading-indicator"
	ReasonTextTooShort     Reason = "text-too-short"
	ReasonImagesPending    Reason = "images-pending"
	ReasonNoContentMarker  Reason = "no-content-marker"
	ReasonProbeError       Reason = "probe-error"
	ReasonTimeout          Reason = "timeout"
)

// Verdict is the oracle's answer for one slide. Short-lived, never persisted.
type Verdict struct {
	Ready  bool
	Reason Reason
}

// Prober evaluates a script against the rendering surface.
type Prober interface {
	Eval(ctx context.Context, js string) (gson.JSON, error)
}

// Config tunes the oracle. Zero values get defaults.
type Config struct {
	// MinTextLength is the minimum visible text length before a slide
	// counts as rendered. Short text is the single strongest
	// still-loading signal. Default: 50.
	MinTextLength int

	// PollInterval between probe evaluations. Default: 500ms.
	PollInterval time.Duration

	// MaxWait bounds one Wait call. Default: 15s.
	MaxWait time.Duration

	// Strict additionally requires one of ContentMarkers in the visible
	// text. Default: off.
	Strict bool

	// ContentMarkers are lowercase substrings that mark plausible slide
	// content in strict mode.
	ContentMarkers []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MinTextLength <= 0 {
		c.MinTextLength = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Oracle answers "is this slide safe to capture?".
type Oracle struct {
	cfg Config
}

// New creates an Oracle.
func New(cfg Config) *Oracle {
	cfg.defaults()
	return &Oracle{cfg: cfg}
}

// probeJS gathers the raw signals in one round trip. The decision logic
// lives in evaluate, not in the page.
const probeJS = `() => {
	const body = document.body;
	const text = body ? body.innerText : "";
	let pending = 0;
	for (const img of document.querySelectorAll("img")) {
		if (!img.complete || img.naturalWidth === 0) pending++;
	}
	const loading = document.querySelectorAll(
		'[class*="loading"], [class*="spinner"], [class*="skeleton"], [data-testid*="loading"]'
	).length;
	return {
		loading: loading,
		textLen: text.length,
		pendingImages: pending,
		text: text.slice(0, 2000),
	};
}`

// pageState is one probe sample.
type pageState struct {
	Loading       int
	TextLen       int
	PendingImages int
	Text          string
}

// Wait polls the surface until all checks pass or MaxWait elapses. It
// returns a negative verdict with ReasonTimeout when the window is
// exhausted; the caller is expected to capture regardless.
func (o *Oracle) Wait(ctx context.Context, p Prober) Verdict {
	deadline := time.Now().Add(o.cfg.MaxWait)
	last := Verdict{Ready: false, Reason: ReasonTimeout}

	for {
		if ctx.Err() != nil {
			return last
		}

		st, err := o.probe(ctx, p)
		if err != nil {
			last = Verdict{Ready: false, Reason: ReasonProbeError}
			o.cfg.Logger.Debug("readiness: probe failed", "error", err)
		} else {
			last = o.evaluate(st)
			if last.Ready {
				return last
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Verdict{Ready: false, Reason: ReasonTimeout}
		}

		wait := o.cfg.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(wait):
		}
	}
}

// Check runs the probe once without polling.
func (o *Oracle) Check(ctx context.Context, p Prober) Verdict {
	st, err := o.probe(ctx, p)
	if err != nil {
		return Verdict{Ready: false, Reason: ReasonProbeError}
	}
	return o.evaluate(st)
}

func (o *Oracle) probe(ctx context.Context, p Prober) (pageState, error) {
	res, err := p.Eval(ctx, probeJS)
	if err != nil {
		return pageState{}, fmt.Errorf("readiness: eval: %w", err)
	}
	return pageState{
		Loading:       res.Get("loading").Int(),
		TextLen:       res.Get("textLen").Int(),
		PendingImages: res.Get("pendingImages").Int(),
		Text:          res.Get("text").Str(),
	}, nil
}

// evaluate applies the ordered checks. The first failing check
// short-circuits with its reason.
func (o *Oracle) evaluate(st pageState) Verdict {
	if st.Loading > 0 {
		return Verdict{Ready: false, Reason: ReasonLoadingIndicator}
	}
	if st.TextLen < o.cfg.MinTextLength {
		return Verdict{Ready: false, Reason: ReasonTextTooShort}
	}
	if st.PendingImages > 0 {
		return Verdict{Ready: false, Reason: ReasonImagesPending}
	}
	if o.cfg.Strict && len(o.cfg.ContentMarkers) > 0 {
		lower := strings.ToLower(st.Text)
		found := false
		for _, m := range o.cfg.ContentMarkers {
			if strings.Contains(lower, m) {
				found = true
				break
			}
		}
		if !found {
			return Verdict{Ready: false, Reason: ReasonNoContentMarker}
		}
	}
	return Verdict{Ready: true, Reason: ReasonSettled}
}
