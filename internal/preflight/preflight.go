// Package preflight probes a presentation URL over plain HTTP before any
// browser budget is spent. A hard HTTP failure fails the session fast; a
// thin SPA shell is the expected shape for script-rendered players and
// simply confirms the browser path is needed.
package preflight

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Disposition classifies the probe result.
type Disposition string

const (
	// DispositionRenderable means the page already carries substantial
	// text without scripts. Unusual for slide players, but fine.
	DispositionRenderable Disposition = "renderable"

	// DispositionShell means the response is an SPA shell: reachable,
	// needs a browser. The normal case.
	DispositionShell Disposition = "shell"

	// DispositionUnreachable means the target answered with a hard error
	// and launching a browser would be wasted budget.
	DispositionUnreachable Disposition = "unreachable"
)

// Result is the outcome of one probe.
type Result struct {
	Disposition Disposition
	StatusCode  int
	TextLen     int
}

// Probe performs HTTP GETs against capture targets.
type Probe struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(p *Probe) { p.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(p *Probe) { p.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// New creates a Probe with sensible defaults.
func New(opts ...Option) *Probe {
	p := &Probe{
		client: &http.Client{Timeout: 20 * time.Second},
		ua:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Check GETs the target and classifies the response.
func (p *Probe) Check(ctx context.Context, target string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("preflight: new request: %w", err)
	}
	req.Header.Set("User-Agent", p.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preflight: do: %w", err)
	}
	defer resp.Body.Close()

	// Cap the read; slide players ship shells well under this.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("preflight: read body: %w", err)
	}

	res := Classify(resp.StatusCode, body)
	p.logger.Debug("preflight: probed",
		"target", target, "status", res.StatusCode,
		"disposition", res.Disposition, "text_len", res.TextLen)
	return res, nil
}

// Classify decides the disposition from status code and body.
func Classify(status int, body []byte) *Result {
	res := &Result{StatusCode: status}

	if status >= 400 {
		res.Disposition = DispositionUnreachable
		return res
	}

	text := visibleText(body)
	res.TextLen = len(text)
	if res.TextLen >= 200 {
		res.Disposition = DispositionRenderable
	} else {
		res.Disposition = DispositionShell
	}
	return res
}

// visibleText extracts text content outside script/style subtrees.
func visibleText(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
