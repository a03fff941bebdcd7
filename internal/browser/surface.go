package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// Surface is one stealth Chrome page wrapped as the rendering surface a
// capture session drives. It holds a single current-page position, so all
// interaction must stay sequential; one Surface belongs to exactly one
// session from acquire to Close.
type Surface struct {
	page *rod.Page
	mgr  *Manager
}

// Acquire opens a new stealth page with the configured viewport and user
// agent. The caller owns the Surface and must Close it on every exit path.
func (m *Manager) Acquire(ctx context.Context) (*Surface, error) {
	m.mu.Lock()
	b := m.browser
	if m.closed || b == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser: manager not started")
	}
	m.active++
	m.mu.Unlock()

	page, err := stealth.Page(b)
	if err != nil {
		m.release()
		return nil, fmt.Errorf("browser: create stealth page: %w", err)
	}

	if err := page.Context(ctx).SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: m.cfg.UserAgent,
	}); err != nil {
		page.Close()
		m.release()
		return nil, fmt.Errorf("browser: set user agent: %w", err)
	}

	if err := page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}); err != nil {
		page.Close()
		m.release()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	return &Surface{page: page, mgr: m}, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	if m.active > 0 {
		m.active--
	}
	m.mu.Unlock()
}

// Navigate loads the target URL. The document-ready wait is separate
// (WaitLoad) because script-rendered players routinely hang the load event.
func (s *Surface) Navigate(ctx context.Context, rawURL string) error {
	if err := s.page.Context(ctx).Navigate(rawURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	return nil
}

// WaitLoad waits for the page load event.
func (s *Surface) WaitLoad(ctx context.Context) error {
	return s.page.Context(ctx).WaitLoad()
}

// Eval runs a script in the page and returns its value.
func (s *Surface) Eval(ctx context.Context, js string) (gson.JSON, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return gson.New(nil), fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value, nil
}

// WaitFor polls predicateJS until truthy or the timeout elapses.
func (s *Surface) WaitFor(ctx context.Context, predicateJS string, timeout time.Duration) error {
	return s.page.Context(ctx).Timeout(timeout).Wait(rod.Eval(predicateJS))
}

// SendKey presses one key against the page.
func (s *Surface) SendKey(ctx context.Context, key input.Key) error {
	return s.page.Context(ctx).Keyboard.Press(key)
}

// MouseMove moves the cursor to page coordinates.
func (s *Surface) MouseMove(ctx context.Context, x, y float64) error {
	return s.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y})
}

// Click moves to and clicks page coordinates.
func (s *Surface) Click(ctx context.Context, x, y float64) error {
	p := s.page.Context(ctx)
	if err := p.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return p.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Close releases the page and returns the manager slot. Safe to call once
// per Surface; always called, success or failure.
func (s *Surface) Close() error {
	defer s.mgr.release()
	if s.page == nil {
		return nil
	}
	err := s.page.Close()
	s.page = nil
	if err != nil && !strings.Contains(err.Error(), "context canceled") {
		return fmt.Errorf("browser: close page: %w", err)
	}
	return nil
}
