package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/hazyhaar/deckfetch/internal/readiness"
	"github.com/hazyhaar/deckfetch/internal/slidecount"
	"github.com/ysmood/gson"
)

// scriptedSurface simulates a slide player for loop tests.
type scriptedSurface struct {
	counterText string
	navErr      error
	shotErr     map[int]error // keyed by screenshot call number, 1-based
	shotDelay   time.Duration

	// cancelAfter cancels the run context after that many successful
	// screenshots, to exercise cooperative cancellation.
	cancelAfter int
	cancel      context.CancelFunc
	cancelled   bool

	slide           int
	shots           int
	clicks          int
	keys            []input.Key
	keysAfterCancel int
	navsAfterCancel int
}

func (s *scriptedSurface) Navigate(ctx context.Context, rawURL string) error {
	if s.cancelled {
		s.navsAfterCancel++
	}
	return s.navErr
}

func (s *scriptedSurface) WaitLoad(ctx context.Context) error { return nil }

func (s *scriptedSurface) WaitFor(ctx context.Context, predicateJS string, timeout time.Duration) error {
	return nil
}

func (s *scriptedSurface) Eval(ctx context.Context, js string) (gson.JSON, error) {
	switch {
	case strings.Contains(js, "innerWidth"):
		return gson.New(map[string]interface{}{"w": 1920, "h": 1080}), nil
	case strings.Contains(js, "pendingImages"):
		return gson.New(map[string]interface{}{
			"loading": 0, "textLen": 500, "pendingImages": 0, "text": "deck content",
		}), nil
	case strings.Contains(js, "textContent"):
		return gson.New(s.counterText), nil
	case strings.Contains(js, "innerText"):
		return gson.New(""), nil
	case strings.Contains(js, "families"):
		return gson.New(0), nil
	case strings.Contains(js, "disabled"):
		return gson.New(false), nil
	}
	return gson.New(nil), fmt.Errorf("unexpected script: %s", js)
}

func (s *scriptedSurface) SendKey(ctx context.Context, key input.Key) error {
	if s.cancelled {
		s.keysAfterCancel++
	}
	s.keys = append(s.keys, key)
	switch key {
	case input.Home:
		s.slide = 1
	case input.ArrowRight:
		s.slide++
	}
	return nil
}

func (s *scriptedSurface) MouseMove(ctx context.Context, x, y float64) error { return nil }

func (s *scriptedSurface) Click(ctx context.Context, x, y float64) error {
	s.clicks++
	return nil
}

func (s *scriptedSurface) Screenshot(ctx context.Context) ([]byte, error) {
	if s.shotDelay > 0 {
		time.Sleep(s.shotDelay)
	}
	s.shots++
	if err, ok := s.shotErr[s.shots]; ok {
		return nil, err
	}
	shot := []byte(fmt.Sprintf("frame-%d", s.slide))
	if s.cancelAfter > 0 && s.shots == s.cancelAfter {
		s.cancelled = true
		s.cancel()
	}
	return shot, nil
}

func testLoop() *Loop {
	cfg := Config{
		NavigationTimeout: time.Second,
		SettleDelay:       time.Millisecond,
		InterSlideDelay:   time.Millisecond,
		AssembleReserve:   time.Millisecond,
		ReadinessAttempts: 2,
		ReadinessBackoff:  time.Millisecond,
	}
	oracle := readiness.New(readiness.Config{
		PollInterval: time.Millisecond,
		MaxWait:      10 * time.Millisecond,
	})
	counter := slidecount.New(slidecount.Config{
		ProbeDelay: time.Millisecond,
		Fallback:   9,
	})
	return New(cfg, oracle, counter)
}

func assertAscending(t *testing.T, frames []Frame) {
	t.Helper()
	for i := 1; i < len(frames); i++ {
		if frames[i].Index <= frames[i-1].Index {
			t.Fatalf("frames not strictly ascending at %d: %d then %d",
				i, frames[i-1].Index, frames[i].Index)
		}
	}
}

func TestRun_FullCapture(t *testing.T) {
	surf := &scriptedSurface{counterText: "1 / 9"}
	out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", 15, time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusDone {
		t.Errorf("status = %s, want done", out.Status)
	}
	if len(out.Frames) != 9 {
		t.Errorf("frames = %d, want 9", len(out.Frames))
	}
	if out.Partial {
		t.Error("full capture must not be partial")
	}
	assertAscending(t, out.Frames)
	if out.Frames[0].Index != 1 || out.Frames[8].Index != 9 {
		t.Errorf("frame index range = %d..%d, want 1..9",
			out.Frames[0].Index, out.Frames[8].Index)
	}
	if surf.clicks != 1 {
		t.Errorf("focus clicks = %d, want 1", surf.clicks)
	}
}

func TestRun_BudgetCapsCapture(t *testing.T) {
	// 20 detected slides, but a budget of 15: capture stops at 15.
	surf := &scriptedSurface{counterText: "1 / 20"}
	out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", 15, time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusDone {
		t.Errorf("status = %s, want done", out.Status)
	}
	if len(out.Frames) != 15 {
		t.Errorf("frames = %d, want 15", len(out.Frames))
	}
	if out.Frames[len(out.Frames)-1].Index != 15 {
		t.Errorf("last index = %d, want 15", out.Frames[len(out.Frames)-1].Index)
	}
}

func TestRun_NavigationFailure(t *testing.T) {
	surf := &scriptedSurface{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", 15, time.Minute)
	if !errors.Is(err, ErrNavigationFailed) {
		t.Fatalf("err = %v, want ErrNavigationFailed", err)
	}
	if out.Status != StatusFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}
	if len(out.Frames) != 0 {
		t.Errorf("frames = %d, want 0", len(out.Frames))
	}
}

func TestRun_CancellationPreservesFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	surf := &scriptedSurface{counterText: "1 / 9", cancelAfter: 2, cancel: cancel}

	out, err := testLoop().Run(ctx, surf, "https://pitch.com/v/demo", 15, time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusAborted {
		t.Errorf("status = %s, want aborted", out.Status)
	}
	if len(out.Frames) != 2 {
		t.Errorf("frames = %d, want exactly 2", len(out.Frames))
	}
	if surf.keysAfterCancel != 0 || surf.navsAfterCancel != 0 {
		t.Errorf("surface driven after cancellation: %d keys, %d navs",
			surf.keysAfterCancel, surf.navsAfterCancel)
	}
}

func TestRun_DeadlineFinalizesPartial(t *testing.T) {
	// Each screenshot burns ~40ms against a 120ms deadline: the run must
	// stop early with whatever frames exist, and not report failure.
	surf := &scriptedSurface{counterText: "1 / 9", shotDelay: 40 * time.Millisecond}
	out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", 15, 120*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status == StatusFailed {
		t.Fatal("deadline expiry must not report failure")
	}
	if !out.Partial {
		t.Error("expected partial outcome")
	}
	if len(out.Frames) == 0 || len(out.Frames) >= 9 {
		t.Errorf("frames = %d, want a proper prefix of 9", len(out.Frames))
	}
	assertAscending(t, out.Frames)
}

func TestRun_BadSlideIsSkipped(t *testing.T) {
	surf := &scriptedSurface{
		counterText: "1 / 5",
		shotErr:     map[int]error{3: errors.New("capture glitched")},
	}
	out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", 15, time.Minute)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusDone {
		t.Errorf("status = %s, want done", out.Status)
	}
	if len(out.Frames) != 4 {
		t.Errorf("frames = %d, want 4 (one dropped)", len(out.Frames))
	}
	assertAscending(t, out.Frames)
	for _, f := range out.Frames {
		if f.Index == 3 {
			t.Error("dropped slide 3 still present")
		}
	}
}

func TestRun_NoFramesIsFailure(t *testing.T) {
	shotErrs := make(map[int]error)
	for i := 1; i <= 20; i++ {
		shotErrs[i] = errors.New("black screen")
	}
	surf := &scriptedSurface{counterText: "1 / 3", shotErr: shotErrs}

	out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", 15, time.Minute)
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("err = %v, want ErrNoFrames", err)
	}
	if out.Status != StatusFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}
}

func TestRun_FrameCountInvariant(t *testing.T) {
	// len(frames) <= min(slideBudget, estimatedCount) across shapes.
	cases := []struct {
		counter string
		budget  int
		max     int
	}{
		{"1 / 9", 15, 9},
		{"1 / 20", 15, 15},
		{"1 / 3", 2, 2},
	}
	for _, c := range cases {
		surf := &scriptedSurface{counterText: c.counter}
		out, err := testLoop().Run(context.Background(), surf, "https://pitch.com/v/demo", c.budget, time.Minute)
		if err != nil {
			t.Fatalf("Run(%q, budget %d): %v", c.counter, c.budget, err)
		}
		if len(out.Frames) > c.max {
			t.Errorf("counter %q budget %d: frames = %d, want <= %d",
				c.counter, c.budget, len(out.Frames), c.max)
		}
	}
}

func TestOutcome_FrameImages(t *testing.T) {
	out := &Outcome{Frames: []Frame{
		{Index: 1, PNG: []byte("a")},
		{Index: 2, PNG: []byte("b")},
	}}
	imgs := out.FrameImages()
	if len(imgs) != 2 || string(imgs[0]) != "a" || string(imgs[1]) != "b" {
		t.Errorf("FrameImages = %q", imgs)
	}
}
