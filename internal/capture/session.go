package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/hazyhaar/deckfetch/internal/slidecount"
	"github.com/ysmood/gson"
)

// Surface is the remotely controlled rendering surface the loop drives.
// One Surface backs exactly one session; every interaction is strictly
// sequential because the surface holds a single current-page position.
type Surface interface {
	Navigate(ctx context.Context, rawURL string) error
	WaitLoad(ctx context.Context) error
	WaitFor(ctx context.Context, predicateJS string, timeout time.Duration) error
	Eval(ctx context.Context, js string) (gson.JSON, error)
	SendKey(ctx context.Context, key input.Key) error
	MouseMove(ctx context.Context, x, y float64) error
	Click(ctx context.Context, x, y float64) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// State tracks a session through its lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateNavigating State = "navigating"
	StateCounting   State = "counting"
	StateCapturing  State = "capturing"
	StateAssembling State = "assembling"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
)

// Status is the caller-visible outcome classification. Partial capture under
// time pressure is a first-class result, not a degraded error.
type Status string

const (
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// Frame is one captured slide image. Immutable once captured. Indices are
// 1-based and strictly ascending within a session.
type Frame struct {
	Index int
	PNG   []byte
}

// Outcome is what Run hands back. Frames are in presentation order.
type Outcome struct {
	Status   Status
	Frames   []Frame
	Estimate slidecount.Estimate
	Elapsed  time.Duration

	// Partial is set when the deadline forced early finalization before
	// the estimated count was reached.
	Partial bool
}

// FrameImages returns just the image bytes, in frame order.
func (o *Outcome) FrameImages() [][]byte {
	imgs := make([][]byte, len(o.Frames))
	for i, f := range o.Frames {
		imgs[i] = f.PNG
	}
	return imgs
}

// Session-fatal conditions. Everything else degrades in place.
var (
	// ErrNavigationFailed means the surface never loaded the target.
	// Nothing can be captured without a loaded surface.
	ErrNavigationFailed = errors.New("capture: navigation failed")

	// ErrNoFrames means the session finished without a single captured
	// frame. An empty document is not a useful result.
	ErrNoFrames = errors.New("capture: no frames captured")
)

// session is the per-run bookkeeping. Owned exclusively by one Run call and
// gone when it returns.
type session struct {
	deadline time.Duration
	started  time.Time
	state    State
	frames   []Frame
	estimate slidecount.Estimate
}

// transition moves the session to the next lifecycle state. Transitions
// are the safe points of the run; each one is logged for postmortems.
func (s *session) transition(st State, log *slog.Logger) {
	log.Debug("capture: state transition", "from", s.state, "to", st)
	s.state = st
}

func (s *session) elapsed() time.Duration {
	return time.Since(s.started)
}

// remaining reports the wall-clock slice still available for capture,
// after subtracting the slack reserved for assembly.
func (s *session) remaining(reserve time.Duration) time.Duration {
	return s.deadline - reserve - s.elapsed()
}
