package listen

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
)

// stallSlack is how far past the session deadline the loop waits for frames
// before concluding the microphone stream has stalled. The detector enforces
// the deadline frame by frame, so this only fires when frames stop arriving.
const stallSlack = 2 * time.Second

// ErrCaptureClosed is returned when the device capture channel closes before
// the session reached a terminal state.
var ErrCaptureClosed = errors.New("listen: capture stream closed")

// Run drains frames from the capture channel, rebuffers them to the
// detector's fixed frame size, and feeds the detector until it reaches a
// terminal state. The detector's deadline is frame-driven; Run adds only a
// wall-clock guard against a stalled stream.
//
// Context cancellation aborts the capture without a Result.
func Run(ctx context.Context, frames <-chan audio.Frame, reb *audio.Rebuffer, det *Detector) (*Result, error) {
	guard := time.NewTimer(det.remaining() + stallSlack)
	defer guard.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-guard.C:
			slog.Warn("microphone stream stalled, forcing capture stop",
				"elapsed", det.Elapsed(),
				"state", det.State())
			if r := det.ForceStop(); r != nil {
				return r, nil
			}
			return nil, ErrCaptureClosed

		case f, ok := <-frames:
			if !ok {
				if r := det.ForceStop(); r != nil {
					return r, nil
				}
				return nil, ErrCaptureClosed
			}
			for _, sub := range reb.Push(f) {
				r, err := det.Feed(sub)
				if err != nil {
					return nil, err
				}
				if r != nil {
					return r, nil
				}
			}
		}
	}
}

// remaining is the frame time left before the session deadline.
func (d *Detector) remaining() time.Duration {
	if left := d.cfg.MaxDuration - d.elapsed; left > 0 {
		return left
	}
	return 0
}
