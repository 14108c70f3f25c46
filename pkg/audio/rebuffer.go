package audio

import "time"

// Rebuffer re-slices an incoming stream of arbitrarily-sized frames into
// fixed-duration frames of a single target format. VAD models operate on exact
// frame sizes (e.g., 30 ms of 16 kHz mono), so capture frames must pass through
// a Rebuffer before classification — classifying mismatched frames is a defect,
// not a fallback.
//
// Not safe for concurrent use; create one per stream.
type Rebuffer struct {
	conv      Converter
	frameLen  int // bytes per emitted frame
	frameDur  time.Duration
	pending   []byte
	nextStamp time.Duration
	stamped   bool
}

// NewRebuffer creates a Rebuffer that emits frames of duration frameDur in the
// target format.
func NewRebuffer(target Format, frameDur time.Duration) *Rebuffer {
	return &Rebuffer{
		conv:     Converter{Target: target},
		frameLen: target.BytesPerFrame(frameDur),
		frameDur: frameDur,
	}
}

// FrameDuration returns the duration of each emitted frame.
func (r *Rebuffer) FrameDuration() time.Duration { return r.frameDur }

// Push converts frame to the target format, appends it to the internal buffer,
// and returns every complete fixed-size frame now available. Returns nil when
// not enough audio has accumulated yet. Emitted timestamps are derived from the
// first pushed frame and advance by exactly one frame duration per emission.
func (r *Rebuffer) Push(frame Frame) []Frame {
	converted := r.conv.Convert(frame)
	if len(converted.Data) == 0 {
		return nil
	}
	if !r.stamped {
		r.nextStamp = converted.Timestamp
		r.stamped = true
	}
	r.pending = append(r.pending, converted.Data...)

	var out []Frame
	for len(r.pending) >= r.frameLen {
		data := make([]byte, r.frameLen)
		copy(data, r.pending[:r.frameLen])
		r.pending = r.pending[r.frameLen:]
		out = append(out, Frame{
			Data:       data,
			SampleRate: r.conv.Target.SampleRate,
			Channels:   r.conv.Target.Channels,
			Timestamp:  r.nextStamp,
		})
		r.nextStamp += r.frameDur
	}
	return out
}

// Reset discards any buffered partial frame and timestamp state.
func (r *Rebuffer) Reset() {
	r.pending = nil
	r.stamped = false
	r.nextStamp = 0
}
