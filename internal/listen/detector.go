// Package listen implements the capture side of a conversation: a
// voice-activity-driven state machine that decides when the user has started
// and finished speaking, and the loop that drives it from a live microphone
// stream.
//
// The detector is a pure function over (state, frame): Feed is called
// synchronously for each fixed-size frame and returns a Result exactly once,
// on the frame that triggers a terminal transition. No I/O, locking, or
// allocation beyond buffer growth happens inside Feed, so it is safe to drive
// from the audio-callback path.
package listen

import (
	"fmt"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/provider/vad"
)

// State is the phase of a recording session.
type State int

const (
	// StateWaiting means no speech has been seen yet. Bounded by the grace
	// period; frames are not buffered.
	StateWaiting State = iota

	// StateActive means speech was detected and recording is live.
	StateActive

	// StateSilence means trailing silence is accumulating after speech.
	StateSilence

	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateSilence:
		return "silence"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Reason is the terminal reason of a capture (and, at the exchange level, of
// a whole conversation round).
type Reason string

const (
	// ReasonCompleted: speech followed by enough trailing silence.
	ReasonCompleted Reason = "completed"

	// ReasonTimedOut: max duration reached with speech in the buffer. The
	// partial speech is retained, never discarded.
	ReasonTimedOut Reason = "timed_out"

	// ReasonSilent: no speech detected before the deadline. This is a normal,
	// frequent outcome — never an error.
	ReasonSilent Reason = "silent"

	// ReasonBargeIn marks an exchange whose capture was spliced from a
	// barge-in interruption. Set by the orchestrator, not the detector.
	ReasonBargeIn Reason = "barge_in"

	// ReasonTranscriptionFailed marks an exchange where capture succeeded but
	// every STT endpoint failed. Set by the orchestrator, not the detector.
	ReasonTranscriptionFailed Reason = "transcription_failed"
)

// Config bounds one recording session.
type Config struct {
	// SilenceThreshold is the trailing non-speech duration that ends an
	// utterance. Default: 1s.
	SilenceThreshold time.Duration

	// MinDuration is the minimum session length before trailing silence may
	// stop it. Guards against truncating a short utterance followed by a
	// natural pause. Default: 500ms.
	MinDuration time.Duration

	// MaxDuration is the unconditional session deadline. Default: 30s.
	MaxDuration time.Duration

	// GracePeriod bounds the Waiting state: with no speech after this long the
	// session ends with ReasonSilent. Zero means MaxDuration.
	GracePeriod time.Duration

	// DisableSilenceDetection records until MaxDuration regardless of
	// trailing silence. Frames are still classified so the silent/timed-out
	// distinction stays meaningful.
	DisableSilenceDetection bool
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = time.Second
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 500 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Second
	}
	if c.GracePeriod <= 0 || c.GracePeriod > c.MaxDuration {
		c.GracePeriod = c.MaxDuration
	}
	return c
}

// Result is the outcome of one recording session.
type Result struct {
	// PCM is the captured audio (empty for silent sessions).
	PCM []byte

	// Format is the PCM format of the buffer.
	Format audio.Format

	// Elapsed is the total session duration, from first frame to terminal
	// transition.
	Elapsed time.Duration

	// Reason is the terminal reason.
	Reason Reason
}

// Detector consumes classified frames and owns one recording session from
// first frame to terminal transition. It is owned exclusively by the capture
// loop that created it and must not be shared across goroutines.
type Detector struct {
	cfg        Config
	classifier vad.Classifier
	format     audio.Format

	state      State
	buf        []byte
	elapsed    time.Duration
	silence    time.Duration
	lastResult *Result
}

// NewDetector creates a detector for frames of the given format. The
// classifier must be configured for exactly the rate and frame duration the
// caller's rebuffer emits.
func NewDetector(cfg Config, classifier vad.Classifier, format audio.Format) *Detector {
	return &Detector{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		format:     format,
	}
}

// State returns the current phase.
func (d *Detector) State() State { return d.state }

// Elapsed returns the session time consumed so far.
func (d *Detector) Elapsed() time.Duration { return d.elapsed }

// SpliceActive seeds the session with already-captured speech and moves it
// directly to Active, so a barge-in capture does not re-wait for onset. Must
// be called before the first Feed.
func (d *Detector) SpliceActive(frames []audio.Frame) {
	for _, f := range frames {
		d.buf = append(d.buf, f.Data...)
		d.elapsed += f.Duration()
	}
	d.state = StateActive
	d.silence = 0
}

// Feed advances the state machine by one frame. It returns a non-nil Result
// exactly once, on the frame that triggers a terminal transition, and nil on
// every other call. The error path is reserved for classifier frame-shape
// mismatches, which indicate a rebuffering bug upstream.
func (d *Detector) Feed(frame audio.Frame) (*Result, error) {
	if d.state == StateStopped {
		return nil, nil
	}

	speech, err := d.classifier.IsSpeech(frame.Data)
	if err != nil {
		return nil, fmt.Errorf("listen: classify frame: %w", err)
	}

	d.elapsed += frame.Duration()

	switch d.state {
	case StateWaiting:
		if speech {
			d.state = StateActive
			d.silence = 0
			d.buf = append(d.buf, frame.Data...)
			break
		}
		if d.elapsed >= d.cfg.GracePeriod {
			return d.stop(ReasonSilent), nil
		}

	case StateActive:
		d.buf = append(d.buf, frame.Data...)
		if !speech {
			d.state = StateSilence
			d.silence = frame.Duration()
			d.trySilenceStop()
		}

	case StateSilence:
		d.buf = append(d.buf, frame.Data...)
		if speech {
			// Speech resumed: the silence accumulator resets to zero.
			d.state = StateActive
			d.silence = 0
		} else {
			d.silence += frame.Duration()
			if r := d.trySilenceStop(); r != nil {
				return r, nil
			}
		}
	}

	if d.state != StateStopped && d.elapsed >= d.cfg.MaxDuration {
		return d.deadlineStop(), nil
	}
	if d.state == StateStopped {
		// Terminal transition fired inside trySilenceStop on the Active path.
		return d.lastResult, nil
	}
	return nil, nil
}

// trySilenceStop checks the Silence→Stopped condition. Both the silence
// threshold AND the minimum duration must be satisfied.
func (d *Detector) trySilenceStop() *Result {
	if d.cfg.DisableSilenceDetection {
		return nil
	}
	if d.silence >= d.cfg.SilenceThreshold && d.elapsed >= d.cfg.MinDuration {
		return d.stop(ReasonCompleted)
	}
	return nil
}

// ForceStop terminates the session from outside the frame path (e.g., when
// the microphone stream stalls past the deadline). Returns nil if the session
// already stopped.
func (d *Detector) ForceStop() *Result {
	if d.state == StateStopped {
		return nil
	}
	return d.deadlineStop()
}

// deadlineStop implements the unconditional deadline: Waiting sessions end
// silent with an empty buffer; anything with speech ends timed-out with the
// full partial buffer retained.
func (d *Detector) deadlineStop() *Result {
	if d.state == StateWaiting {
		return d.stop(ReasonSilent)
	}
	return d.stop(ReasonTimedOut)
}

func (d *Detector) stop(reason Reason) *Result {
	d.state = StateStopped
	r := &Result{
		PCM:     d.buf,
		Format:  d.format,
		Elapsed: d.elapsed,
		Reason:  reason,
	}
	d.lastResult = r
	return r
}
