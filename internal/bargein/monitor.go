// Package bargein watches the microphone while synthesized speech is playing
// and reports when the user starts talking over it. A trigger carries the
// frames captured from speech onset so the reply capture can be seeded with
// the words already spoken instead of losing them.
//
// The monitor classifies with its own voice-activity settings, tuned less
// aggressively than reply capture: during playback the speaker is live and
// loudspeaker bleed or room noise must not cut the agent off mid-sentence.
package bargein

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/provider/vad"
)

// DefaultMinSpeech is the default sustained-speech duration required before a
// barge-in fires.
const DefaultMinSpeech = 150 * time.Millisecond

// Trigger reports a detected interruption.
type Trigger struct {
	// Onset holds every frame from the start of the sustained speech run
	// through the triggering frame, in order. Spliced into the reply capture.
	Onset []audio.Frame

	// At is the monitor time at which the trigger fired, measured from the
	// first monitored frame.
	At time.Duration
}

// Monitor detects user speech during playback. One Monitor drives one
// playback window; it is not reused.
type Monitor struct {
	classifier vad.Classifier
	minSpeech  time.Duration

	elapsed time.Duration
	run     time.Duration
	onset   []audio.Frame
}

// New creates a Monitor around the given classifier. minSpeech <= 0 selects
// DefaultMinSpeech.
func New(classifier vad.Classifier, minSpeech time.Duration) *Monitor {
	if minSpeech <= 0 {
		minSpeech = DefaultMinSpeech
	}
	return &Monitor{classifier: classifier, minSpeech: minSpeech}
}

// Run consumes microphone frames until either sustained speech triggers a
// barge-in or the context is cancelled (playback finished). It returns
// (nil, nil) on clean cancellation: no interruption happened.
func (m *Monitor) Run(ctx context.Context, frames <-chan audio.Frame, reb *audio.Rebuffer) (*Trigger, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil

		case f, ok := <-frames:
			if !ok {
				return nil, nil
			}
			for _, sub := range reb.Push(f) {
				trig, err := m.feed(sub)
				if err != nil {
					return nil, err
				}
				if trig != nil {
					return trig, nil
				}
			}
		}
	}
}

// feed advances the speech-run accumulator by one frame. A single non-speech
// frame resets the run: "sustained" means consecutive.
func (m *Monitor) feed(frame audio.Frame) (*Trigger, error) {
	speech, err := m.classifier.IsSpeech(frame.Data)
	if err != nil {
		return nil, fmt.Errorf("bargein: classify frame: %w", err)
	}
	m.elapsed += frame.Duration()

	if !speech {
		m.run = 0
		m.onset = m.onset[:0]
		return nil, nil
	}

	m.run += frame.Duration()
	m.onset = append(m.onset, frame)
	if m.run >= m.minSpeech {
		onset := make([]audio.Frame, len(m.onset))
		copy(onset, m.onset)
		return &Trigger{Onset: onset, At: m.elapsed}, nil
	}
	return nil, nil
}
