package orchestrator

import (
	"math"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
)

// Cue tuning. Two short ascending tones, quiet enough not to startle and
// distinct enough to land as "your turn".
const (
	cueToneA    = 880.0  // Hz
	cueToneB    = 1318.5 // Hz
	cueToneDur  = 90 * time.Millisecond
	cueGapDur   = 30 * time.Millisecond
	cueAmp      = 0.25
	cueFadeFrac = 0.15 // fraction of each tone faded in and out
)

// cueTone renders the ready-to-listen cue as mono int16 PCM in the given
// format, padded with lead and trail silence.
func cueTone(format audio.Format, lead, trail time.Duration) []byte {
	var samples []int16
	samples = append(samples, silence(format, lead)...)
	samples = append(samples, tone(format, cueToneA, cueToneDur)...)
	samples = append(samples, silence(format, cueGapDur)...)
	samples = append(samples, tone(format, cueToneB, cueToneDur)...)
	samples = append(samples, silence(format, trail)...)

	pcm := audio.Int16sToBytes(samples)
	if format.Channels == 2 {
		pcm = audio.MonoToStereo(pcm)
	}
	return pcm
}

func silence(format audio.Format, d time.Duration) []int16 {
	if d <= 0 {
		return nil
	}
	return make([]int16, int(float64(format.SampleRate)*d.Seconds()))
}

// tone renders a sine with a short linear fade at both ends to avoid clicks.
func tone(format audio.Format, freq float64, d time.Duration) []int16 {
	n := int(float64(format.SampleRate) * d.Seconds())
	fade := int(float64(n) * cueFadeFrac)
	out := make([]int16, n)
	for i := range out {
		v := cueAmp * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate))
		switch {
		case i < fade:
			v *= float64(i) / float64(fade)
		case i >= n-fade:
			v *= float64(n-1-i) / float64(fade)
		}
		out[i] = int16(v * math.MaxInt16)
	}
	return out
}
