// Package mock provides a scripted test double for the device package.
//
// Use Duplex to feed a predetermined microphone signal into the capture
// pipeline and to record everything the engine plays. The Script function
// helpers build speech/silence PCM frames without real hardware.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/device"
)

// Duplex is a mock implementation of device.Duplex.
type Duplex struct {
	mu sync.Mutex

	// CaptureFrames is the scripted microphone feed, delivered in order on
	// every StartCapture call. When exhausted the capture channel stays open
	// (silent mic) until StopCapture unless CloseAfterScript is set.
	CaptureFrames []audio.Frame

	// CloseAfterScript closes the capture channel once the script is exhausted.
	CloseAfterScript bool

	// CaptureInterval, when non-zero, paces scripted frame delivery in real
	// time. Zero delivers frames as fast as the consumer reads them.
	CaptureInterval time.Duration

	// StartCaptureErr, if non-nil, is returned by StartCapture.
	StartCaptureErr error

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// PlayDuration, when non-zero, keeps a play session open for this long
	// after its chunk stream is consumed, simulating the time the hardware
	// buffer takes to drain. StopPlayback ends the session immediately.
	PlayDuration time.Duration

	// PlayedChunks records every PCM chunk handed to Play, across sessions.
	PlayedChunks [][]byte

	// StopPlaybackCalls counts StopPlayback invocations.
	StopPlaybackCalls int

	// StopCaptureCalls counts StopCapture invocations.
	StopCaptureCalls int

	captureCancel context.CancelFunc
	playStop      chan struct{}
	playStopOnce  *sync.Once
}

// Compile-time interface assertion.
var _ device.Duplex = (*Duplex)(nil)

// StartCapture streams the scripted frames.
func (d *Duplex) StartCapture(ctx context.Context) (<-chan audio.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartCaptureErr != nil {
		return nil, d.StartCaptureErr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	d.captureCancel = cancel

	out := make(chan audio.Frame, 16)
	frames := make([]audio.Frame, len(d.CaptureFrames))
	copy(frames, d.CaptureFrames)
	interval := d.CaptureInterval
	closeAfter := d.CloseAfterScript

	go func() {
		defer close(out)
		for _, f := range frames {
			if interval > 0 {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if closeAfter {
			return
		}
		<-ctx.Done()
	}()
	return out, nil
}

// StopCapture cancels the scripted feed and records the call.
func (d *Duplex) StopCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StopCaptureCalls++
	if d.captureCancel != nil {
		d.captureCancel()
		d.captureCancel = nil
	}
}

// Play records chunks until pcm closes or StopPlayback is called. The done
// channel closes when the session ends.
func (d *Duplex) Play(pcm <-chan []byte) (<-chan struct{}, error) {
	d.mu.Lock()
	if d.PlayErr != nil {
		d.mu.Unlock()
		return nil, d.PlayErr
	}
	stop := make(chan struct{})
	var once sync.Once
	d.playStop = stop
	d.playStopOnce = &once
	hold := d.PlayDuration
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case chunk, ok := <-pcm:
				if !ok {
					if hold > 0 {
						select {
						case <-time.After(hold):
						case <-stop:
						}
					}
					return
				}
				cp := make([]byte, len(chunk))
				copy(cp, chunk)
				d.mu.Lock()
				d.PlayedChunks = append(d.PlayedChunks, cp)
				d.mu.Unlock()
			case <-stop:
				go audio.Drain(pcm)
				return
			}
		}
	}()
	return done, nil
}

// StopPlayback ends the active play session. Safe when nothing is playing.
func (d *Duplex) StopPlayback() {
	d.mu.Lock()
	d.StopPlaybackCalls++
	stop, once := d.playStop, d.playStopOnce
	d.mu.Unlock()
	if stop != nil && once != nil {
		once.Do(func() { close(stop) })
	}
}

// Close stops both directions.
func (d *Duplex) Close() error {
	d.StopPlayback()
	d.StopCapture()
	return nil
}

// PlayedBytes returns the total byte count recorded across all play sessions.
func (d *Duplex) PlayedBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.PlayedChunks {
		n += len(c)
	}
	return n
}

// SpeechFrame builds a mono frame of the given duration filled with a loud
// square-ish wave that any energy classifier treats as speech.
func SpeechFrame(rate int, dur time.Duration, ts time.Duration) audio.Frame {
	samples := int(int64(rate) * int64(dur) / int64(time.Second))
	pcm := make([]int16, samples)
	for i := range pcm {
		if (i/16)%2 == 0 {
			pcm[i] = 12000
		} else {
			pcm[i] = -12000
		}
	}
	return audio.Frame{Data: audio.Int16sToBytes(pcm), SampleRate: rate, Channels: 1, Timestamp: ts}
}

// SilenceFrame builds a mono frame of near-zero samples.
func SilenceFrame(rate int, dur time.Duration, ts time.Duration) audio.Frame {
	samples := int(int64(rate) * int64(dur) / int64(time.Second))
	return audio.Frame{Data: make([]byte, samples*2), SampleRate: rate, Channels: 1, Timestamp: ts}
}
