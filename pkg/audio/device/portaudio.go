package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/parley-ai/parley/pkg/audio"
)

// PortAudio implements [Duplex] on top of the default system input and output
// devices. The two directions are independent streams so that capture can run
// while playback is active (the barge-in pairing).
type PortAudio struct {
	cfg Config

	mu      sync.Mutex
	capture *captureSession
	play    *playSession
	closed  bool
}

// Compile-time interface assertion.
var _ Duplex = (*PortAudio)(nil)

// Open initialises portaudio and returns a device handle using the default
// input and output devices. Returns [ErrDeviceUnavailable] (wrapped) when the
// host has no usable audio hardware.
func Open(cfg Config) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudio{cfg: cfg.withDefaults()}, nil
}

// Config returns the negotiated stream configuration.
func (d *PortAudio) Config() Config { return d.cfg }

// framesPerBuffer returns the per-channel sample count of one frame.
func (d *PortAudio) framesPerBuffer() int {
	return int(int64(d.cfg.SampleRate) * int64(d.cfg.FrameDuration) / int64(time.Second))
}

// ---- capture ----

type captureSession struct {
	stream  *portaudio.Stream
	out     chan audio.Frame
	dropped atomic.Int64
	frames  atomic.Int64
	stop    sync.Once
}

// StartCapture opens the input stream. Only one capture session may be active.
func (d *PortAudio) StartCapture(ctx context.Context) (<-chan audio.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: device closed", ErrDeviceUnavailable)
	}
	if d.capture != nil {
		d.stopCaptureLocked()
	}

	sess := &captureSession{out: make(chan audio.Frame, d.cfg.CaptureBuffer)}
	frameDur := d.cfg.FrameDuration
	rate := d.cfg.SampleRate
	channels := d.cfg.Channels

	// The callback runs on the portaudio audio thread: no blocking, no
	// allocation beyond the frame copy, no logging.
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(rate), d.framesPerBuffer(),
		func(in []int16) {
			idx := sess.frames.Add(1) - 1
			frame := audio.Frame{
				Data:       audio.Int16sToBytes(in),
				SampleRate: rate,
				Channels:   channels,
				Timestamp:  time.Duration(idx) * frameDur,
			}
			select {
			case sess.out <- frame:
			default:
				sess.dropped.Add(1)
			}
		})
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}
	sess.stream = stream
	d.capture = sess

	if ctx != nil {
		go func() {
			<-ctx.Done()
			d.StopCapture()
		}()
	}
	return sess.out, nil
}

// StopCapture stops the input stream, closes the frame channel, and releases
// the hardware resource before returning.
func (d *PortAudio) StopCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCaptureLocked()
}

func (d *PortAudio) stopCaptureLocked() {
	sess := d.capture
	if sess == nil {
		return
	}
	d.capture = nil
	sess.stop.Do(func() {
		if err := sess.stream.Stop(); err != nil {
			slog.Warn("audio capture stop", "err", err)
		}
		sess.stream.Close()
		close(sess.out)
		if n := sess.dropped.Load(); n > 0 {
			slog.Warn("audio capture dropped frames (consumer fell behind)", "dropped", n)
		}
	})
}

// ---- playback ----

type playSession struct {
	stream *portaudio.Stream

	mu       sync.Mutex
	queue    []byte
	draining bool
	stopped  bool

	underruns atomic.Int64
	finished  chan struct{} // signalled once by the callback or StopPlayback
	finish    sync.Once
	done      chan struct{} // closed after the stream is released
}

// Play starts a playback session. PCM chunks must match the device format
// (little-endian int16 at the configured rate/channels).
func (d *PortAudio) Play(pcm <-chan []byte) (<-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: device closed", ErrDeviceUnavailable)
	}
	if d.play != nil {
		return nil, ErrPlaybackActive
	}

	sess := &playSession{
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(0, d.cfg.Channels, float64(d.cfg.SampleRate), d.framesPerBuffer(),
		func(out []int16) {
			sess.fill(out)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: open output stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start output stream: %v", ErrDeviceUnavailable, err)
	}
	sess.stream = stream
	d.play = sess

	// Feeder: moves caller chunks into the callback queue.
	go func() {
		for chunk := range pcm {
			sess.mu.Lock()
			if sess.stopped {
				sess.mu.Unlock()
				break
			}
			sess.queue = append(sess.queue, chunk...)
			sess.mu.Unlock()
		}
		audio.Drain(pcm)
		sess.mu.Lock()
		sess.draining = true
		empty := len(sess.queue) == 0
		sess.mu.Unlock()
		if empty {
			sess.signalFinished()
		}
	}()

	// Monitor: releases the stream off the audio thread once playback ends.
	go func() {
		<-sess.finished
		if err := sess.stream.Stop(); err != nil {
			slog.Warn("audio playback stop", "err", err)
		}
		sess.stream.Close()
		if n := sess.underruns.Load(); n > 0 {
			slog.Debug("audio playback underruns", "count", n)
		}
		d.mu.Lock()
		if d.play == sess {
			d.play = nil
		}
		d.mu.Unlock()
		close(sess.done)
	}()

	return sess.done, nil
}

// fill copies queued PCM into the output buffer, zero-padding on underrun.
// Runs on the audio thread; the lock is held only for the memmove.
func (s *playSession) fill(out []int16) {
	s.mu.Lock()
	n := min(len(s.queue)/2, len(out))
	for i := range n {
		out[i] = int16(s.queue[i*2]) | int16(s.queue[i*2+1])<<8
	}
	s.queue = s.queue[n*2:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	drained := s.draining && len(s.queue) == 0
	active := !s.stopped && !s.draining
	s.mu.Unlock()

	if n < len(out) && active {
		s.underruns.Add(1)
	}
	if drained {
		s.signalFinished()
	}
}

func (s *playSession) signalFinished() {
	s.finish.Do(func() { close(s.finished) })
}

// StopPlayback cancels playback from the current position and returns after
// the output stream has been released. A finished or absent session is a
// harmless no-op.
func (d *PortAudio) StopPlayback() {
	d.mu.Lock()
	sess := d.play
	d.mu.Unlock()
	if sess == nil {
		return
	}
	sess.mu.Lock()
	sess.stopped = true
	sess.queue = nil
	sess.mu.Unlock()
	sess.signalFinished()
	<-sess.done
}

// Close stops both directions and terminates portaudio.
func (d *PortAudio) Close() error {
	d.StopPlayback()
	d.mu.Lock()
	d.stopCaptureLocked()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return portaudio.Terminate()
}
