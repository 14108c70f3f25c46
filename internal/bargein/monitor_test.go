package bargein_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/bargein"
	"github.com/parley-ai/parley/pkg/audio"
	vadmock "github.com/parley-ai/parley/pkg/provider/vad/mock"
)

var monFormat = audio.Format{SampleRate: 16000, Channels: 1}

func frame() audio.Frame {
	return audio.Frame{Data: make([]byte, 960), SampleRate: 16000, Channels: 1}
}

// run pushes n frames into a monitor and returns its result. The channel is
// closed afterwards so Run always terminates.
func run(t *testing.T, m *bargein.Monitor, n int) (*bargein.Trigger, error) {
	t.Helper()
	frames := make(chan audio.Frame, n)
	for range n {
		frames <- frame()
	}
	close(frames)
	reb := audio.NewRebuffer(monFormat, 30*time.Millisecond)
	return m.Run(context.Background(), frames, reb)
}

// ── triggering ───────────────────────────────────────────────────────────────

func TestMonitorTriggersOnSustainedSpeech(t *testing.T) {
	cls := &vadmock.Classifier{Script: []bool{
		false, false, false,
		true, true, true, true, true, // 150 ms run
	}, Fallback: true}
	m := bargein.New(cls, 150*time.Millisecond)

	trig, err := run(t, m, 20)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if trig == nil {
		t.Fatal("expected a trigger")
	}
	if got := len(trig.Onset); got != 5 {
		t.Errorf("onset frames: got %d, want 5", got)
	}
	// 3 quiet frames + 5 speech frames monitored before firing.
	if trig.At != 8*30*time.Millisecond {
		t.Errorf("At: got %v, want %v", trig.At, 8*30*time.Millisecond)
	}
}

func TestMonitorSingleGapResetsRun(t *testing.T) {
	cls := &vadmock.Classifier{Script: []bool{
		true, true, true, true, // almost enough
		false, // one quiet frame wipes the run
		true, true, true, true, true,
	}}
	m := bargein.New(cls, 150*time.Millisecond)

	trig, err := run(t, m, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if trig == nil {
		t.Fatal("expected a trigger from the second run")
	}
	if got := len(trig.Onset); got != 5 {
		t.Errorf("onset frames: got %d, want 5 (run before the gap must not count)", got)
	}
	if trig.At != 10*30*time.Millisecond {
		t.Errorf("At: got %v, want %v", trig.At, 10*30*time.Millisecond)
	}
}

func TestMonitorNoTriggerBelowThreshold(t *testing.T) {
	// Alternating speech and silence never sustains a run.
	cls := &vadmock.Classifier{Script: []bool{
		true, false, true, false, true, false, true, false,
	}}
	m := bargein.New(cls, 150*time.Millisecond)

	trig, err := run(t, m, 8)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if trig != nil {
		t.Errorf("unexpected trigger at %v", trig.At)
	}
}

// ── termination ──────────────────────────────────────────────────────────────

func TestMonitorReturnsNilOnCancel(t *testing.T) {
	cls := &vadmock.Classifier{Fallback: true}
	m := bargein.New(cls, 150*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames := make(chan audio.Frame) // never delivers
	reb := audio.NewRebuffer(monFormat, 30*time.Millisecond)
	trig, err := m.Run(ctx, frames, reb)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if trig != nil {
		t.Error("cancellation must not report a trigger")
	}
}

func TestMonitorClassifierErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	cls := &vadmock.Classifier{Err: wantErr}
	m := bargein.New(cls, 150*time.Millisecond)

	_, err := run(t, m, 1)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped classifier error, got %v", err)
	}
}
