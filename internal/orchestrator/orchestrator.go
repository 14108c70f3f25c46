// Package orchestrator runs conversation rounds: speak a line of synthesized
// text, capture the user's spoken reply with autonomous end-of-speech
// detection, and transcribe it. Playback is interruptible; when the user
// talks over the agent, playback stops and the words already spoken seed the
// reply capture.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/bargein"
	"github.com/parley-ai/parley/internal/failover"
	"github.com/parley-ai/parley/internal/listen"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/device"
	"github.com/parley-ai/parley/pkg/provider/stt"
	"github.com/parley-ai/parley/pkg/provider/vad"
)

// playChunk is the duration of each PCM chunk queued to the playback device.
const playChunk = 100 * time.Millisecond

// BargeInConfig tunes interruption detection during playback.
type BargeInConfig struct {
	// Enabled turns barge-in monitoring on.
	Enabled bool

	// Aggressiveness is the voice-activity aggressiveness used while the
	// speaker is live. Kept lower than reply capture so loudspeaker bleed does
	// not cut playback off.
	Aggressiveness int

	// MinSpeech is the sustained speech required to trigger. Zero selects
	// bargein.DefaultMinSpeech.
	MinSpeech time.Duration
}

// CueConfig tunes the audible ready-to-listen cue.
type CueConfig struct {
	// Enabled turns the cue on.
	Enabled bool

	// Lead and Trail pad the cue with silence so the tones are not clipped by
	// device startup or capture switchover.
	Lead  time.Duration
	Trail time.Duration
}

// Options wires an Orchestrator.
type Options struct {
	// Device is the duplex audio device.
	Device device.Duplex

	// Executor drives synthesis and transcription with endpoint failover.
	Executor *failover.Executor

	// VAD builds voice-activity classifiers for capture and barge-in.
	VAD vad.Engine

	// ListenVAD is the classifier configuration for reply capture. Barge-in
	// uses the same rate and frame size with BargeIn.Aggressiveness, so both
	// stages share one frame geometry and the onset splice stays loss-free.
	ListenVAD vad.Config

	// Listen bounds each recording session.
	Listen listen.Config

	// BargeIn tunes interruption detection.
	BargeIn BargeInConfig

	// Cue tunes the ready-to-listen tones.
	Cue CueConfig

	// DeviceFormat is the playback device's PCM format. Zero means the
	// pipeline format (mono at the capture rate).
	DeviceFormat audio.Format

	// Metrics receives pipeline telemetry. Nil disables recording.
	Metrics *observe.Metrics
}

// Orchestrator runs conversation rounds over one audio device. Rounds are
// sequential per Orchestrator: the device owns a single microphone and
// speaker pair.
type Orchestrator struct {
	opts      Options
	vadFormat audio.Format
	frameDur  time.Duration
}

// New validates opts and creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Device == nil {
		return nil, errors.New("orchestrator: device is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if opts.VAD == nil {
		return nil, errors.New("orchestrator: vad engine is required")
	}
	if err := opts.ListenVAD.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: listen vad: %w", err)
	}
	vadFormat := audio.Format{SampleRate: opts.ListenVAD.SampleRate, Channels: 1}
	if opts.DeviceFormat == (audio.Format{}) {
		opts.DeviceFormat = vadFormat
	}
	return &Orchestrator{
		opts:      opts,
		vadFormat: vadFormat,
		frameDur:  time.Duration(opts.ListenVAD.FrameMs) * time.Millisecond,
	}, nil
}

// Request is one conversation round.
type Request struct {
	// Text is the line to speak before listening. Empty skips synthesis and
	// playback and goes straight to listening.
	Text string

	// SpeakOnly ends the round when playback finishes instead of capturing a
	// reply. A barge-in still wins: the interruption onset is captured and
	// transcribed, since the user has plainly chosen to respond.
	SpeakOnly bool

	// Voice and Speed override the TTS endpoint defaults.
	Voice string
	Speed float64

	// Language and Prompt are passed to transcription.
	Language string
	Prompt   string

	// Listen adjusts reply capture for this round. Nil keeps the configured
	// defaults.
	Listen *ListenOverrides
}

// ListenOverrides adjusts reply capture for a single round. Zero fields keep
// the orchestrator's configured values.
type ListenOverrides struct {
	// MinDuration and MaxDuration replace the session bounds when positive.
	MinDuration time.Duration
	MaxDuration time.Duration

	// DisableSilenceDetection records to the deadline regardless of trailing
	// silence.
	DisableSilenceDetection bool

	// VADAggressiveness replaces the capture classifier aggressiveness. Nil
	// keeps the configured value. The frame geometry is fixed per
	// Orchestrator, so overriding aggressiveness never disturbs a barge-in
	// splice.
	VADAggressiveness *int
}

// Exchange is the outcome of one conversation round.
type Exchange struct {
	// ID uniquely identifies the round.
	ID string

	// Text is the line that was spoken (empty if none).
	Text string

	// Transcript is the recognized reply. Nil when the round ended silent or
	// transcription failed on every endpoint.
	Transcript *stt.Transcript

	// Reason is the terminal reason of the round.
	Reason listen.Reason

	// BargeIn reports whether the user interrupted playback.
	BargeIn bool

	// Duration is the wall-clock length of the whole round.
	Duration time.Duration

	// TTSEndpoint and STTEndpoint name the endpoints that served the round.
	TTSEndpoint string
	STTEndpoint string

	// RawAudio holds the captured reply as a WAV file when every STT endpoint
	// failed, so the audio is never lost with the transcript.
	RawAudio []byte

	// TranscribeErr is the aggregate STT failure behind a
	// transcription_failed reason.
	TranscribeErr error
}

// Converse runs one round: speak req.Text (if any), capture the reply, and
// transcribe it. Total TTS failure is not fatal; the round proceeds to
// listening. Total STT failure yields a nil transcript with the raw audio
// retained on the Exchange. A SpeakOnly request returns as soon as playback
// ends, unless the user barged in. The returned error is reserved for
// pipeline faults (device errors, cancellation), never for endpoint failures.
func (o *Orchestrator) Converse(ctx context.Context, req Request) (*Exchange, error) {
	ex := &Exchange{ID: uuid.NewString(), Text: req.Text}
	start := time.Now()
	if m := o.opts.Metrics; m != nil {
		m.ActiveConversations.Add(ctx, 1)
		defer m.ActiveConversations.Add(ctx, -1)
	}
	defer func() {
		ex.Duration = time.Since(start)
		if m := o.opts.Metrics; m != nil && ex.Reason != "" {
			m.RecordExchange(ctx, string(ex.Reason))
		}
	}()

	reb := audio.NewRebuffer(o.vadFormat, o.frameDur)

	// Speak, watching for interruption.
	var (
		trig   *bargein.Trigger
		frames <-chan audio.Frame
	)
	if req.Text != "" {
		var err error
		trig, frames, err = o.speak(ctx, ex, req, reb)
		if err != nil {
			return nil, err
		}
	}

	// A speak-only round ends when playback does, unless the user barged in.
	if req.SpeakOnly && trig == nil {
		ex.Reason = listen.ReasonCompleted
		slog.Info("speak-only round finished", "exchange", ex.ID)
		return ex, nil
	}

	// Capture the reply.
	result, err := o.listenReply(ctx, ex, req, trig, frames, reb)
	if err != nil {
		return nil, err
	}

	if result.Reason == listen.ReasonSilent || len(result.PCM) == 0 {
		ex.Reason = listen.ReasonSilent
		slog.Info("round ended silent", "exchange", ex.ID, "elapsed", result.Elapsed)
		return ex, nil
	}

	// Transcribe.
	if err := o.transcribe(ctx, ex, req, result); err != nil {
		return nil, err
	}
	return ex, nil
}

// speak synthesizes and plays req.Text while monitoring the microphone for
// interruption. It returns the trigger (nil if playback finished cleanly) and
// the live capture channel when barge-in monitoring left one running.
//
// Synthesis failure on every endpoint is logged and swallowed: the round
// still listens, because a reply may matter more than the prompt.
func (o *Orchestrator) speak(ctx context.Context, ex *Exchange, req Request, reb *audio.Rebuffer) (*bargein.Trigger, <-chan audio.Frame, error) {
	synthStart := time.Now()
	out, err := o.opts.Executor.Synthesize(ctx, req.Text, failover.SynthesisOptions{
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if m := o.opts.Metrics; m != nil {
		m.SynthesisDuration.Record(ctx, time.Since(synthStart).Seconds())
	}
	if err != nil {
		var all *failover.AllEndpointsError
		if !errors.As(err, &all) {
			return nil, nil, err
		}
		o.recordAttempts(ctx, failover.KindTTS, all.Attempts)
		slog.Error("synthesis failed on every endpoint, listening anyway",
			"exchange", ex.ID, "err", err)
		return nil, nil, nil
	}
	ex.TTSEndpoint = out.Endpoint
	o.recordAttempts(ctx, failover.KindTTS, out.Attempts)

	// Barge-in monitoring needs the microphone live during playback.
	var (
		mon     *bargein.Monitor
		monCls  vad.Classifier
		frames  <-chan audio.Frame
		monErr  error
		monReb  = reb
		trigger *bargein.Trigger
	)
	if o.opts.BargeIn.Enabled {
		cfg := o.opts.ListenVAD
		cfg.Aggressiveness = o.opts.BargeIn.Aggressiveness
		monCls, monErr = o.opts.VAD.NewClassifier(cfg)
		if monErr != nil {
			return nil, nil, fmt.Errorf("orchestrator: barge-in classifier: %w", monErr)
		}
		defer monCls.Close()

		frames, monErr = o.opts.Device.StartCapture(ctx)
		if monErr != nil {
			return nil, nil, fmt.Errorf("orchestrator: start capture for barge-in: %w", monErr)
		}
		mon = bargein.New(monCls, o.opts.BargeIn.MinSpeech)
	}

	playPCM := o.toDevice(out.PCM, out.Format)
	done, err := o.opts.Device.Play(audio.Chunks(playPCM, o.opts.DeviceFormat, playChunk))
	if err != nil {
		if frames != nil {
			o.opts.Device.StopCapture()
			audio.Drain(frames)
		}
		return nil, nil, fmt.Errorf("orchestrator: play: %w", err)
	}

	if mon == nil {
		select {
		case <-done:
			return nil, nil, nil
		case <-ctx.Done():
			o.opts.Device.StopPlayback()
			return nil, nil, ctx.Err()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	monCtx, cancelMon := context.WithCancel(gctx)
	defer cancelMon()

	g.Go(func() error {
		t, err := mon.Run(monCtx, frames, monReb)
		if err != nil {
			return err
		}
		if t != nil {
			trigger = t
			o.opts.Device.StopPlayback()
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
			o.opts.Device.StopPlayback()
		}
		cancelMon()
		return nil
	})
	if err := g.Wait(); err != nil {
		o.opts.Device.StopCapture()
		audio.Drain(frames)
		return nil, nil, err
	}
	if ctx.Err() != nil {
		o.opts.Device.StopCapture()
		audio.Drain(frames)
		return nil, nil, ctx.Err()
	}

	if trigger != nil {
		ex.BargeIn = true
		if m := o.opts.Metrics; m != nil {
			m.BargeIns.Add(ctx, 1)
		}
		slog.Info("barge-in: playback interrupted",
			"exchange", ex.ID,
			"at", trigger.At,
			"onset_frames", len(trigger.Onset))
		// The capture stream stays live; the reply continues from here.
		return trigger, frames, nil
	}

	// Clean playback end. The monitor's capture stream carries playback-era
	// audio; drop it and start listening fresh after the cue.
	o.opts.Device.StopCapture()
	audio.Drain(frames)
	return nil, nil, nil
}

// listenReply runs the reply capture. A barge-in trigger seeds the session
// with the interruption onset and skips the cue. Per-round overrides on the
// request replace the configured capture bounds and aggressiveness.
func (o *Orchestrator) listenReply(ctx context.Context, ex *Exchange, req Request, trig *bargein.Trigger, frames <-chan audio.Frame, reb *audio.Rebuffer) (*listen.Result, error) {
	vadCfg := o.opts.ListenVAD
	cfg := o.opts.Listen
	if ov := req.Listen; ov != nil {
		if ov.MinDuration > 0 {
			cfg.MinDuration = ov.MinDuration
		}
		if ov.MaxDuration > 0 {
			cfg.MaxDuration = ov.MaxDuration
		}
		if ov.DisableSilenceDetection {
			cfg.DisableSilenceDetection = true
		}
		if ov.VADAggressiveness != nil {
			vadCfg.Aggressiveness = *ov.VADAggressiveness
		}
	}

	cls, err := o.opts.VAD.NewClassifier(vadCfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listen classifier: %w", err)
	}
	defer cls.Close()

	det := listen.NewDetector(cfg, cls, o.vadFormat)

	if trig != nil {
		det.SpliceActive(trig.Onset)
	} else {
		if o.opts.Cue.Enabled {
			if err := o.playCue(ctx); err != nil {
				return nil, err
			}
		}
		reb.Reset()
		frames, err = o.opts.Device.StartCapture(ctx)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: start capture: %w", err)
		}
	}

	listenStart := time.Now()
	result, err := listen.Run(ctx, frames, reb, det)
	o.opts.Device.StopCapture()
	audio.Drain(frames)
	if err != nil {
		return nil, err
	}
	if m := o.opts.Metrics; m != nil {
		m.ListenDuration.Record(ctx, time.Since(listenStart).Seconds())
	}
	return result, nil
}

// playCue plays the two-tone ready cue and waits for it to finish.
func (o *Orchestrator) playCue(ctx context.Context) error {
	pcm := cueTone(o.opts.DeviceFormat, o.opts.Cue.Lead, o.opts.Cue.Trail)
	done, err := o.opts.Device.Play(audio.Chunks(pcm, o.opts.DeviceFormat, playChunk))
	if err != nil {
		return fmt.Errorf("orchestrator: play cue: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.opts.Device.StopPlayback()
		return ctx.Err()
	}
}

// transcribe runs the captured reply through the STT endpoints. Total failure
// downgrades the exchange instead of erroring: transcript nil, reason
// transcription_failed, raw audio retained.
func (o *Orchestrator) transcribe(ctx context.Context, ex *Exchange, req Request, result *listen.Result) error {
	sttStart := time.Now()
	out, err := o.opts.Executor.Transcribe(ctx, result.PCM, failover.TranscribeOptions{
		Language: req.Language,
		Prompt:   req.Prompt,
	})
	if m := o.opts.Metrics; m != nil {
		m.TranscriptionDuration.Record(ctx, time.Since(sttStart).Seconds())
	}
	if err != nil {
		var all *failover.AllEndpointsError
		if !errors.As(err, &all) {
			return err
		}
		o.recordAttempts(ctx, failover.KindSTT, all.Attempts)
		ex.Reason = listen.ReasonTranscriptionFailed
		ex.TranscribeErr = err
		ex.RawAudio = audio.EncodeWAV(result.PCM, result.Format)
		slog.Error("transcription failed on every endpoint, retaining raw audio",
			"exchange", ex.ID,
			"audio_bytes", len(ex.RawAudio),
			"err", err)
		return nil
	}
	o.recordAttempts(ctx, failover.KindSTT, out.Attempts)

	ex.Transcript = out.Transcript
	ex.STTEndpoint = out.Endpoint
	ex.Reason = result.Reason
	if ex.BargeIn && result.Reason == listen.ReasonCompleted {
		ex.Reason = listen.ReasonBargeIn
	}
	slog.Info("round finished",
		"exchange", ex.ID,
		"reason", ex.Reason,
		"endpoint", ex.STTEndpoint,
		"chars", len(out.Transcript.Text))
	return nil
}

// toDevice converts PCM into the playback device's format.
func (o *Orchestrator) toDevice(pcm []byte, from audio.Format) []byte {
	if from == o.opts.DeviceFormat {
		return pcm
	}
	conv := audio.Converter{Target: o.opts.DeviceFormat}
	return conv.Convert(audio.Frame{Data: pcm, SampleRate: from.SampleRate, Channels: from.Channels}).Data
}

func (o *Orchestrator) recordAttempts(ctx context.Context, kind failover.Kind, attempts []failover.Attempt) {
	m := o.opts.Metrics
	if m == nil {
		return
	}
	for _, a := range attempts {
		status := "ok"
		if a.Err != nil {
			status = "error"
			m.RecordEndpointError(ctx, string(kind), a.Endpoint)
		}
		m.RecordAttempt(ctx, string(kind), a.Endpoint, status)
	}
}
