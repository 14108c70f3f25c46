// Package config provides the configuration schema and loader for the Parley
// voice conversation engine.
package config

import (
	"time"

	"github.com/parley-ai/parley/pkg/audio/codec"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADEngine selects the voice-activity implementation.
type VADEngine string

const (
	// VADEnergy is the adaptive energy-threshold detector. No native
	// dependencies; the default.
	VADEnergy VADEngine = "energy"

	// VADWebRTC is the WebRTC voice-activity detector.
	VADWebRTC VADEngine = "webrtc"
)

// IsValid reports whether e is a recognised engine.
func (e VADEngine) IsValid() bool {
	return e == VADEnergy || e == VADWebRTC
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig     `yaml:"server"`
	Audio   AudioConfig      `yaml:"audio"`
	VAD     VADConfig        `yaml:"vad"`
	Listen  ListenConfig     `yaml:"listen"`
	BargeIn BargeInConfig    `yaml:"barge_in"`
	Cue     CueConfig        `yaml:"cue"`
	TTS     []EndpointConfig `yaml:"tts"`
	STT     []EndpointConfig `yaml:"stt"`
}

// ServerConfig holds the observability HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz, and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the duplex audio device.
type AudioConfig struct {
	// SampleRate is the device sample rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the device channel count. Default: 1.
	Channels int `yaml:"channels"`

	// FrameDurationMs is the capture callback frame length. Default: 30.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// CaptureBuffer is the capture channel depth in frames; when full, frames
	// are dropped rather than stalling the device callback. Default: 64.
	CaptureBuffer int `yaml:"capture_buffer"`
}

// VADConfig selects and tunes the voice-activity detector for reply capture.
type VADConfig struct {
	// Engine selects the implementation. Default: energy.
	Engine VADEngine `yaml:"engine"`

	// Aggressiveness trades missed speech against false positives, 0 (most
	// permissive) to 3 (most aggressive filtering). Default: 3 — in a
	// push-to-talk-free loop, treating noise as speech is the worse failure.
	Aggressiveness *int `yaml:"aggressiveness"`
}

// ListenConfig bounds each recording session.
type ListenConfig struct {
	// SilenceThresholdMs is the trailing silence that ends an utterance.
	// Default: 1000.
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	// MinDurationMs is the minimum session length before trailing silence may
	// stop it. Default: 500.
	MinDurationMs int `yaml:"min_duration_ms"`

	// MaxDurationMs is the unconditional session deadline. Default: 30000.
	MaxDurationMs int `yaml:"max_duration_ms"`

	// GracePeriodMs bounds the wait for first speech. Default: MaxDurationMs.
	GracePeriodMs int `yaml:"grace_period_ms"`

	// DisableSilenceDetection records to the deadline regardless of silence.
	DisableSilenceDetection bool `yaml:"disable_silence_detection"`
}

// BargeInConfig tunes interruption detection during playback.
type BargeInConfig struct {
	// Enabled turns barge-in monitoring on. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Aggressiveness is the voice-activity aggressiveness while the speaker
	// is live. Default: 2, lower than capture so playback bleed does not
	// self-interrupt.
	Aggressiveness *int `yaml:"aggressiveness"`

	// MinSpeechMs is the sustained speech required to trigger. Default: 150.
	MinSpeechMs int `yaml:"min_speech_ms"`
}

// CueConfig tunes the audible ready-to-listen cue.
type CueConfig struct {
	// Enabled turns the cue on. Default: true.
	Enabled *bool `yaml:"enabled"`

	// LeadMs and TrailMs pad the tones with silence. Defaults: 100 each.
	LeadMs  int `yaml:"lead_ms"`
	TrailMs int `yaml:"trail_ms"`
}

// EndpointConfig describes one speech backend. List order is the failover
// priority order unless Priority is set.
type EndpointConfig struct {
	// Name is the label used in logs and aggregate errors. Required, unique
	// within its list.
	Name string `yaml:"name"`

	// URL is the OpenAI-compatible API root (e.g., "http://127.0.0.1:8880/v1").
	URL string `yaml:"url"`

	// Local marks a loopback service: retried on every call, never carries
	// standing failure state, and negotiates uncompressed audio.
	Local bool `yaml:"local"`

	// Priority orders endpoints explicitly; lower tries first. Endpoints
	// without a priority keep their list position.
	Priority *int `yaml:"priority"`

	// Model, Voice, Language are the endpoint defaults.
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	Language string `yaml:"language"`

	// Format pins the wire encoding ("wav", "opus", "pcm"). Empty negotiates
	// from Local.
	Format codec.Encoding `yaml:"format"`

	// TimeoutMs is the per-attempt budget. Default: 30000 for TTS, 60000 for
	// STT.
	TimeoutMs int `yaml:"timeout_ms"`

	// APIKey authenticates against the endpoint. Empty falls back to the
	// OPENAI_API_KEY environment value; local endpoints usually need none.
	APIKey string `yaml:"api_key"`
}

// Timeout returns the per-attempt budget, or 0 when unset.
func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}
