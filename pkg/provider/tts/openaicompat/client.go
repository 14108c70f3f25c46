// Package openaicompat implements tts.Synthesizer against any endpoint that
// speaks the OpenAI audio API schema (POST {base_url}/audio/speech). Local
// engines (Kokoro, Piper bridges, speaches) and the OpenAI cloud service are
// interchangeable behind this client — only base URL, key, and model differ.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parley-ai/parley/pkg/audio/codec"
	"github.com/parley-ai/parley/pkg/provider/tts"
)

const (
	defaultTimeout = 30 * time.Second
	defaultModel   = "tts-1"
	defaultVoice   = "alloy"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. This is the failover budget
// for the endpoint: exceeding it counts as a connection failure. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithModel sets the default model used when a request leaves Model empty.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithVoice sets the default voice used when a request leaves Voice empty.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// Client implements tts.Synthesizer for one OpenAI-compatible endpoint.
// Safe for concurrent use.
type Client struct {
	api     *openai.Client
	timeout time.Duration
	model   string
	voice   string
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Client)(nil)

// New creates a Client for the endpoint at baseURL (e.g.,
// "http://127.0.0.1:8880/v1" or "https://api.openai.com/v1"). apiKey may be
// empty for unauthenticated local endpoints.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("openaicompat: baseURL must not be empty")
	}
	c := &Client{
		timeout: defaultTimeout,
		model:   defaultModel,
		voice:   defaultVoice,
	}
	for _, o := range opts {
		o(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: c.timeout}
	c.api = openai.NewClientWithConfig(cfg)
	return c, nil
}

// Synthesize issues POST /audio/speech and returns the encoded audio bytes.
func (c *Client) Synthesize(ctx context.Context, req tts.SpeechRequest) (*tts.SpeechResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("openaicompat: speech request text must not be empty")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}
	encoding := req.Encoding
	if encoding == "" {
		encoding = codec.EncodingWAV
	}

	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(encoding),
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: POST /audio/speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("openaicompat: speech response is empty")
	}
	return &tts.SpeechResult{Audio: data, Encoding: encoding}, nil
}
