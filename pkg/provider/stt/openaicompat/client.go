// Package openaicompat implements stt.Transcriber against any endpoint that
// speaks the OpenAI audio API schema (POST {base_url}/audio/transcriptions,
// multipart upload). Local Whisper servers (speaches, faster-whisper-server)
// and the OpenAI cloud service are interchangeable behind this client.
package openaicompat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parley-ai/parley/pkg/audio/codec"
	"github.com/parley-ai/parley/pkg/provider/stt"
)

const (
	defaultTimeout = 60 * time.Second
	defaultModel   = "whisper-1"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout. This is the failover budget
// for the endpoint: exceeding it counts as a connection failure. Default 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithModel sets the default model used when a request leaves Model empty.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// Client implements stt.Transcriber for one OpenAI-compatible endpoint.
// Safe for concurrent use.
type Client struct {
	api     *openai.Client
	timeout time.Duration
	model   string
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*Client)(nil)

// New creates a Client for the endpoint at baseURL. apiKey may be empty for
// unauthenticated local endpoints.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("openaicompat: baseURL must not be empty")
	}
	c := &Client{
		timeout: defaultTimeout,
		model:   defaultModel,
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

// Transcribe uploads the utterance via POST /audio/transcriptions and maps
// the verbose-JSON response to a Transcript.
func (c *Client) Transcribe(ctx context.Context, req stt.TranscribeRequest) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("openaicompat: transcription request audio must not be empty")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	encoding := req.Encoding
	if encoding == "" {
		encoding = codec.EncodingWAV
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: "audio." + encoding.FileExt(),
		Reader:   bytes.NewReader(req.Audio),
		Language: req.Language,
		Prompt:   req.Prompt,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: POST /audio/transcriptions: %w", err)
	}

	t := &stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Duration: time.Duration(resp.Duration * float64(time.Second)),
	}
	for _, seg := range resp.Segments {
		t.Segments = append(t.Segments, stt.Segment{
			Text:  strings.TrimSpace(seg.Text),
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
		})
	}
	return t, nil
}
