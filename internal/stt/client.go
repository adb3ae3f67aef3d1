package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/voice"
)

// Config carries the STT service endpoint and decode parameters. The decode
// parameters ride on the query string, matching the whisper HTTP server's
// convention.
type Config struct {
	URL               string
	Language          string
	BeamSize          int
	VADFilter         bool
	RepetitionPenalty float64
	InitialPrompt     string
	Timeout           time.Duration
}

// Client posts WAV-wrapped clips to the STT service. One attempt per call;
// the transcription dispatcher owns retry policy.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// New builds the client, baking the decode parameters into the endpoint URL
// once up front.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("stt: parse url: %w", err)
	}
	q := u.Query()
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(cfg.BeamSize))
	}
	if cfg.VADFilter {
		q.Set("vad_filter", "1")
	}
	if cfg.RepetitionPenalty > 0 {
		q.Set("repetition_penalty", strconv.FormatFloat(cfg.RepetitionPenalty, 'f', -1, 64))
	}
	if cfg.InitialPrompt != "" {
		q.Set("initial_prompt", cfg.InitialPrompt)
	}
	u.RawQuery = q.Encode()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: u.String(),
		timeout:  timeout,
		http:     &http.Client{},
	}, nil
}

type sttResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcribe posts one clip and returns its transcript. Implements
// voice.Transcriber.
func (c *Client) Transcribe(ctx context.Context, clip *voice.AudioClip) (voice.Transcript, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wav := voice.BuildWAV(clip.Samples, clip.SampleRate, 1)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(wav))
	if err != nil {
		return voice.Transcript{}, err
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("X-Correlation-ID", clip.ID)

	sendTs := time.Now()
	logging.Debugw("sending clip to STT",
		"clip_id", clip.ID, "bytes", len(wav), "duration_ms", clip.Duration().Milliseconds())

	resp, err := c.http.Do(req)
	if err != nil {
		return voice.Transcript{}, fmt.Errorf("stt: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return voice.Transcript{}, fmt.Errorf("stt: status %d", resp.StatusCode)
	}
	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return voice.Transcript{}, fmt.Errorf("stt: decode response: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	logging.Infow("STT response received",
		"clip_id", clip.ID, "status", resp.StatusCode,
		"stt_latency_ms", time.Since(sendTs).Milliseconds(), "chars", len(text))

	return voice.Transcript{Text: text, Confidence: out.Confidence}, nil
}
