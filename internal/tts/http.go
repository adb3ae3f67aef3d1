package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/discord-phrase-bot/internal/config"
	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/voice"
)

// httpEngine posts {"text": ...} to a synthesis service and parses the WAV
// response.
type httpEngine struct {
	url       string
	authToken string
	timeoutMs int
	client    *http.Client
}

func newHTTPEngine(cfg config.HTTPTTSConfig) *httpEngine {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	return &httpEngine{
		url:       cfg.URL,
		authToken: cfg.AuthToken,
		timeoutMs: timeoutMs,
		client:    &http.Client{},
	}
}

func (e *httpEngine) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	body, _ := json.Marshal(map[string]string{"text": text})
	status, audio, err := postWithRetries(ctx, e.client, e.url, body, e.authToken, e.timeoutMs, 2)
	if err != nil {
		return nil, 0, err
	}
	if status >= 300 {
		logging.Warnw("tts: returned non-2xx", "status", status)
		return nil, 0, fmt.Errorf("tts returned status %d", status)
	}
	pcm, rate, err := voice.ParseWAV(audio)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: bad audio response: %w", err)
	}
	return pcm, rate, nil
}

// postWithRetries posts JSON to url with retry/backoff and returns the
// response status and fully read body. The body is read inside each
// attempt while the per-request timeout context is still alive, so
// responses streamed after the headers are consumed completely.
func postWithRetries(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeoutMs int, attempts int) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		status, respBody, err := postOnce(ctx, client, url, body, authToken, timeoutMs)
		if err == nil {
			return status, respBody, nil
		}
		lastErr = err
		logging.Debugw("tts: POST attempt failed", "attempt", i+1, "err", err)
		if i < attempts-1 && ctx.Err() == nil {
			time.Sleep(time.Duration(200*(1<<i)) * time.Millisecond)
		}
	}
	return 0, nil, lastErr
}

func postOnce(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeoutMs int) (int, []byte, error) {
	ctxReq, cancelReq := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancelReq()
	req, err := http.NewRequestWithContext(ctxReq, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
