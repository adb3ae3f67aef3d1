package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/discord-phrase-bot/internal/config"
	"github.com/discord-phrase-bot/internal/voice"
)

func TestNewEngineUnknownNameFails(t *testing.T) {
	_, err := NewEngine(config.TTSConfig{Engine: "espeak"})
	if err == nil {
		t.Fatal("unknown engine must fail construction")
	}
}

func TestNewEngineVariants(t *testing.T) {
	if _, err := NewEngine(config.TTSConfig{Engine: "http", HTTP: config.HTTPTTSConfig{URL: "http://tts"}}); err != nil {
		t.Fatalf("http engine: %v", err)
	}
	if _, err := NewEngine(config.TTSConfig{Engine: "piper", Piper: config.PiperConfig{ExecutablePath: "/usr/bin/piper", ModelPath: "m.onnx"}}); err != nil {
		t.Fatalf("piper engine: %v", err)
	}
}

func TestHTTPEngineSynthesize(t *testing.T) {
	wav := voice.BuildWAV([]int16{10, 20, 30, 40}, 22050, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		w.Write(wav)
	}))
	defer ts.Close()

	e := newHTTPEngine(config.HTTPTTSConfig{URL: ts.URL, AuthToken: "tok"})
	pcm, rate, err := e.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != 22050 || len(pcm) != 4 {
		t.Fatalf("rate=%d len=%d", rate, len(pcm))
	}
}

func TestHTTPEngineReadsStreamedBody(t *testing.T) {
	// real synthesis services flush the headers and stream the audio after;
	// the whole body must arrive intact
	wav := voice.BuildWAV(make([]int16, 2000), 22050, 1)
	half := len(wav) / 2
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		f.Flush()
		time.Sleep(30 * time.Millisecond)
		w.Write(wav[:half])
		f.Flush()
		time.Sleep(30 * time.Millisecond)
		w.Write(wav[half:])
	}))
	defer ts.Close()

	e := newHTTPEngine(config.HTTPTTSConfig{URL: ts.URL})
	pcm, rate, err := e.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != 22050 || len(pcm) != 2000 {
		t.Fatalf("rate=%d len=%d, want full streamed body", rate, len(pcm))
	}
}

func TestHTTPEngineNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", 500)
	}))
	defer ts.Close()

	e := newHTTPEngine(config.HTTPTTSConfig{URL: ts.URL})
	if _, _, err := e.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestHTTPEngineRejectsNonWAVBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>error page pretending to be ok</html>"))
	}))
	defer ts.Close()

	e := newHTTPEngine(config.HTTPTTSConfig{URL: ts.URL})
	if _, _, err := e.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-WAV body")
	}
}
