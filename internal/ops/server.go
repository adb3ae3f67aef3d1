package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/voice"
)

const (
	writeTimeout = 5 * time.Second
	feedBuffer   = 64
)

// Event is one entry on the live feed.
type Event struct {
	Kind      string `json:"kind"` // "transcript" or "trigger"
	Timestamp string `json:"timestamp"`

	SpeakerID  string `json:"speaker_id,omitempty"`
	Text       string `json:"text,omitempty"`
	ClipID     string `json:"clip_id,omitempty"`
	Phrase     string `json:"phrase,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	Victim     string `json:"victim,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// Server exposes /metrics for scraping and /feed, a websocket stream of
// pipeline events for operator tooling. It implements
// voice.PipelineObserver.
type Server struct {
	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// ObserveTranscript implements voice.PipelineObserver. Never blocks.
func (s *Server) ObserveTranscript(t voice.Transcript) {
	s.broadcast(Event{
		Kind:      "transcript",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SpeakerID: t.SpeakerID,
		Text:      t.Text,
		ClipID:    t.ClipID,
	})
}

// ObserveTrigger implements voice.PipelineObserver. Never blocks.
func (s *Server) ObserveTrigger(ev voice.TriggerEvent) {
	s.broadcast(Event{
		Kind:       "trigger",
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SpeakerID:  ev.SpeakerID,
		Speaker:    ev.SpeakerName,
		Phrase:     ev.Phrase,
		Victim:     ev.VictimName,
		Suppressed: ev.Suppressed,
		Text:       ev.Transcript.Text,
		ClipID:     ev.Transcript.ClipID,
	})
}

func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			// slow consumer; drop the event for this client
			logging.Debugw("ops feed client lagging; event dropped", "remote", conn.RemoteAddr().String())
		}
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/feed", s.handleFeed)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.routes()}
	errCh := make(chan error, 1)
	go func() {
		logging.Infow("ops server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("ops feed upgrade failed", "err", err)
		return
	}
	ch := make(chan Event, feedBuffer)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()
	logging.Infow("ops feed client connected", "remote", conn.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// drain inbound frames so pings and close frames are processed; done
	// releases the writer when the peer goes away, even with no events
	// flowing
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logging.Debugw("ops feed client write failed", "err", err)
				return
			}
		}
	}
}
