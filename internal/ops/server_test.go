package ops

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discord-phrase-bot/internal/voice"
)

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == want {
			return
		}
		require.True(t, time.Now().Before(deadline), "client count never reached %d", want)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedBroadcastsEvents(t *testing.T) {
	s := NewServer(":0")
	feed := httptest.NewServer(s.routes())
	defer feed.Close()

	url := "ws" + strings.TrimPrefix(feed.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, s, 1)

	s.ObserveTranscript(voice.Transcript{SpeakerID: "u1", Text: "hello", ClipID: "c1"})
	s.ObserveTrigger(voice.TriggerEvent{
		Phrase:      "hot take",
		SpeakerID:   "u1",
		SpeakerName: "Alice",
		VictimName:  "Charlie",
		Suppressed:  true,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "transcript", ev.Kind)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, "c1", ev.ClipID)

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "trigger", ev.Kind)
	assert.Equal(t, "hot take", ev.Phrase)
	assert.Equal(t, "Alice", ev.Speaker)
	assert.True(t, ev.Suppressed)
}

func TestFeedRemovesClientOnDisconnect(t *testing.T) {
	s := NewServer(":0")
	feed := httptest.NewServer(s.routes())
	defer feed.Close()

	url := "ws" + strings.TrimPrefix(feed.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	waitForClients(t, s, 1)

	// the handler must deregister without waiting for a broadcast to fail
	conn.Close()
	waitForClients(t, s, 0)
}
