package voice

// ConnectionState describes the supervisor-owned lifecycle of the upstream
// voice connection. Other components observe it but never mutate it.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateBackingOff
	StateExhausted
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing_off"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Handler receives decoded audio and lifecycle events from a Transport.
// Implementations must treat OnFrame as latency-sensitive: it is called on
// the transport's receive path and must never block.
type Handler interface {
	// OnFrame delivers one decoded mono PCM frame for a speaker.
	OnFrame(speakerID string, pcm []int16)
	// OnSpeakerLeave signals that a speaker left the call; any buffered
	// audio for them should be discarded.
	OnSpeakerLeave(speakerID string)
	// OnDisconnect signals that the transport lost its connection. err is
	// nil for an orderly shutdown.
	OnDisconnect(err error)
}

// Transport abstracts the voice platform gateway. The production
// implementation lives in internal/discord; tests use synthetic feeders.
type Transport interface {
	// Connect establishes the voice connection and begins delivering events
	// to the handler registered via SetHandler. It returns once the
	// connection is live or with an error.
	Connect() error
	// Disconnect tears the connection down. Safe to call when already
	// disconnected.
	Disconnect() error
	// SendPlaybackFrame streams one mono 48 kHz PCM frame to the outbound
	// voice channel. It may block to pace playback.
	SendPlaybackFrame(pcm []int16) error
	// SetHandler registers the event sink. Must be called before Connect.
	SetHandler(h Handler)
}
