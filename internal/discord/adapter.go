package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-phrase-bot/internal/config"
	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/voice"
)

const (
	sampleRate = 48000
	frameSize  = 960 // 20 ms at 48 kHz
)

// Adapter implements voice.Transport on top of discordgo and opus. It owns
// the gateway session and the voice connection; the supervisor drives
// Connect/Disconnect.
type Adapter struct {
	cfg     config.DiscordConfig
	session *discordgo.Session

	mu      sync.Mutex
	vc      *discordgo.VoiceConnection
	handler voice.Handler
	// ssrcUsers maps the RTP source id to the Discord user id announced in
	// speaking updates.
	ssrcUsers map[uint32]string
	decoders  map[uint32]*opus.Decoder
	encoder   *opus.Encoder
	resolver  *Resolver
	closed    chan struct{}
	opened    bool
}

func NewAdapter(cfg config.DiscordConfig) (*Adapter, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}

	a := &Adapter{
		cfg:       cfg,
		session:   dg,
		ssrcUsers: make(map[uint32]string),
		decoders:  make(map[uint32]*opus.Decoder),
		encoder:   enc,
	}
	a.resolver = NewResolver(dg)

	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		a.handleVoiceState(vs)
	})
	return a, nil
}

// SetHandler implements voice.Transport. Must be called before Connect.
func (a *Adapter) SetHandler(h voice.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Resolver exposes the name cache for components that log display names.
func (a *Adapter) Resolver() *Resolver { return a.resolver }

// Connect opens the gateway session if needed and joins the configured
// voice channel. Implements voice.Transport.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	opened := a.opened
	a.mu.Unlock()
	if !opened {
		if err := a.session.Open(); err != nil {
			return fmt.Errorf("discord: open session: %w", err)
		}
		a.mu.Lock()
		a.opened = true
		a.mu.Unlock()
	}
	vc, err := a.session.ChannelVoiceJoin(a.cfg.GuildID, a.cfg.VoiceChannelID, false, false)
	if err != nil {
		return fmt.Errorf("discord: voice join: %w", err)
	}

	a.mu.Lock()
	a.vc = vc
	a.closed = make(chan struct{})
	closed := a.closed
	a.mu.Unlock()

	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		a.mu.Lock()
		a.ssrcUsers[uint32(su.SSRC)] = su.UserID
		a.mu.Unlock()
		logging.Debugw("speaking update",
			"user_id", su.UserID, "user", a.resolver.UserName(su.UserID), "ssrc", su.SSRC, "speaking", su.Speaking)
	})

	go a.recvLoop(vc, closed)
	logging.Infow("voice channel joined",
		"guild", a.cfg.GuildID, "channel", a.cfg.VoiceChannelID, "channel_name", a.resolver.ChannelName(a.cfg.VoiceChannelID))
	return nil
}

// Disconnect leaves the voice channel. The gateway session stays open so a
// reconnect does not re-identify. Implements voice.Transport.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	vc := a.vc
	a.vc = nil
	if a.closed != nil {
		close(a.closed)
		a.closed = nil
	}
	a.mu.Unlock()
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

// Close tears down the gateway session entirely.
func (a *Adapter) Close() error {
	_ = a.Disconnect()
	return a.session.Close()
}

// SendPlaybackFrame encodes one 20 ms mono frame and queues it on the voice
// connection. Implements voice.Transport.
func (a *Adapter) SendPlaybackFrame(pcm []int16) error {
	a.mu.Lock()
	vc := a.vc
	a.mu.Unlock()
	if vc == nil {
		return fmt.Errorf("discord: not connected")
	}
	if len(pcm) != frameSize {
		return fmt.Errorf("discord: playback frame must be %d samples, got %d", frameSize, len(pcm))
	}
	buf := make([]byte, 4000)
	n, err := a.encoder.Encode(pcm, buf)
	if err != nil {
		return fmt.Errorf("discord: opus encode: %w", err)
	}
	if !vc.Ready {
		return fmt.Errorf("discord: voice connection not ready")
	}
	vc.OpusSend <- buf[:n]
	return nil
}

// recvLoop decodes inbound opus packets and delivers mono PCM frames to the
// handler until the voice connection drops.
func (a *Adapter) recvLoop(vc *discordgo.VoiceConnection, closed chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				a.mu.Lock()
				h := a.handler
				a.mu.Unlock()
				if h != nil {
					h.OnDisconnect(fmt.Errorf("discord: opus receive channel closed"))
				}
				return
			}
			a.handlePacket(pkt)
		}
	}
}

func (a *Adapter) handlePacket(pkt *discordgo.Packet) {
	a.mu.Lock()
	dec, ok := a.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(sampleRate, 1)
		if err != nil {
			a.mu.Unlock()
			logging.Errorw("opus decoder create failed", "ssrc", pkt.SSRC, "err", err)
			return
		}
		a.decoders[pkt.SSRC] = dec
	}
	userID := a.ssrcUsers[pkt.SSRC]
	h := a.handler
	a.mu.Unlock()

	if userID == "" || h == nil {
		// no speaking update seen yet for this ssrc; nothing to attribute
		// the audio to
		return
	}

	pcm := make([]int16, frameSize)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Errorw("opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}
	h.OnFrame(userID, pcm[:n])
}

// handleVoiceState watches for users leaving the monitored channel and
// notifies the handler so their buffered audio is discarded.
func (a *Adapter) handleVoiceState(vs *discordgo.VoiceStateUpdate) {
	if vs.GuildID != a.cfg.GuildID {
		return
	}
	if vs.ChannelID == a.cfg.VoiceChannelID {
		return // joined or updated inside the channel
	}
	if vs.BeforeUpdate == nil || vs.BeforeUpdate.ChannelID != a.cfg.VoiceChannelID {
		return
	}
	a.mu.Lock()
	h := a.handler
	for ssrc, uid := range a.ssrcUsers {
		if uid == vs.UserID {
			delete(a.ssrcUsers, ssrc)
			delete(a.decoders, ssrc)
		}
	}
	a.mu.Unlock()
	if h != nil {
		h.OnSpeakerLeave(vs.UserID)
	}
	logging.Infow("speaker left voice channel", "user_id", vs.UserID, "user", a.resolver.UserName(vs.UserID))
}
