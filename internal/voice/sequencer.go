package voice

import (
	"context"
	"time"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/metrics"
)

// Synthesizer turns response text into PCM. Implemented by the TTS engines;
// fakes implement it in tests.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (pcm []int16, sampleRate int, err error)
}

// FrameSender delivers one outbound 48 kHz mono frame to the voice channel.
type FrameSender interface {
	SendPlaybackFrame(pcm []int16) error
}

const (
	playbackRate      = 48000
	playbackFrameSize = 960 // 20 ms at 48 kHz
)

// SequencerConfig sizes the playback queue.
type SequencerConfig struct {
	QueueSize int
}

// Sequencer serializes response playback: jobs are synthesized and streamed
// one at a time, in enqueue order, never overlapping. Enqueue never blocks.
type Sequencer struct {
	tts    Synthesizer
	sender FrameSender
	queue  chan string
	// connected gates playback; audio synthesized during an outage is
	// discarded rather than played late.
	connected func() bool
	// pace sleeps one frame interval between sends. Injectable so tests run
	// without real-time delays.
	pace func()
}

func NewSequencer(cfg SequencerConfig, tts Synthesizer, sender FrameSender, connected func() bool) *Sequencer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Sequencer{
		tts:       tts,
		sender:    sender,
		queue:     make(chan string, cfg.QueueSize),
		connected: connected,
		pace:      func() { time.Sleep(20 * time.Millisecond) },
	}
}

// Enqueue appends a response for playback. Returns false when the queue is
// full and the response was dropped.
func (s *Sequencer) Enqueue(text string) bool {
	if text == "" {
		return false
	}
	select {
	case s.queue <- text:
		metrics.PlaybackJobs.Inc()
		return true
	default:
		metrics.PlaybackDropped.Inc()
		logging.Warnw("dropping response; playback queue full")
		return false
	}
}

// Run drains the queue until ctx is cancelled. A single goroutine owns the
// whole synthesize-and-stream cycle, which is what guarantees jobs never
// overlap.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-s.queue:
			s.play(ctx, text)
		}
	}
}

func (s *Sequencer) play(ctx context.Context, text string) {
	pcm, rate, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		metrics.PlaybackDropped.Inc()
		logging.Errorw("dropping response; synthesis failed", "err", err)
		return
	}
	if s.connected != nil && !s.connected() {
		metrics.PlaybackDropped.Inc()
		logging.Infow("dropping response; connection not live")
		return
	}
	if rate != playbackRate {
		pcm = ResampleLinear(pcm, rate, playbackRate)
	}
	for off := 0; off < len(pcm); off += playbackFrameSize {
		if ctx.Err() != nil {
			return
		}
		end := off + playbackFrameSize
		frame := make([]int16, playbackFrameSize)
		if end > len(pcm) {
			// final partial frame, zero padded
			copy(frame, pcm[off:])
		} else {
			copy(frame, pcm[off:end])
		}
		if err := s.sender.SendPlaybackFrame(frame); err != nil {
			metrics.PlaybackDropped.Inc()
			logging.Errorw("aborting response; playback send failed", "err", err)
			return
		}
		s.pace()
	}
	logging.Debugw("response playback complete", "samples", len(pcm))
}
