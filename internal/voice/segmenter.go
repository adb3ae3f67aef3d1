package voice

import (
	"time"

	"github.com/google/uuid"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/metrics"
)

type segState int

const (
	segIdle segState = iota
	segBuffering
)

// SegmenterConfig carries the audio thresholds for utterance detection.
type SegmenterConfig struct {
	SampleRate      int           // capture rate of incoming frames
	TargetRate      int           // rate clips are resampled to for STT
	MinClip         time.Duration // clips shorter than this are noise
	MaxClip         time.Duration // forced finalization bound
	SilenceFinalize time.Duration // silence run that ends an utterance
	PrerollChunks   int           // frames retained before speech onset
	VADThreshold    int           // RMS speech threshold
}

// Segmenter is the per-speaker utterance state machine: idle -> buffering ->
// finalize -> idle. It is owned by exactly one speaker session and driven
// from a single goroutine, so it needs no locking.
type Segmenter struct {
	speakerID string
	cfg       SegmenterConfig
	vad       *RMSVAD

	state        segState
	preroll      [][]int16
	chunks       [][]int16
	sampleCount  int
	silenceSince time.Time
	lastFrame    time.Time
	started      time.Time
	seq          uint64

	now func() time.Time
}

// NewSegmenter creates a segmenter for one speaker. now is injectable for
// deterministic tests; pass nil for time.Now.
func NewSegmenter(speakerID string, cfg SegmenterConfig, now func() time.Time) *Segmenter {
	if now == nil {
		now = time.Now
	}
	return &Segmenter{
		speakerID: speakerID,
		cfg:       cfg,
		vad:       NewRMSVAD(cfg.VADThreshold),
		now:       now,
	}
}

// Feed consumes one mono PCM frame at the capture rate. It returns a
// finalized clip when this frame completed an utterance, else nil. Feed
// retains the slice; callers must not reuse it.
func (s *Segmenter) Feed(frame []int16) *AudioClip {
	now := s.now()
	s.lastFrame = now
	speech := s.vad.IsSpeech(frame)

	switch s.state {
	case segIdle:
		s.pushPreroll(frame)
		if !speech {
			return nil
		}
		// Speech onset: seed the clip with the pre-roll window so the first
		// word is not clipped.
		s.state = segBuffering
		s.chunks = s.chunks[:0]
		s.sampleCount = 0
		for _, p := range s.preroll {
			s.chunks = append(s.chunks, p)
			s.sampleCount += len(p)
		}
		s.started = now.Add(-s.samplesDuration(s.sampleCount))
		s.silenceSince = time.Time{}
		logging.Debugw("utterance started", "speaker_id", s.speakerID, "preroll_chunks", len(s.preroll))
		return nil

	case segBuffering:
		s.pushPreroll(frame)
		s.chunks = append(s.chunks, frame)
		s.sampleCount += len(frame)
		if speech {
			s.silenceSince = time.Time{}
		} else if s.silenceSince.IsZero() {
			s.silenceSince = now
		}
		if s.samplesDuration(s.sampleCount) >= s.cfg.MaxClip {
			logging.Warnw("utterance hit max duration; forcing finalization", "speaker_id", s.speakerID)
			return s.finalize(now)
		}
		if !s.silenceSince.IsZero() && now.Sub(s.silenceSince) >= s.cfg.SilenceFinalize {
			return s.finalize(now)
		}
	}
	return nil
}

// Tick handles the case where frames stop arriving entirely (the transport
// suppresses silence). Called periodically by the router.
func (s *Segmenter) Tick(now time.Time) *AudioClip {
	if s.state != segBuffering {
		return nil
	}
	if !s.lastFrame.IsZero() && now.Sub(s.lastFrame) >= s.cfg.SilenceFinalize {
		return s.finalize(now)
	}
	if !s.silenceSince.IsZero() && now.Sub(s.silenceSince) >= s.cfg.SilenceFinalize {
		return s.finalize(now)
	}
	return nil
}

// Discard drops all buffered state without emitting anything. Used on
// speaker leave.
func (s *Segmenter) Discard() {
	s.state = segIdle
	s.chunks = nil
	s.sampleCount = 0
	s.preroll = nil
	s.silenceSince = time.Time{}
	s.vad.Reset()
}

// LastActivity reports when this segmenter last saw a frame, for idle
// session reaping.
func (s *Segmenter) LastActivity() time.Time { return s.lastFrame }

func (s *Segmenter) finalize(now time.Time) *AudioClip {
	dur := s.samplesDuration(s.sampleCount)
	chunks := s.chunks
	count := s.sampleCount
	started := s.started

	s.state = segIdle
	s.chunks = nil
	s.sampleCount = 0
	s.silenceSince = time.Time{}
	s.vad.Reset()

	if dur < s.cfg.MinClip {
		metrics.ClipsDiscarded.Inc()
		logging.Debugw("discarding short clip as noise", "speaker_id", s.speakerID, "duration_ms", dur.Milliseconds())
		return nil
	}

	pcm := make([]int16, 0, count)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	var resampled []int16
	if s.cfg.SampleRate == s.cfg.TargetRate*3 {
		resampled = Decimate48to16(pcm)
	} else {
		resampled = ResampleLinear(pcm, s.cfg.SampleRate, s.cfg.TargetRate)
	}

	clip := &AudioClip{
		ID:         uuid.NewString(),
		SpeakerID:  s.speakerID,
		Seq:        s.seq,
		Samples:    resampled,
		SampleRate: s.cfg.TargetRate,
		Start:      started,
		End:        now,
	}
	s.seq++
	metrics.ClipsFinalized.Inc()
	logging.Infow("clip finalized", logging.ClipFields(clip.ID, len(resampled), int(dur.Milliseconds()))...)
	return clip
}

func (s *Segmenter) pushPreroll(frame []int16) {
	if s.cfg.PrerollChunks <= 0 {
		return
	}
	s.preroll = append(s.preroll, frame)
	if len(s.preroll) > s.cfg.PrerollChunks {
		s.preroll = s.preroll[len(s.preroll)-s.cfg.PrerollChunks:]
	}
}

func (s *Segmenter) samplesDuration(n int) time.Duration {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(s.cfg.SampleRate)
}
