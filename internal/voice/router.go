package voice

import (
	"context"
	"time"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/metrics"
)

// RouterConfig sizes the router's ingest queue and configures the
// per-speaker segmenters it creates.
type RouterConfig struct {
	QueueSize   int
	Segmenter   SegmenterConfig
	IdleSession time.Duration
}

// SpeakerSession is the per-speaker state owned by the router. Sessions are
// created on first sight of a speaker and torn down on leave or after the
// idle threshold. Only the router's run loop touches them, so there is no
// cross-speaker locking.
type SpeakerSession struct {
	ID        string
	Segmenter *Segmenter
	CreatedAt time.Time
}

type routedFrame struct {
	speakerID string
	pcm       []int16
}

// Router demultiplexes the incoming frame stream by speaker and feeds each
// speaker's segmenter. Route never blocks: frames are copied onto a bounded
// queue and dropped with a counter bump when the queue is full.
type Router struct {
	cfg      RouterConfig
	frames   chan routedFrame
	leaves   chan string
	sessions map[string]*SpeakerSession
	// seqs preserves per-speaker clip sequence numbers across session
	// teardown so the dispatcher's ordering gate never sees a number reused.
	seqs map[string]uint64
	emit func(*AudioClip)
	// connected gates ingestion on the supervisor's state; nil means
	// always ingest.
	connected func() bool
	now       func() time.Time
}

// NewRouter creates a router that hands finalized clips to emit. The emit
// callback must not block (the dispatcher's Submit satisfies this).
func NewRouter(cfg RouterConfig, emit func(*AudioClip), connected func() bool) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.IdleSession <= 0 {
		cfg.IdleSession = 5 * time.Minute
	}
	return &Router{
		cfg:       cfg,
		frames:    make(chan routedFrame, cfg.QueueSize),
		leaves:    make(chan string, 16),
		sessions:  make(map[string]*SpeakerSession),
		seqs:      make(map[string]uint64),
		emit:      emit,
		connected: connected,
		now:       time.Now,
	}
}

// Route accepts one decoded mono frame for a speaker. Never blocks; frames
// are dropped when ingestion is suspended or the queue is full.
func (r *Router) Route(speakerID string, pcm []int16) {
	if r.connected != nil && !r.connected() {
		metrics.FramesDropped.Inc()
		return
	}
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	select {
	case r.frames <- routedFrame{speakerID: speakerID, pcm: cp}:
		metrics.FramesRouted.Inc()
	default:
		metrics.FramesDropped.Inc()
		logging.Warnw("dropping frame; router queue full", "speaker_id", speakerID)
	}
}

// SpeakerLeave schedules teardown of the speaker's session. Pending buffered
// audio is discarded, never emitted.
func (r *Router) SpeakerLeave(speakerID string) {
	select {
	case r.leaves <- speakerID:
	default:
		// leave queue full; the idle reaper will collect the session
		logging.Warnw("leave queue full; deferring session teardown", "speaker_id", speakerID)
	}
}

// Run drives the router until ctx is cancelled. It owns the session map:
// frame routing, leave handling, time-based finalization, and idle reaping
// all happen on this goroutine.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-r.frames:
			sess := r.session(f.speakerID)
			if clip := sess.Segmenter.Feed(f.pcm); clip != nil {
				r.emit(clip)
			}
		case id := <-r.leaves:
			if id != "" {
				r.teardown(id, "speaker session destroyed")
			}
		case <-ticker.C:
			now := r.now()
			for id, sess := range r.sessions {
				if clip := sess.Segmenter.Tick(now); clip != nil {
					r.emit(clip)
				}
				last := sess.Segmenter.LastActivity()
				if !last.IsZero() && now.Sub(last) >= r.cfg.IdleSession {
					r.teardown(id, "reaped idle speaker session")
				}
			}
		}
	}
}

// teardown discards the session's buffered audio and saves its sequence
// counter so a recreated session keeps numbering where it left off.
func (r *Router) teardown(speakerID, reason string) {
	sess, ok := r.sessions[speakerID]
	if !ok {
		return
	}
	r.seqs[speakerID] = sess.Segmenter.seq
	sess.Segmenter.Discard()
	delete(r.sessions, speakerID)
	logging.Infow(reason, "speaker_id", speakerID)
}

func (r *Router) session(speakerID string) *SpeakerSession {
	sess, ok := r.sessions[speakerID]
	if !ok {
		sess = &SpeakerSession{
			ID:        speakerID,
			Segmenter: NewSegmenter(speakerID, r.cfg.Segmenter, r.now),
			CreatedAt: r.now(),
		}
		sess.Segmenter.seq = r.seqs[speakerID]
		r.sessions[speakerID] = sess
		logging.Infow("speaker session created", "speaker_id", speakerID)
	}
	return sess
}
