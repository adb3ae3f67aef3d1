package voice

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/metrics"
)

// Transcriber converts one clip into a transcript. Implemented by the STT
// HTTP client; fakes implement it in tests.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *AudioClip) (Transcript, error)
}

// DispatcherConfig sizes the transcription worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Retries is the total number of STT attempts per clip before the clip
	// is dropped.
	Retries int
}

// speakerGate releases transcripts for one speaker strictly in clip
// sequence order, even when workers complete out of order. A nil pending
// entry marks a dropped clip so the gate still advances. Released
// transcripts go through outbox; the emitting flag keeps a single worker
// draining it so two workers can never emit a speaker's batches
// interleaved.
type speakerGate struct {
	next     uint64
	pending  map[uint64]*Transcript
	outbox   []Transcript
	emitting bool
}

// Dispatcher runs a bounded pool of transcription workers decoupled from
// frame ingestion by a queue. Submit never blocks.
type Dispatcher struct {
	cfg   DispatcherConfig
	stt   Transcriber
	queue chan *AudioClip

	mu    sync.Mutex
	gates map[string]*speakerGate

	out func(Transcript)
	// connected gates delivery: results that complete during a connection
	// outage are discarded rather than replayed.
	connected func() bool
}

func NewDispatcher(cfg DispatcherConfig, stt Transcriber, out func(Transcript), connected func() bool) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Dispatcher{
		cfg:       cfg,
		stt:       stt,
		queue:     make(chan *AudioClip, cfg.QueueSize),
		gates:     make(map[string]*speakerGate),
		out:       out,
		connected: connected,
	}
}

// Submit enqueues a finalized clip for transcription without blocking.
// Returns false when the queue is full and the clip was dropped.
// Clips for one speaker must be submitted in sequence order; the router's
// single run loop guarantees that.
func (d *Dispatcher) Submit(clip *AudioClip) bool {
	// Anchor the speaker's gate at the first submitted sequence so late or
	// dropped completions can never strand an earlier clip.
	d.ensureGate(clip.SpeakerID, clip.Seq)
	select {
	case d.queue <- clip:
		return true
	default:
		// Mark the sequence consumed so the ordering gate does not stall
		// behind a clip that will never be transcribed.
		d.deliver(clip.SpeakerID, clip.Seq, nil)
		metrics.TranscriptsDropped.Inc()
		logging.Warnw("dropping clip; transcription queue full", "clip_id", clip.ID, "speaker_id", clip.SpeakerID)
		return false
	}
}

// Run blocks until ctx is cancelled, processing clips with the configured
// number of workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case clip := <-d.queue:
					d.process(ctx, clip)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) process(ctx context.Context, clip *AudioClip) {
	var (
		t   Transcript
		err error
	)
	for attempt := 0; attempt < d.cfg.Retries; attempt++ {
		t, err = d.stt.Transcribe(ctx, clip)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		if attempt < d.cfg.Retries-1 {
			metrics.STTRetries.Inc()
			logging.Warnw("STT attempt failed; retrying", "clip_id", clip.ID, "attempt", attempt+1, "err", err)
		}
	}
	if err != nil {
		// Exhausted retries: drop the clip, advance the gate, keep going.
		d.deliver(clip.SpeakerID, clip.Seq, nil)
		metrics.TranscriptsDropped.Inc()
		logging.Errorw("dropping clip after exhausting STT retries", "clip_id", clip.ID, "speaker_id", clip.SpeakerID, "err", err)
		return
	}
	t.ClipID = clip.ID
	t.SpeakerID = clip.SpeakerID
	t.Seq = clip.Seq
	t.Start = clip.Start
	t.End = clip.End
	d.deliver(clip.SpeakerID, clip.Seq, &t)
}

func (d *Dispatcher) ensureGate(speakerID string, seq uint64) {
	d.mu.Lock()
	if _, ok := d.gates[speakerID]; !ok {
		d.gates[speakerID] = &speakerGate{next: seq, pending: make(map[uint64]*Transcript)}
	}
	d.mu.Unlock()
}

// deliver feeds the ordering gate and releases any transcripts that are now
// in sequence. A nil transcript consumes the slot without emitting.
// Released transcripts are appended to the gate's outbox under the lock;
// whichever worker finds the outbox idle drains it, so emission order
// matches gate order even when a second worker releases the next batch
// while the first is still mid-emit.
func (d *Dispatcher) deliver(speakerID string, seq uint64, t *Transcript) {
	d.mu.Lock()
	gate, ok := d.gates[speakerID]
	if !ok {
		gate = &speakerGate{next: seq, pending: make(map[uint64]*Transcript)}
		d.gates[speakerID] = gate
	}
	gate.pending[seq] = t
	for {
		pt, ok := gate.pending[gate.next]
		if !ok {
			break
		}
		delete(gate.pending, gate.next)
		gate.next++
		if pt != nil {
			gate.outbox = append(gate.outbox, *pt)
		}
	}
	if gate.emitting {
		d.mu.Unlock()
		return
	}
	gate.emitting = true
	for len(gate.outbox) > 0 {
		batch := gate.outbox
		gate.outbox = nil
		d.mu.Unlock()
		for _, tr := range batch {
			if d.connected != nil && !d.connected() {
				metrics.TranscriptsDropped.Inc()
				logging.Debugw("discarding transcript; connection not live", "clip_id", tr.ClipID)
				continue
			}
			metrics.TranscriptsProduced.Inc()
			d.out(tr)
		}
		d.mu.Lock()
	}
	gate.emitting = false
	d.mu.Unlock()
}
