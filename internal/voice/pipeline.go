package voice

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/discord-phrase-bot/internal/logging"
)

// Responder renders the spoken response for a trigger event. Implemented by
// the response generator; always returns some text, never an error.
type Responder interface {
	Respond(ctx context.Context, ev *TriggerEvent) string
}

// PipelineObserver receives pipeline events for out-of-band consumers such
// as the ops event feed. Callbacks must not block.
type PipelineObserver interface {
	ObserveTranscript(t Transcript)
	ObserveTrigger(ev TriggerEvent)
}

// PipelineDeps are the stage implementations the pipeline wires together.
type PipelineDeps struct {
	Router     *Router
	Dispatcher *Dispatcher
	Matcher    *Matcher
	Responder  Responder
	Sequencer  *Sequencer
	// Sink is optional; when set, finalized clips are dumped for debugging.
	Sink *ClipSink
	// Observer is optional.
	Observer PipelineObserver
}

// Pipeline connects transport frames to response playback. It implements
// Handler so the transport can deliver events directly, and it owns the
// goroutine that renders responses so slow completion calls never stall
// transcription workers.
type Pipeline struct {
	deps     PipelineDeps
	triggers chan TriggerEvent
	// notifyDrop forwards transport disconnects to the supervisor.
	notifyDrop func(err error)
}

func NewPipeline(deps PipelineDeps, notifyDrop func(err error)) *Pipeline {
	return &Pipeline{
		deps:       deps,
		triggers:   make(chan TriggerEvent, 16),
		notifyDrop: notifyDrop,
	}
}

// OnFrame implements Handler.
func (p *Pipeline) OnFrame(speakerID string, pcm []int16) {
	p.deps.Router.Route(speakerID, pcm)
}

// OnSpeakerLeave implements Handler.
func (p *Pipeline) OnSpeakerLeave(speakerID string) {
	p.deps.Router.SpeakerLeave(speakerID)
}

// OnDisconnect implements Handler.
func (p *Pipeline) OnDisconnect(err error) {
	if p.notifyDrop != nil {
		p.notifyDrop(err)
	}
}

// HandleClip is the router's emit target: dump if debugging, then hand to
// the transcription dispatcher.
func (p *Pipeline) HandleClip(clip *AudioClip) {
	if p.deps.Sink != nil {
		p.deps.Sink.Save(clip)
	}
	p.deps.Dispatcher.Submit(clip)
}

// HandleTranscript is the dispatcher's output target: match and, on a live
// match, queue the trigger for response rendering.
func (p *Pipeline) HandleTranscript(t Transcript) {
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveTranscript(t)
	}
	ev := p.deps.Matcher.Match(t)
	if ev == nil {
		return
	}
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveTrigger(*ev)
	}
	if ev.Suppressed {
		return
	}
	select {
	case p.triggers <- *ev:
	default:
		logging.Warnw("dropping trigger; response queue full", "phrase", ev.Phrase)
	}
}

// Run starts the router, dispatcher, and the response worker, blocking
// until ctx is cancelled or a stage fails.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.deps.Router.Run(ctx) })
	g.Go(func() error { return p.deps.Dispatcher.Run(ctx) })
	g.Go(func() error { return p.deps.Sequencer.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-p.triggers:
				text := p.deps.Responder.Respond(ctx, &ev)
				if text != "" {
					p.deps.Sequencer.Enqueue(text)
				}
			}
		}
	})
	return g.Wait()
}
