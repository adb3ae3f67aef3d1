package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeTranscriber struct {
	mu sync.Mutex
	// failures holds the number of attempts that must fail per clip ID.
	failures map[string]int
	calls    int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, clip *AudioClip) (Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if n := f.failures[clip.ID]; n > 0 {
		f.failures[clip.ID] = n - 1
		return Transcript{}, errors.New("stt unavailable")
	}
	return Transcript{Text: "text for " + clip.ID}, nil
}

func newTestDispatcher(stt Transcriber, out func(Transcript)) *Dispatcher {
	return NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 4, Retries: 3}, stt, out, nil)
}

func TestDispatcherReleasesTranscriptsInSequence(t *testing.T) {
	var got []uint64
	d := newTestDispatcher(nil, func(tr Transcript) { got = append(got, tr.Seq) })

	// workers finish out of order: seq 2, then 1, then 0
	d.deliver("u1", 2, &Transcript{SpeakerID: "u1", Seq: 2})
	d.deliver("u1", 1, &Transcript{SpeakerID: "u1", Seq: 1})
	if len(got) != 0 {
		t.Fatalf("released early: %v", got)
	}
	d.deliver("u1", 0, &Transcript{SpeakerID: "u1", Seq: 0})
	if len(got) != 3 {
		t.Fatalf("released %d transcripts, want 3", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i) {
			t.Fatalf("release order %v, want ascending from 0", got)
		}
	}
}

func TestDispatcherGateIsPerSpeaker(t *testing.T) {
	var got []string
	d := newTestDispatcher(nil, func(tr Transcript) { got = append(got, tr.SpeakerID) })

	// u2's seq 0 must not wait on u1's missing seq 0
	d.deliver("u1", 1, &Transcript{SpeakerID: "u1", Seq: 1})
	d.deliver("u2", 0, &Transcript{SpeakerID: "u2", Seq: 0})
	if len(got) != 1 || got[0] != "u2" {
		t.Fatalf("got %v, want just u2", got)
	}
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	clip := &AudioClip{ID: "c1", SpeakerID: "u1", Seq: 0}
	stt := &fakeTranscriber{failures: map[string]int{"c1": 2}}
	var got []Transcript
	d := newTestDispatcher(stt, func(tr Transcript) { got = append(got, tr) })

	d.process(context.Background(), clip)
	if stt.calls != 3 {
		t.Fatalf("attempts = %d, want 3", stt.calls)
	}
	if len(got) != 1 || got[0].Text != "text for c1" {
		t.Fatalf("got %v", got)
	}
	if got[0].ClipID != "c1" || got[0].Seq != 0 {
		t.Fatalf("transcript not stamped with clip identity: %+v", got[0])
	}
}

func TestDispatcherDropsClipAfterExhaustedRetries(t *testing.T) {
	stt := &fakeTranscriber{failures: map[string]int{"c1": 10}}
	var got []Transcript
	d := newTestDispatcher(stt, func(tr Transcript) { got = append(got, tr) })

	d.process(context.Background(), &AudioClip{ID: "c1", SpeakerID: "u1", Seq: 0})
	if stt.calls != 3 {
		t.Fatalf("attempts = %d, want 3", stt.calls)
	}
	if len(got) != 0 {
		t.Fatalf("dropped clip must not produce a transcript: %v", got)
	}

	// the gate advanced past the dropped clip, so the next clip releases
	d.process(context.Background(), &AudioClip{ID: "c2", SpeakerID: "u1", Seq: 1})
	if len(got) != 1 || got[0].ClipID != "c2" {
		t.Fatalf("got %v, want c2 released", got)
	}
}

func TestDispatcherSubmitNeverBlocks(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, Retries: 1}, &fakeTranscriber{}, func(Transcript) {}, nil)

	// no workers running; second submit overflows and is dropped
	if !d.Submit(&AudioClip{ID: "a", SpeakerID: "u1", Seq: 0}) {
		t.Fatal("first submit should be accepted")
	}
	if d.Submit(&AudioClip{ID: "b", SpeakerID: "u1", Seq: 1}) {
		t.Fatal("second submit should be dropped")
	}

	// process the queued clip; the dropped one's slot was already consumed,
	// so the gate ends past both
	var got []Transcript
	d.out = func(tr Transcript) { got = append(got, tr) }
	d.process(context.Background(), <-d.queue)
	if len(got) != 1 || got[0].ClipID != "a" {
		t.Fatalf("got %v, want just clip a", got)
	}
	d.mu.Lock()
	gate := d.gates["u1"]
	d.mu.Unlock()
	if gate.next != 2 {
		t.Fatalf("gate.next = %d, want 2", gate.next)
	}
}

type slowTranscriber struct {
	latency map[string]time.Duration
}

func (s *slowTranscriber) Transcribe(ctx context.Context, clip *AudioClip) (Transcript, error) {
	time.Sleep(s.latency[clip.ID])
	return Transcript{Text: clip.ID}, nil
}

func TestDispatcherOrderHoldsWithSlowDownstream(t *testing.T) {
	// seq 1 finishes first and parks; seq 0 releases the 0+1 batch and is
	// still emitting it when seq 2 completes and passes the gate. The second
	// worker must queue behind the first, never overtake it.
	stt := &slowTranscriber{latency: map[string]time.Duration{
		"c0": 50 * time.Millisecond,
		"c1": 5 * time.Millisecond,
		"c2": 70 * time.Millisecond,
	}}
	var mu sync.Mutex
	var got []uint64
	done := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 8, Retries: 1}, stt, func(tr Transcript) {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		got = append(got, tr.Seq)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 3; i++ {
		if !d.Submit(&AudioClip{ID: fmt.Sprintf("c%d", i), SpeakerID: "u1", Seq: uint64(i)}) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, seq := range got {
		if seq != uint64(i) {
			t.Fatalf("delivery order %v, want ascending from 0", got)
		}
	}
}

func TestDispatcherDiscardsResultsWhileDisconnected(t *testing.T) {
	var got []Transcript
	d := NewDispatcher(DispatcherConfig{}, &fakeTranscriber{}, func(tr Transcript) { got = append(got, tr) }, func() bool { return false })

	d.process(context.Background(), &AudioClip{ID: "c1", SpeakerID: "u1", Seq: 0})
	if len(got) != 0 {
		t.Fatalf("results during an outage must be discarded: %v", got)
	}
}

func TestDispatcherWorkersDrainQueue(t *testing.T) {
	stt := &fakeTranscriber{}
	out := make(chan Transcript, 16)
	d := newTestDispatcher(stt, func(tr Transcript) { out <- tr })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 4; i++ {
		d.Submit(&AudioClip{ID: fmt.Sprintf("c%d", i), SpeakerID: "u1", Seq: uint64(i)})
	}
	for i := 0; i < 4; i++ {
		tr := <-out
		if tr.Seq != uint64(i) {
			t.Fatalf("release order broken at %d: got seq %d", i, tr.Seq)
		}
	}
}
