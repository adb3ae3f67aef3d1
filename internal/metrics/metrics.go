// Package metrics registers the pipeline's Prometheus collectors, exposed
// for scraping on the ops endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_frames_routed_total",
		Help: "Audio frames accepted by the frame router.",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_frames_dropped_total",
		Help: "Audio frames dropped because the router queue was full or ingestion was suspended.",
	})
	ClipsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_clips_finalized_total",
		Help: "Utterance clips finalized by the segmenter.",
	})
	ClipsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_clips_discarded_total",
		Help: "Clips discarded for being below the minimum duration.",
	})
	TranscriptsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_transcripts_total",
		Help: "Transcripts produced by the transcription dispatcher.",
	})
	TranscriptsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_transcripts_dropped_total",
		Help: "Clips dropped after exhausting STT retries or during a connection outage.",
	})
	STTRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_stt_retries_total",
		Help: "STT requests retried after a transient failure.",
	})
	TriggerMatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_trigger_matches_total",
		Help: "Transcripts that matched a configured trigger phrase.",
	})
	TriggerSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_trigger_suppressed_total",
		Help: "Matches suppressed by friendly-fire rules or missing target mappings.",
	})
	PlaybackJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_playback_jobs_total",
		Help: "Playback jobs fully streamed to the voice channel.",
	})
	PlaybackDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_playback_dropped_total",
		Help: "Playback jobs dropped due to synthesis failure or a connection outage.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phrasebot_reconnects_total",
		Help: "Voice connection restart attempts.",
	})
)
