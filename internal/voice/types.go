package voice

import (
	"time"
)

// AudioClip is one finalized utterance, resampled to the transcription rate.
// Immutable once emitted by a segmenter; the dispatcher owns it until it is
// transcribed or dropped.
type AudioClip struct {
	ID         string
	SpeakerID  string
	// Seq is the per-speaker finalization order, used by the dispatcher's
	// ordering gate.
	Seq        uint64
	Samples    []int16
	SampleRate int
	Start      time.Time
	End        time.Time
}

// Duration returns the clip length derived from its sample count.
func (c *AudioClip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Transcript is the STT result for one clip. Consumed exactly once by the
// trigger matcher.
type Transcript struct {
	ClipID     string
	SpeakerID  string
	Seq        uint64
	Text       string
	Confidence float64
	Start      time.Time
	End        time.Time
}

// UserMapping is the per-speaker trigger configuration resolved from the
// config file: display name, who their responses are aimed at, and the
// friendly-fire group they belong to (empty for none).
type UserMapping struct {
	Name              string
	TargetName        string
	FriendlyFireGroup string
}

// TriggerEvent records a phrase match for a transcript. At most one event is
// produced per transcript; Suppressed marks matches that friendly-fire rules
// vetoed.
type TriggerEvent struct {
	Phrase      string
	SpeakerID   string
	SpeakerName string
	TargetName  string
	VictimName  string
	Suppressed  bool
	Transcript  Transcript
}
