package voice

import (
	"strings"
	"unicode"

	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/metrics"
)

// fillerTokens are transcripts that carry no content. Whisper models emit
// these for breaths and hums; matching against them is pure noise.
var fillerTokens = map[string]struct{}{
	"mm": {}, "hmm": {}, "uh": {}, "um": {}, "huh": {},
	"ah": {}, "eh": {}, "oh": {},
}

// DefaultVictimName is used for phrases with no keyword_victims entry.
const DefaultVictimName = "Friend"

// MatcherConfig carries the phrase table and user mappings. Phrase order
// matters: the first phrase contained in a transcript wins.
type MatcherConfig struct {
	Keyphrases []string
	Users      map[string]UserMapping
	// FriendlyFireGroups maps a group name to the phrases members of that
	// group must not fire.
	FriendlyFireGroups map[string][]string
	// KeywordVictims maps a phrase to the display name of who it is about.
	KeywordVictims map[string]string
}

// Matcher scans transcripts for configured trigger phrases. It is stateless
// after construction and safe for concurrent use.
type Matcher struct {
	phrases []string // normalized, original order
	raw     []string // as configured, parallel to phrases
	cfg     MatcherConfig
	// groupPhrases holds normalized phrase sets per friendly-fire group.
	groupPhrases map[string]map[string]struct{}
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	m := &Matcher{
		cfg:          cfg,
		groupPhrases: make(map[string]map[string]struct{}),
	}
	for _, p := range cfg.Keyphrases {
		norm := NormalizeText(p)
		if norm == "" {
			continue
		}
		m.phrases = append(m.phrases, norm)
		m.raw = append(m.raw, p)
	}
	for group, phrases := range cfg.FriendlyFireGroups {
		set := make(map[string]struct{}, len(phrases))
		for _, p := range phrases {
			set[NormalizeText(p)] = struct{}{}
		}
		m.groupPhrases[group] = set
	}
	return m
}

// Match scans one transcript and returns at most one event. A nil return
// means no phrase matched or the speaker has no mapping; an event with
// Suppressed set means a phrase matched but friendly fire blocked it.
func (m *Matcher) Match(t Transcript) *TriggerEvent {
	norm := NormalizeText(t.Text)
	if norm == "" {
		return nil
	}
	if _, filler := fillerTokens[norm]; filler {
		logging.Debugw("ignoring filler transcript", "speaker_id", t.SpeakerID, "text", t.Text)
		return nil
	}

	var matched string
	var matchedRaw string
	for i, p := range m.phrases {
		if strings.Contains(norm, p) {
			matched = p
			matchedRaw = m.raw[i]
			break
		}
	}
	if matched == "" {
		return nil
	}

	user, ok := m.cfg.Users[t.SpeakerID]
	if !ok {
		metrics.TriggerSuppressed.Inc()
		logging.Debugw("phrase matched but speaker has no mapping", "speaker_id", t.SpeakerID, "phrase", matchedRaw)
		return nil
	}

	ev := &TriggerEvent{
		Phrase:      matchedRaw,
		SpeakerID:   t.SpeakerID,
		SpeakerName: user.Name,
		TargetName:  user.TargetName,
		VictimName:  m.victimFor(matched),
		Transcript:  t,
	}

	if m.isFriendlyFire(user.FriendlyFireGroup, matched) {
		ev.Suppressed = true
		metrics.TriggerSuppressed.Inc()
		logging.Infow("trigger suppressed by friendly fire",
			"speaker_id", t.SpeakerID, "speaker", user.Name, "phrase", matchedRaw, "group", user.FriendlyFireGroup)
		return ev
	}

	metrics.TriggerMatches.Inc()
	logging.Infow("trigger matched",
		"speaker_id", t.SpeakerID, "speaker", user.Name, "phrase", matchedRaw, "victim", ev.VictimName)
	return ev
}

// isFriendlyFire reports whether the phrase belongs to the speaker's own
// friendly-fire group.
func (m *Matcher) isFriendlyFire(group, normPhrase string) bool {
	if group == "" {
		return false
	}
	set, ok := m.groupPhrases[group]
	if !ok {
		return false
	}
	_, hit := set[normPhrase]
	return hit
}

func (m *Matcher) victimFor(normPhrase string) string {
	for phrase, victim := range m.cfg.KeywordVictims {
		if NormalizeText(phrase) == normPhrase {
			return victim
		}
	}
	return DefaultVictimName
}

// NormalizeText lowercases, replaces punctuation with spaces, and collapses
// runs of whitespace so phrase containment checks are stable across STT
// output quirks.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
