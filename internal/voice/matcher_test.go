package voice

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/discord-phrase-bot/internal/metrics"
)

func testMatcher() *Matcher {
	return NewMatcher(MatcherConfig{
		Keyphrases: []string{"hot take", "take"},
		Users: map[string]UserMapping{
			"u1": {Name: "Alice", TargetName: "Captain", FriendlyFireGroup: "red"},
			"u2": {Name: "Bob", TargetName: "Sarge"},
		},
		FriendlyFireGroups: map[string][]string{
			"red": {"take"},
		},
		KeywordVictims: map[string]string{
			"hot take": "Charlie",
		},
	})
}

func TestNormalizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello, World!", "hello world"},
		{"  HOT   take?! ", "hot take"},
		{"don't-stop", "don t stop"},
		{"...", ""},
	}
	for _, c := range cases {
		if got := NormalizeText(c.in); got != c.want {
			t.Fatalf("NormalizeText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatcherFirstMatchWins(t *testing.T) {
	m := testMatcher()
	// "hot take" contains both phrases; the earlier config entry wins
	ev := m.Match(Transcript{SpeakerID: "u2", Text: "that's a HOT TAKE, friend"})
	if ev == nil {
		t.Fatal("expected a match")
	}
	if ev.Phrase != "hot take" {
		t.Fatalf("phrase = %q, want first configured match", ev.Phrase)
	}
	if ev.Suppressed {
		t.Fatal("u2 has no friendly-fire group; must not be suppressed")
	}
	if ev.SpeakerName != "Bob" || ev.TargetName != "Sarge" {
		t.Fatalf("speaker mapping: %+v", ev)
	}
	if ev.VictimName != "Charlie" {
		t.Fatalf("victim = %q, want keyword victim", ev.VictimName)
	}
}

func TestMatcherDefaultVictim(t *testing.T) {
	m := testMatcher()
	ev := m.Match(Transcript{SpeakerID: "u2", Text: "just take it"})
	if ev == nil {
		t.Fatal("expected a match")
	}
	if ev.VictimName != DefaultVictimName {
		t.Fatalf("victim = %q, want %q", ev.VictimName, DefaultVictimName)
	}
}

func TestMatcherNoEventForUnknownSpeaker(t *testing.T) {
	m := testMatcher()
	before := testutil.ToFloat64(metrics.TriggerSuppressed)
	if ev := m.Match(Transcript{SpeakerID: "stranger", Text: "hot take"}); ev != nil {
		t.Fatalf("unmapped speaker produced an event: %+v", ev)
	}
	if delta := testutil.ToFloat64(metrics.TriggerSuppressed) - before; delta != 1 {
		t.Fatalf("suppressed counter delta = %v, want 1 for missing mapping", delta)
	}
}

func TestMatcherNoEventWithoutPhrase(t *testing.T) {
	m := testMatcher()
	if ev := m.Match(Transcript{SpeakerID: "u1", Text: "nothing interesting here"}); ev != nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestMatcherFriendlyFireSuppression(t *testing.T) {
	m := testMatcher()
	// u1's group "red" covers "take"; the match is recorded but suppressed
	ev := m.Match(Transcript{SpeakerID: "u1", Text: "I'll take that"})
	if ev == nil {
		t.Fatal("suppressed matches still produce an event for observers")
	}
	if !ev.Suppressed {
		t.Fatal("expected friendly-fire suppression")
	}

	// "hot take" is not in the group, so u1 can still fire it
	ev = m.Match(Transcript{SpeakerID: "u1", Text: "hot take incoming"})
	if ev == nil || ev.Suppressed {
		t.Fatalf("non-group phrase should fire: %+v", ev)
	}
}

func TestMatcherIgnoresFillerTranscripts(t *testing.T) {
	m := NewMatcher(MatcherConfig{
		Keyphrases: []string{"um"},
		Users:      map[string]UserMapping{"u1": {Name: "A", TargetName: "B"}},
	})
	if ev := m.Match(Transcript{SpeakerID: "u1", Text: "Um."}); ev != nil {
		t.Fatalf("filler transcript produced an event: %+v", ev)
	}
	// filler inside real speech is still matchable
	if ev := m.Match(Transcript{SpeakerID: "u1", Text: "well um sure"}); ev == nil {
		t.Fatal("filler filter must only apply to whole-transcript fillers")
	}
}
