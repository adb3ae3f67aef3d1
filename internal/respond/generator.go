package respond

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/discord-phrase-bot/internal/config"
	"github.com/discord-phrase-bot/internal/logging"
	"github.com/discord-phrase-bot/internal/voice"
	"github.com/discord-phrase-bot/llm"
)

// Completer is the slice of the completion client the generator uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// ResponsePlan is the fully resolved prompt for one trigger event, ready to
// render. Separated from Render so variant selection is testable without a
// completion backend.
type ResponsePlan struct {
	System      string
	User        string
	Declaration string
	TargetName  string
	Alternative bool
}

// Generator plans and renders spoken responses for trigger events.
type Generator struct {
	prompts config.PromptsConfig
	llmCfg  config.LLMConfig
	client  Completer
	// draw returns a value in [0,100); injectable for deterministic variant
	// selection tests.
	draw func() int
}

func NewGenerator(prompts config.PromptsConfig, llmCfg config.LLMConfig, client Completer, rng *rand.Rand) *Generator {
	draw := func() int { return rand.Intn(100) }
	if rng != nil {
		draw = func() int { return rng.Intn(100) }
	}
	return &Generator{
		prompts: prompts,
		llmCfg:  llmCfg,
		client:  client,
		draw:    draw,
	}
}

// Plan selects the prompt variant and substitutes the event's names into
// its user template.
func (g *Generator) Plan(ev *voice.TriggerEvent) ResponsePlan {
	alternative := g.draw() < g.prompts.AlternativeProbability
	prompt := g.prompts.Primary
	if alternative {
		prompt = g.prompts.Alternative
	}

	userPrompt := substitute(prompt.UserTemplate, ev)
	lead := fmt.Sprintf("This person: %s, said something provocative to: %s.", ev.SpeakerName, ev.VictimName)

	return ResponsePlan{
		System:      prompt.System,
		User:        lead + " " + userPrompt,
		Declaration: fmt.Sprintf("%s said '%s'. ", ev.SpeakerName, ev.Phrase),
		TargetName:  ev.TargetName,
		Alternative: alternative,
	}
}

// Render calls the completion service for the plan. On failure it retries
// once, then falls back to the static default so a matched trigger always
// produces something to say.
func (g *Generator) Render(ctx context.Context, plan ResponsePlan) string {
	req := llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plan.System},
			{Role: "user", Content: plan.User},
		},
		MaxTokens:   g.llmCfg.MaxTokens,
		Temperature: g.llmCfg.Temperature,
	}

	var resp llm.ChatResponse
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err = g.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		logging.Warnw("completion attempt failed", "attempt", attempt+1, "err", err)
	}
	if err != nil {
		logging.Errorw("completion failed; using fallback text", "err", err)
		return plan.Declaration + g.prompts.FallbackText
	}
	return plan.Declaration + cleanup(resp.Content, plan.TargetName)
}

// Respond implements voice.Responder.
func (g *Generator) Respond(ctx context.Context, ev *voice.TriggerEvent) string {
	return g.Render(ctx, g.Plan(ev))
}

func substitute(template string, ev *voice.TriggerEvent) string {
	r := strings.NewReplacer(
		"{speaker_name}", ev.SpeakerName,
		"{target_name}", ev.TargetName,
		"{victim_name}", ev.VictimName,
	)
	return r.Replace(template)
}

// cleanup strips escape characters and substitutes placeholders the model
// sometimes echoes back verbatim.
func cleanup(response, targetName string) string {
	cleaned := strings.ReplaceAll(response, "\\", "")
	cleaned = strings.ReplaceAll(cleaned, "{target_name}", targetName)
	return cleaned
}
