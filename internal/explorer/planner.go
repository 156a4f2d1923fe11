package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/polzovatel/web-state-crawler/internal/llm"
	"github.com/polzovatel/web-state-crawler/internal/snapshot"
)

// Planner proposes a small ranked batch of candidate actions for the current
// state. Implementations must degrade rather than fail: whatever goes wrong
// with the oracle, Plan returns at least a noop action and never panics or
// errors on malformed output.
type Planner interface {
	Plan(ctx context.Context, snap snapshot.Snapshot, attempted mapset.Set[int]) []Action
}

const plannerSystem = `You are a web testing planner exploring an application to discover new unique states.`

// promptElementLimit bounds how many elements of each kind the prompt lists.
const promptElementLimit = 12

type llmPlanner struct {
	client      llm.Client
	logger      zerolog.Logger
	maxActions  int
	temperature float64
}

func NewPlanner(client llm.Client, logger zerolog.Logger, maxActions int, temperature float64) Planner {
	if maxActions <= 0 {
		maxActions = 3
	}
	return &llmPlanner{
		client:      client,
		logger:      logger,
		maxActions:  maxActions,
		temperature: temperature,
	}
}

func (p *llmPlanner) Plan(ctx context.Context, snap snapshot.Snapshot, attempted mapset.Set[int]) []Action {
	prompt := buildPrompt(snap, attempted, p.maxActions)
	resp, err := p.client.Generate(ctx, llm.Request{
		System:      plannerSystem,
		Prompt:      prompt,
		Temperature: p.temperature,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("planner backend failed, degrading to noop")
		return []Action{noopFallback("llm_error")}
	}
	actions := parseActions(resp.Text, p.maxActions)
	if len(actions) == 1 && actions[0].Type == ActionNoop {
		p.logger.Warn().Str("raw", head(resp.Text, 1000)).Msg("planner output not parseable as JSON")
	}
	return actions
}

// buildPrompt renders the state for the oracle. Already-attempted clickables
// are marked [x] so the model is biased toward novel interaction.
func buildPrompt(snap snapshot.Snapshot, attempted mapset.Set[int], maxActions int) string {
	var clickLines []string
	for _, c := range limitElements(snap.Clickables) {
		mark := " "
		if attempted != nil && attempted.Contains(c.ID) {
			mark = "x"
		}
		clickLines = append(clickLines, fmt.Sprintf("[%s] id:%d tag:%s text:%s aria:%s attr_id:%s",
			mark, c.ID, c.Tag, head(c.Text, 80), head(aria(c), 80), c.Attrs["id"]))
	}
	var fillLines []string
	for _, f := range limitElements(snap.Fillables) {
		fillLines = append(fillLines, fmt.Sprintf("id:%d tag:%s type:%s name:%s placeholder:%s current_value:%s",
			f.ID, f.Tag, inputType(f), f.Attrs["name"], head(f.Attrs["placeholder"], 80), head(f.CurrentValue, 80)))
	}
	fillText := "(none)"
	if len(fillLines) > 0 {
		fillText = strings.Join(fillLines, "\n")
	}

	return fmt.Sprintf(`Current page summary:
%s

Clickable elements ([x] = already attempted in this state):
%s

Fillable elements:
%s

Mission: explore the application and find new unique states. Prefer untried elements [ ] and filling forms.
Return a JSON array of up to %d actions. Each action must be an object with fields:
- action_type: "click" | "fill" | "navigate" | "noop"
- target_id: element id (required, use the id shown above)
- fill_value: (optional, only for fill actions, suggest realistic test values)
- rationale: short explanation
- confidence: 0.0 to 1.0

Example:
[
  {"action_type":"fill","target_id":5,"fill_value":"test@example.com","rationale":"fill email field","confidence":0.9},
  {"action_type":"click","target_id":8,"rationale":"submit form","confidence":0.95}
]

Make sure output is pure JSON.`,
		snap.Summary(), strings.Join(clickLines, "\n"), fillText, maxActions)
}

var arrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseActions decodes untrusted oracle output. Strict parse first; failing
// that, the first array-shaped substring; failing that, a single noop with
// zero confidence. It never returns an empty slice.
func parseActions(raw string, maxActions int) []Action {
	if actions, ok := decodeActions(raw); ok {
		return cap_(actions, maxActions)
	}
	if sub := arrayPattern.FindString(raw); sub != "" {
		if actions, ok := decodeActions(sub); ok {
			return cap_(actions, maxActions)
		}
	}
	return []Action{noopFallback("parse_failed")}
}

func decodeActions(raw string) ([]Action, bool) {
	var actions []Action
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &actions); err != nil {
		return nil, false
	}
	if len(actions) == 0 {
		return nil, false
	}
	return actions, true
}

func noopFallback(reason string) Action {
	return Action{Type: ActionNoop, Rationale: reason, Confidence: 0}
}

func cap_(actions []Action, n int) []Action {
	if len(actions) > n {
		return actions[:n]
	}
	return actions
}

func limitElements(els []snapshot.Element) []snapshot.Element {
	if len(els) > promptElementLimit {
		return els[:promptElementLimit]
	}
	return els
}

func aria(e snapshot.Element) string {
	if v := e.Attrs["aria-label"]; v != "" {
		return v
	}
	return e.Accessible
}

func inputType(e snapshot.Element) string {
	if v := e.Attrs["type"]; v != "" {
		return v
	}
	return "text"
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
