package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bmolabs/bmo-agent/pkg/logger"
)

const gatekeeperSystemPrompt = "You are a memory gatekeeper for a voice assistant. " +
	"Your job is to decide what durable long-term memories should be stored. " +
	"Only store stable facts and preferences that will matter later. " +
	"Do NOT store transient status updates, bodily functions, tool requests, one-off actions. " +
	"Prefer atomic, canonical statements."

var (
	fenceOpenRegex  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceCloseRegex = regexp.MustCompile("\\s*```$")
)

// Gatekeeper arbitrates storage through a language model. At most one model
// request per Decide call; every failure maps to StatusError so the caller
// can fall back to heuristic extraction.
type Gatekeeper struct {
	model   Model
	counter Counter
}

// NewGatekeeper wires a gatekeeper to a model. A nil model means credentials
// are absent; Decide then short-circuits without any network call. counter
// may be nil.
func NewGatekeeper(model Model, counter Counter) *Gatekeeper {
	return &Gatekeeper{model: model, counter: counter}
}

type compactMemory struct {
	ID       string `json:"id"`
	Memory   string `json:"memory"`
	Category string `json:"category,omitempty"`
}

type exampleMemory struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

type preferredMemoryTypes struct {
	AllowedCategories []Category      `json:"allowed_categories"`
	ExamplesStore     []exampleMemory `json:"examples_store"`
	ExamplesSkip      []string        `json:"examples_skip"`
}

type gatekeeperRequest struct {
	UserText             string               `json:"user_text"`
	PreferredMemoryTypes preferredMemoryTypes `json:"preferred_memory_types"`
	ExistingMemories     []compactMemory      `json:"existing_memories"`
	OutputSchema         map[string]any       `json:"output_schema"`
	Rules                []string             `json:"rules"`
}

type rawAction struct {
	Op       string `json:"op"`
	MemoryID string `json:"memory_id"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

type rawVerdict struct {
	Store   bool              `json:"store"`
	Reason  string            `json:"reason"`
	Actions []json.RawMessage `json:"actions"`
}

// Decide asks the model whether the utterance carries durable memories and
// what mutations to apply against the existing records.
func (g *Gatekeeper) Decide(ctx context.Context, utterance string, existing []Record) Result {
	if g == nil || g.model == nil {
		return Result{Status: StatusError, Reason: ReasonMissingAPIKey}
	}

	payload, err := json.Marshal(g.buildRequest(utterance, existing))
	if err != nil {
		return Result{Status: StatusError, Reason: ReasonInvalidJSON}
	}

	if g.counter != nil {
		g.counter.Increment()
	}
	raw, err := g.model.GenerateJSON(ctx, gatekeeperSystemPrompt, string(payload))
	if err != nil {
		logger.WarnCF("gatekeeper", "Model request failed", map[string]interface{}{"error": err.Error()})
		return Result{Status: StatusError, Reason: ReasonTransportError}
	}

	return g.mapVerdict(raw)
}

func (g *Gatekeeper) buildRequest(utterance string, existing []Record) gatekeeperRequest {
	compacted := make([]compactMemory, 0, len(existing))
	for _, rec := range existing {
		text := strings.TrimSpace(rec.Memory)
		if rec.ID == "" || text == "" {
			continue
		}
		compacted = append(compacted, compactMemory{
			ID:       rec.ID,
			Memory:   text,
			Category: rec.Metadata[MetadataCategoryKey],
		})
	}

	return gatekeeperRequest{
		UserText: utterance,
		PreferredMemoryTypes: preferredMemoryTypes{
			AllowedCategories: DurableCategories(),
			ExamplesStore: []exampleMemory{
				{Category: "relationships", Text: "Has a brother named Elp."},
				{Category: "preferences", Text: "Favorite color: blue."},
				{Category: "goals", Text: "Goal: become a better backend engineer."},
				{Category: "personal_facts", Text: "Works as a software engineer."},
			},
			ExamplesSkip: []string{
				"I'm pooping.",
				"Pick a random cassette.",
				"I'm hungry right now.",
				"Turn the volume up.",
			},
		},
		ExistingMemories: compacted,
		OutputSchema: map[string]any{
			"store":  "boolean",
			"reason": "string",
			"actions": []map[string]string{{
				"op":        "add|update",
				"memory_id": "string (required if op=update)",
				"category":  "one of allowed_categories",
				"text":      "canonical memory text",
			}},
		},
		Rules: []string{
			"Return ONLY valid JSON. No markdown, no code fences.",
			"If nothing durable, return store=false and actions=[]",
			"Use op=update only if an existing memory already expresses the same fact (choose the best matching id).",
			"If you update, output the full corrected canonical memory text.",
			"Keep text short (<= 100 chars) and avoid sensitive details.",
		},
	}
}

func (g *Gatekeeper) mapVerdict(raw string) Result {
	payload, ok := parseLooseJSON(raw)
	if !ok {
		return Result{Status: StatusError, Reason: ReasonInvalidJSON}
	}

	var verdict rawVerdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		return Result{Status: StatusError, Reason: ReasonInvalidJSON}
	}

	if verdict.Store && len(verdict.Actions) == 0 {
		return Result{Status: StatusError, Reason: ReasonStoreTrueNoActions}
	}
	if !verdict.Store {
		reason := strings.TrimSpace(verdict.Reason)
		if reason == "" {
			reason = "skip"
		}
		return Result{Status: StatusSkip, Reason: reason}
	}

	actions := make([]Action, 0, len(verdict.Actions))
	for _, entry := range verdict.Actions {
		var ra rawAction
		if err := json.Unmarshal(entry, &ra); err != nil {
			continue
		}
		action, ok := validateAction(ra)
		if !ok {
			continue
		}
		actions = append(actions, action)
	}

	if len(actions) == 0 {
		return Result{Status: StatusError, Reason: ReasonNoValidActions}
	}

	reason := strings.TrimSpace(verdict.Reason)
	if reason == "" {
		reason = "store"
	}
	return Result{Actions: actions, Reason: reason, Status: StatusStore}
}

// validateAction drops individually invalid actions without failing the
// whole verdict.
func validateAction(ra rawAction) (Action, bool) {
	op := ActionOp(strings.ToLower(strings.TrimSpace(ra.Op)))
	if op != OpAdd && op != OpUpdate {
		return Action{}, false
	}
	text := strings.TrimSpace(ra.Text)
	if text == "" {
		return Action{}, false
	}
	category, ok := ParseCategory(ra.Category)
	if !ok {
		return Action{}, false
	}
	memoryID := strings.TrimSpace(ra.MemoryID)
	if op == OpUpdate && memoryID == "" {
		return Action{}, false
	}
	return Action{Op: op, Text: text, Category: category, MemoryID: memoryID}, true
}

// parseLooseJSON tolerates fenced or chatty model output: strip code-fence
// markers, try a direct parse, then fall back to the outermost object span.
func parseLooseJSON(raw string) (json.RawMessage, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = fenceOpenRegex.ReplaceAllString(cleaned, "")
	cleaned = fenceCloseRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	if objectJSON(cleaned) {
		return json.RawMessage(cleaned), true
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	span := cleaned[start : end+1]
	if objectJSON(span) {
		return json.RawMessage(span), true
	}
	return nil, false
}

func objectJSON(s string) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &probe) == nil
}
