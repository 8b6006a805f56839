package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// modelFunc adapts a function to the Model interface for tests.
type modelFunc func(ctx context.Context, system, user string) (string, error)

func (f modelFunc) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type countingCounter struct{ calls int }

func (c *countingCounter) Increment() { c.calls++ }

func fixedVerdict(raw string) modelFunc {
	return func(ctx context.Context, system, user string) (string, error) {
		return raw, nil
	}
}

func TestGatekeeperDecide_NilModel(t *testing.T) {
	gk := NewGatekeeper(nil, nil)
	res := gk.Decide(context.Background(), "my favorite color is blue", nil)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ReasonMissingAPIKey, res.Reason)
	assert.False(t, res.ShouldStore())
}

func TestGatekeeperDecide_TransportError(t *testing.T) {
	counter := &countingCounter{}
	gk := NewGatekeeper(modelFunc(func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("deadline exceeded")
	}), counter)

	res := gk.Decide(context.Background(), "my favorite color is blue", nil)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ReasonTransportError, res.Reason)
	assert.Equal(t, 1, counter.calls, "the request must be counted even when it fails")
}

func TestGatekeeperDecide_StoreVerdict(t *testing.T) {
	gk := NewGatekeeper(fixedVerdict(`{
		"store": true,
		"reason": "durable preference",
		"actions": [{"op": "add", "category": "preferences", "text": "Favorite color: blue."}]
	}`), nil)

	res := gk.Decide(context.Background(), "my favorite color is blue", nil)
	require.Equal(t, StatusStore, res.Status)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, OpAdd, res.Actions[0].Op)
	assert.Equal(t, CategoryPreferences, res.Actions[0].Category)
	assert.Equal(t, "Favorite color: blue.", res.Actions[0].Text)
	assert.Equal(t, "durable preference", res.Reason)
}

func TestGatekeeperDecide_FencedJSON(t *testing.T) {
	raw := "```json\n{\"store\": true, \"actions\": [{\"op\": \"add\", \"category\": \"goals\", \"text\": \"Goal: run a marathon.\"}]}\n```"
	gk := NewGatekeeper(fixedVerdict(raw), nil)

	res := gk.Decide(context.Background(), "I want to run a marathon", nil)
	require.Equal(t, StatusStore, res.Status)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, CategoryGoals, res.Actions[0].Category)
}

func TestGatekeeperDecide_ChattyOutput(t *testing.T) {
	raw := `Sure! Here is the verdict: {"store": false, "reason": "transient"} Hope that helps.`
	gk := NewGatekeeper(fixedVerdict(raw), nil)

	res := gk.Decide(context.Background(), "I'm hungry right now", nil)
	assert.Equal(t, StatusSkip, res.Status)
	assert.Equal(t, "transient", res.Reason)
}

func TestGatekeeperDecide_SkipDefaultReason(t *testing.T) {
	gk := NewGatekeeper(fixedVerdict(`{"store": false}`), nil)

	res := gk.Decide(context.Background(), "turn the volume up", nil)
	assert.Equal(t, StatusSkip, res.Status)
	assert.Equal(t, "skip", res.Reason)
}

func TestGatekeeperDecide_InvalidJSON(t *testing.T) {
	for _, raw := range []string{"", "not json at all", "[1, 2, 3]", "{broken"} {
		gk := NewGatekeeper(fixedVerdict(raw), nil)
		res := gk.Decide(context.Background(), "anything", nil)
		assert.Equal(t, StatusError, res.Status, "raw=%q", raw)
		assert.Equal(t, ReasonInvalidJSON, res.Reason, "raw=%q", raw)
	}
}

func TestGatekeeperDecide_StoreTrueNoActions(t *testing.T) {
	gk := NewGatekeeper(fixedVerdict(`{"store": true, "actions": []}`), nil)

	res := gk.Decide(context.Background(), "my name is Alex", nil)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ReasonStoreTrueNoActions, res.Reason)
}

func TestGatekeeperDecide_InvalidActionsDropped(t *testing.T) {
	gk := NewGatekeeper(fixedVerdict(`{
		"store": true,
		"actions": [
			{"op": "delete", "category": "preferences", "text": "Likes pizza."},
			{"op": "add", "category": "snacks", "text": "Likes pizza."},
			{"op": "add", "category": "preferences", "text": "   "},
			{"op": "update", "category": "preferences", "text": "Likes pizza."},
			{"op": "add", "category": "preferences", "text": "Likes pizza."}
		]
	}`), nil)

	res := gk.Decide(context.Background(), "I like pizza", nil)
	require.Equal(t, StatusStore, res.Status)
	require.Len(t, res.Actions, 1, "only the fully valid action survives")
	assert.Equal(t, OpAdd, res.Actions[0].Op)
	assert.Equal(t, "Likes pizza.", res.Actions[0].Text)
}

func TestGatekeeperDecide_NoValidActions(t *testing.T) {
	gk := NewGatekeeper(fixedVerdict(`{
		"store": true,
		"actions": [{"op": "update", "category": "goals", "text": "Goal: x."}]
	}`), nil)

	res := gk.Decide(context.Background(), "anything", nil)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, ReasonNoValidActions, res.Reason)
}

func TestGatekeeperDecide_UpdateAction(t *testing.T) {
	gk := NewGatekeeper(fixedVerdict(`{
		"store": true,
		"actions": [{"op": "UPDATE", "memory_id": "mem-1", "category": "preferences", "text": "Favorite color: green."}]
	}`), nil)

	res := gk.Decide(context.Background(), "actually my favorite color is green", nil)
	require.Equal(t, StatusStore, res.Status)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, OpUpdate, res.Actions[0].Op)
	assert.Equal(t, "mem-1", res.Actions[0].MemoryID)
}

func TestGatekeeperDecide_RequestPayload(t *testing.T) {
	var captured string
	gk := NewGatekeeper(modelFunc(func(ctx context.Context, system, user string) (string, error) {
		captured = user
		assert.True(t, strings.Contains(system, "memory gatekeeper"))
		return `{"store": false, "reason": "transient"}`, nil
	}), nil)

	existing := []Record{
		{ID: "mem-1", Memory: "Likes pizza.", Metadata: map[string]string{MetadataCategoryKey: "preferences"}},
		{ID: "", Memory: "orphan without id"},
		{ID: "mem-2", Memory: "   "},
	}
	res := gk.Decide(context.Background(), "I like pizza", existing)
	require.Equal(t, StatusSkip, res.Status)

	var req struct {
		UserText string `json:"user_text"`
		Existing []struct {
			ID       string `json:"id"`
			Memory   string `json:"memory"`
			Category string `json:"category"`
		} `json:"existing_memories"`
		Preferred struct {
			AllowedCategories []string `json:"allowed_categories"`
		} `json:"preferred_memory_types"`
	}
	require.NoError(t, json.Unmarshal([]byte(captured), &req))
	assert.Equal(t, "I like pizza", req.UserText)
	require.Len(t, req.Existing, 1, "records without id or text are dropped")
	assert.Equal(t, "mem-1", req.Existing[0].ID)
	assert.Equal(t, "preferences", req.Existing[0].Category)
	assert.Equal(t, []string{"relationships", "preferences", "goals", "personal_facts"}, req.Preferred.AllowedCategories)
}
