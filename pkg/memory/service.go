package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bmolabs/bmo-agent/pkg/logger"
)

// Mode selects the storage/retrieval policy for a session.
type Mode string

const (
	// ModeNormal stores every raw utterance and searches on every turn.
	ModeNormal Mode = "NORMAL"
	// ModeGated stores only gatekeeper-approved canonical memories and
	// searches only when the retrieval gate fires.
	ModeGated Mode = "GATED"
)

// DefaultBootstrapQuery seeds the one-time profile search at session start.
const DefaultBootstrapQuery = "user profile preferences relationships goals personal facts"

// Config configures the turn orchestrator.
type Config struct {
	Mode           Mode
	UserID         string
	SearchLimit    int
	Threshold      float64
	BootstrapQuery string
	ProfileLimit   int
}

// Service composes extraction, gatekeeping and retrieval into the single
// per-turn entry point consumed by the conversation runtime. One Service
// per session.
type Service struct {
	cfg        Config
	store      Store
	gatekeeper *Gatekeeper
	policy     *Policy

	profileOnce sync.Once

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService builds the orchestrator. The store is required; the gatekeeper
// may be backed by a nil model, in which case gated turns always take the
// heuristic path.
func NewService(cfg Config, store Store, gatekeeper *Gatekeeper) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if gatekeeper == nil {
		gatekeeper = NewGatekeeper(nil, nil)
	}
	if cfg.Mode != ModeNormal {
		cfg.Mode = ModeGated
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		cfg.UserID = "primary"
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 25
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.65
	}
	if strings.TrimSpace(cfg.BootstrapQuery) == "" {
		cfg.BootstrapQuery = DefaultBootstrapQuery
	}
	if cfg.ProfileLimit <= 0 {
		cfg.ProfileLimit = 10
	}

	return &Service{
		cfg:        cfg,
		store:      store,
		gatekeeper: gatekeeper,
		policy:     NewPolicy(),
	}, nil
}

// Close drains in-flight background writes. It does not close the store;
// the store belongs to the composition root.
func (s *Service) Close() error {
	s.closeOnce.Do(s.wg.Wait)
	return nil
}

// ProcessTurn handles one completed user turn. It dispatches the storage
// decision as detached background work and returns the context block to
// inject into the conversation, or "" when there is nothing to inject.
// Failures never propagate to the caller: storage errors are logged and
// swallowed, retrieval errors degrade to no injected context.
func (s *Service) ProcessTurn(ctx context.Context, utterance string) (string, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return "", nil
	}

	if s.cfg.Mode == ModeNormal {
		return s.processNormal(ctx, text), nil
	}
	return s.processGated(ctx, text), nil
}

func (s *Service) processNormal(ctx context.Context, text string) string {
	s.dispatchWrite("normal_add", func(bg context.Context) error {
		_, err := s.store.Add(bg, text, s.cfg.UserID, nil, true)
		return err
	})

	results, err := s.store.Search(ctx, text, s.cfg.UserID, SearchOptions{Limit: s.cfg.SearchLimit})
	if err != nil {
		logger.WarnCF("memory", "Turn search failed", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return formatContextBlock("Memories", resultTexts(results))
}

func (s *Service) processGated(ctx context.Context, text string) string {
	s.dispatchWrite("gated_store", func(bg context.Context) error {
		return s.storeGated(bg, text)
	})

	sections := []string{}

	s.profileOnce.Do(func() {
		if block := formatContextBlock("Memory profile", s.loadProfile(ctx)); block != "" {
			sections = append(sections, block)
		}
	})

	if s.policy.ShouldRetrieve(text) {
		results, err := s.store.Search(ctx, text, s.cfg.UserID, SearchOptions{
			Limit:      s.cfg.SearchLimit,
			Categories: DurableCategories(),
			Threshold:  s.cfg.Threshold,
		})
		if err != nil {
			logger.WarnCF("memory", "Gated search failed", map[string]interface{}{"error": err.Error()})
		} else if block := formatContextBlock("Relevant memories", resultTexts(results)); block != "" {
			sections = append(sections, block)
		}
	}

	return strings.Join(sections, "\n\n")
}

// storeGated runs on the background write path. Any gatekeeper failure
// (transport, credentials, malformed output) falls back to the heuristic
// extractor rather than dropping the utterance.
func (s *Service) storeGated(ctx context.Context, text string) error {
	existing, err := s.store.Search(ctx, text, s.cfg.UserID, SearchOptions{Limit: s.cfg.SearchLimit})
	if err != nil {
		logger.WarnCF("memory", "Candidate search failed, using heuristic fallback", map[string]interface{}{"error": err.Error()})
		return s.storeHeuristic(ctx, text)
	}

	records := make([]Record, 0, len(existing))
	for _, res := range existing {
		records = append(records, res.Record)
	}

	result := s.gatekeeper.Decide(ctx, text, records)
	switch result.Status {
	case StatusError:
		logger.InfoCF("memory", "Gatekeeper error, using heuristic fallback", map[string]interface{}{"reason": result.Reason})
		return s.storeHeuristic(ctx, text)
	case StatusSkip:
		logger.DebugCF("memory", "Gatekeeper skipped utterance", map[string]interface{}{"reason": result.Reason})
		return nil
	}

	hasCategory := map[string]bool{}
	for _, rec := range records {
		if _, ok := rec.DurableCategory(); ok {
			hasCategory[rec.ID] = true
		}
	}

	for _, action := range result.Actions {
		if action.Op == OpUpdate && action.MemoryID != "" && hasCategory[action.MemoryID] {
			if err := s.store.Update(ctx, action.MemoryID, action.Text); err != nil {
				logger.WarnCF("memory", "Memory update failed", map[string]interface{}{"id": action.MemoryID, "error": err.Error()})
			}
			continue
		}
		// Updates against uncategorized records are redirected to add so
		// every durable record ends up with a category.
		md := map[string]string{
			MetadataCategoryKey: string(action.Category),
			"mode":              "gated",
			"source":            "llm",
		}
		if _, err := s.store.Add(ctx, action.Text, s.cfg.UserID, md, false); err != nil {
			logger.WarnCF("memory", "Memory add failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (s *Service) storeHeuristic(ctx context.Context, text string) error {
	decision := Extract(text)
	if !decision.ShouldStore() {
		return nil
	}
	for _, item := range decision.Items {
		md := map[string]string{
			MetadataCategoryKey: string(item.Category),
			"mode":              "gated",
			"source":            "heuristic",
		}
		if _, err := s.store.Add(ctx, item.Text, s.cfg.UserID, md, false); err != nil {
			logger.WarnCF("memory", "Heuristic add failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (s *Service) loadProfile(ctx context.Context) []string {
	results, err := s.store.Search(ctx, s.cfg.BootstrapQuery, s.cfg.UserID, SearchOptions{
		Limit:      s.cfg.ProfileLimit,
		Categories: DurableCategories(),
	})
	if err != nil {
		logger.WarnCF("memory", "Profile bootstrap search failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return resultTexts(results)
}

// dispatchWrite runs fn as a detached unit of work with its own error
// boundary. The user-facing reply never blocks on it; Close drains the set.
func (s *Service) dispatchWrite(task string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCF("memory", "Background write panicked", map[string]interface{}{"task": task, "panic": fmt.Sprint(r)})
			}
		}()
		if err := fn(context.Background()); err != nil {
			logger.WarnCF("memory", "Background write failed", map[string]interface{}{"task": task, "error": err.Error()})
		}
	}()
}

func resultTexts(results []SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, res := range results {
		if text := strings.TrimSpace(res.Memory); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// formatContextBlock renders one labeled section of the synthetic system
// message so downstream prompt assembly can tell profile context from
// per-turn recall.
func formatContextBlock(title string, paragraphs []string) string {
	cleaned := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, "- "+p)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	return title + ":\n" + strings.Join(cleaned, "\n")
}
