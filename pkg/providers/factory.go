package providers

import (
	"context"
	"strings"
	"time"

	"github.com/bmolabs/bmo-agent/pkg/config"
	"github.com/bmolabs/bmo-agent/pkg/logger"
)

// CreateGemini builds the provider from configuration. A missing API key is
// not an error: it returns nil, and the gatekeeper short-circuits to its
// heuristic fallback without ever touching the network.
func CreateGemini(ctx context.Context, cfg *config.Config) (*Gemini, error) {
	gc := cfg.Providers.Gemini
	if strings.TrimSpace(gc.APIKey) == "" {
		logger.WarnCF("providers", "No Gemini API key configured; gatekeeper will use heuristic extraction only", nil)
		return nil, nil
	}
	return NewGemini(ctx, gc.APIKey, gc.Model, gc.EmbeddingModel, time.Duration(gc.TimeoutSeconds)*time.Second)
}
