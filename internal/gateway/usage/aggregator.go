package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// Aggregator computes the total cost of an API key's usage over a window.
// It is read-only and idempotent.
type Aggregator struct {
	store Store
}

// NewAggregator creates an Aggregator on top of a store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// CostInCent sums the cost of every usage record for the API key with
// timestamp in [start, end), pricing each record from its model's current
// metadata. Records whose model no longer resolves are skipped with a
// warning; a record whose model carries price metadata of the wrong type
// aborts with a data-integrity error.
func (a *Aggregator) CostInCent(ctx context.Context, apiKeyID string, start, end time.Time) (float64, error) {
	completions, err := a.store.CompletionUsageByAPIKey(ctx, apiKeyID, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load completion usage: %w", err)
	}
	images, err := a.store.ImageUsageByAPIKey(ctx, apiKeyID, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load image usage: %w", err)
	}

	modelIDs := make([]string, 0, len(completions)+len(images))
	seen := make(map[string]bool)
	for _, u := range completions {
		if !seen[u.ModelID] {
			seen[u.ModelID] = true
			modelIDs = append(modelIDs, u.ModelID)
		}
	}
	for _, u := range images {
		if !seen[u.ModelID] {
			seen[u.ModelID] = true
			modelIDs = append(modelIDs, u.ModelID)
		}
	}

	resolved, err := a.store.ModelsByIDs(ctx, modelIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve models: %w", err)
	}
	byID := make(map[string]models.Model, len(resolved))
	for _, m := range resolved {
		byID[m.ID] = m
	}

	var total float64
	for _, u := range completions {
		model, ok := byID[u.ModelID]
		if !ok {
			slog.Warn("skipping usage record with unresolved model", "modelId", u.ModelID, "apiKeyId", apiKeyID)
			continue
		}
		switch model.PriceMetadata.Type {
		case models.PriceTypeText:
			total += model.PriceMetadata.TextCostInCent(u.PromptTokens, u.CompletionTokens)
		case models.PriceTypeEmbedding:
			total += model.PriceMetadata.EmbeddingCostInCent(u.PromptTokens)
		default:
			return 0, fmt.Errorf("%w: completion usage %s priced against %s model %s",
				ErrPriceMetadataMismatch, u.ID, model.PriceMetadata.Type, model.Name)
		}
	}
	for _, u := range images {
		model, ok := byID[u.ModelID]
		if !ok {
			slog.Warn("skipping usage record with unresolved model", "modelId", u.ModelID, "apiKeyId", apiKeyID)
			continue
		}
		if model.PriceMetadata.Type != models.PriceTypeImage {
			return 0, fmt.Errorf("%w: image usage %s priced against %s model %s",
				ErrPriceMetadataMismatch, u.ID, model.PriceMetadata.Type, model.Name)
		}
		total += model.PriceMetadata.ImageCostInCent(u.NumberOfImages)
	}

	return total, nil
}
