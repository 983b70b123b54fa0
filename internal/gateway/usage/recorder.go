// Package usage is the accounting subsystem: it persists one immutable
// usage record per billable call, aggregates cost over time windows, and
// gates admission against the credential's monthly budget.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

var (
	// ErrBudgetExceeded rejects a request whose credential has reached its
	// monthly limit. The message carries no figures on purpose.
	ErrBudgetExceeded = errors.New("price limit reached")

	// ErrPriceMetadataMismatch marks a usage record whose model carries
	// price metadata of the wrong type for the call kind. This is a
	// data-integrity problem, never silently priced around.
	ErrPriceMetadataMismatch = errors.New("price metadata type mismatch")
)

// Store is the persistence contract the accounting subsystem needs.
type Store interface {
	ModelsByIDs(ctx context.Context, modelIDs []string) ([]models.Model, error)
	InsertCompletionUsage(ctx context.Context, usage *models.CompletionUsage) error
	InsertImageUsage(ctx context.Context, usage *models.ImageUsage) error
	CompletionUsageByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]models.CompletionUsage, error)
	ImageUsageByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]models.ImageUsage, error)
}

// Recorder writes usage records priced from the model's metadata.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder on top of a store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordCompletion persists usage for one text completion. estimated marks
// counts produced by the gateway's tokenizer rather than the provider.
func (r *Recorder) RecordCompletion(ctx context.Context, apiKey *models.APIKey, model models.Model, u openai.Usage, estimated bool) (*models.CompletionUsage, error) {
	if model.PriceMetadata.Type != models.PriceTypeText {
		return nil, fmt.Errorf("%w: text call against %s-priced model %s", ErrPriceMetadataMismatch, model.PriceMetadata.Type, model.Name)
	}

	record := &models.CompletionUsage{
		ID:               uuid.NewString(),
		APIKeyID:         apiKey.ID,
		ModelID:          model.ID,
		ProjectID:        apiKey.ProjectID,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CostInCent:       model.PriceMetadata.TextCostInCent(u.PromptTokens, u.CompletionTokens),
		Estimated:        estimated,
	}
	if err := r.store.InsertCompletionUsage(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordEmbedding persists usage for one embedding call. Embedding usage
// shares the completion table with zero completion tokens.
func (r *Recorder) RecordEmbedding(ctx context.Context, apiKey *models.APIKey, model models.Model, u openai.Usage) (*models.CompletionUsage, error) {
	if model.PriceMetadata.Type != models.PriceTypeEmbedding {
		return nil, fmt.Errorf("%w: embedding call against %s-priced model %s", ErrPriceMetadataMismatch, model.PriceMetadata.Type, model.Name)
	}

	record := &models.CompletionUsage{
		ID:           uuid.NewString(),
		APIKeyID:     apiKey.ID,
		ModelID:      model.ID,
		ProjectID:    apiKey.ProjectID,
		PromptTokens: u.PromptTokens,
		TotalTokens:  u.TotalTokens,
		CostInCent:   model.PriceMetadata.EmbeddingCostInCent(u.PromptTokens),
	}
	if err := r.store.InsertCompletionUsage(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordImages persists usage for one image generation call.
func (r *Recorder) RecordImages(ctx context.Context, apiKey *models.APIKey, model models.Model, numberOfImages int) (*models.ImageUsage, error) {
	if model.PriceMetadata.Type != models.PriceTypeImage {
		return nil, fmt.Errorf("%w: image call against %s-priced model %s", ErrPriceMetadataMismatch, model.PriceMetadata.Type, model.Name)
	}

	record := &models.ImageUsage{
		ID:             uuid.NewString(),
		APIKeyID:       apiKey.ID,
		ModelID:        model.ID,
		ProjectID:      apiKey.ProjectID,
		NumberOfImages: numberOfImages,
		CostInCent:     model.PriceMetadata.ImageCostInCent(numberOfImages),
	}
	if err := r.store.InsertImageUsage(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
