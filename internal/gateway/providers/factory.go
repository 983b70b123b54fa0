// Package providers builds backend-specific callables satisfying the
// gateway's uniform completion, streaming, embedding and image generation
// contracts. Dispatch is table-driven: adding a provider means adding table
// entries, and a missing entry is an explicit unsupported-provider error.
package providers

import (
	"fmt"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

var completionBuilders = map[models.Provider]func(models.Model) (CompletionFn, error){
	models.ProviderIonos:  newOpenAICompatibleCompletionFn,
	models.ProviderOpenAI: newOpenAICompatibleCompletionFn,
	models.ProviderAzure:  newAzureCompletionFn,
}

var completionStreamBuilders = map[models.Provider]func(models.Model) (CompletionStreamFn, error){
	models.ProviderIonos:  newOpenAICompatibleCompletionStreamFn,
	models.ProviderOpenAI: newOpenAICompatibleCompletionStreamFn,
	models.ProviderAzure:  newAzureCompletionStreamFn,
}

var embeddingBuilders = map[models.Provider]func(models.Model) (EmbeddingFn, error){
	models.ProviderIonos: newOpenAICompatibleEmbeddingFn,
}

var imageGenerationBuilders = map[models.Provider]func(models.Model) (ImageGenerationFn, error){
	models.ProviderIonos:  newOpenAICompatibleImageFn,
	models.ProviderAzure:  newAzureImageFn,
	models.ProviderGoogle: newVertexImageFn,
}

// CompletionByModel returns the non-streaming completion callable for a
// model's provider.
func CompletionByModel(model models.Model) (CompletionFn, error) {
	build, ok := completionBuilders[model.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no completion handler for provider %q", ErrUnsupportedProvider, model.Provider)
	}
	return build(model)
}

// CompletionStreamByModel returns the streaming completion callable for a
// model's provider.
func CompletionStreamByModel(model models.Model) (CompletionStreamFn, error) {
	build, ok := completionStreamBuilders[model.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no completion stream handler for provider %q", ErrUnsupportedProvider, model.Provider)
	}
	return build(model)
}

// EmbeddingByModel returns the embedding callable for a model's provider.
func EmbeddingByModel(model models.Model) (EmbeddingFn, error) {
	build, ok := embeddingBuilders[model.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no embedding handler for provider %q", ErrUnsupportedProvider, model.Provider)
	}
	return build(model)
}

// ImageGenerationByModel returns the image generation callable for a model's
// provider.
func ImageGenerationByModel(model models.Model) (ImageGenerationFn, error) {
	build, ok := imageGenerationBuilders[model.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no image generation handler for provider %q", ErrUnsupportedProvider, model.Provider)
	}
	return build(model)
}
