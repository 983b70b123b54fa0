package providers

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// newOpenAICompatibleClient builds a go-openai client against a provider
// that speaks the plain OpenAI protocol (openai itself, IONOS). The settings
// tag must match the model's provider; a mismatch is a configuration error,
// never a silent default.
func newOpenAICompatibleClient(model models.Model) (*openai.Client, error) {
	if model.Settings.Provider != model.Provider {
		return nil, fmt.Errorf("%w: settings tagged %q on %s model %s",
			ErrInvalidModelConfig, model.Settings.Provider, model.Provider, model.Name)
	}
	if err := model.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelConfig, err)
	}

	config := openai.DefaultConfig(model.Settings.APIKey)
	config.BaseURL = model.Settings.BaseURL
	return openai.NewClientWithConfig(config), nil
}

func chatRequest(modelName string, params CompletionParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    params.Messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	}
	if stream {
		// Ask for a trailing usage chunk; providers that ignore the option
		// (IONOS) are reconciled downstream by the stream normalizer.
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

func newOpenAICompatibleCompletionFn(model models.Model) (CompletionFn, error) {
	client, err := newOpenAICompatibleClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, params CompletionParams) (openai.ChatCompletionResponse, error) {
		resp, err := client.CreateChatCompletion(ctx, chatRequest(model.Name, params, false))
		if err != nil {
			return openai.ChatCompletionResponse{}, fmt.Errorf("%s completion failed: %w", model.Provider, err)
		}
		return resp, nil
	}, nil
}

func newOpenAICompatibleCompletionStreamFn(model models.Model) (CompletionStreamFn, error) {
	client, err := newOpenAICompatibleClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, params CompletionParams) (ChunkSource, error) {
		stream, err := client.CreateChatCompletionStream(ctx, chatRequest(model.Name, params, true))
		if err != nil {
			return nil, fmt.Errorf("%s completion stream failed: %w", model.Provider, err)
		}
		return stream, nil
	}, nil
}

func newOpenAICompatibleEmbeddingFn(model models.Model) (EmbeddingFn, error) {
	client, err := newOpenAICompatibleClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, input []string) (openai.EmbeddingResponse, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: input,
			Model: openai.EmbeddingModel(model.Name),
		})
		if err != nil {
			return openai.EmbeddingResponse{}, fmt.Errorf("%s embedding failed: %w", model.Provider, err)
		}
		return resp, nil
	}, nil
}

func newOpenAICompatibleImageFn(model models.Model) (ImageGenerationFn, error) {
	client, err := newOpenAICompatibleClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, prompt string) (openai.ImageResponse, error) {
		resp, err := client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          model.Name,
			N:              1,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return openai.ImageResponse{}, fmt.Errorf("%s image generation failed: %w", model.Provider, err)
		}
		return resp, nil
	}, nil
}
