package providers

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// CompletionParams are the provider-agnostic inputs of a chat completion
// call. The target model is bound into the callable at construction time.
type CompletionParams struct {
	Messages    []openai.ChatCompletionMessage
	Temperature float32
	MaxTokens   int
}

// CompletionFn performs a non-streaming chat completion.
type CompletionFn func(ctx context.Context, params CompletionParams) (openai.ChatCompletionResponse, error)

// CompletionStreamFn starts a streaming chat completion and returns the
// provider's native chunk source. The caller owns the source and must close
// it.
type CompletionStreamFn func(ctx context.Context, params CompletionParams) (ChunkSource, error)

// EmbeddingFn computes embeddings for the given inputs.
type EmbeddingFn func(ctx context.Context, input []string) (openai.EmbeddingResponse, error)

// ImageGenerationFn generates one image for a prompt.
type ImageGenerationFn func(ctx context.Context, prompt string) (openai.ImageResponse, error)

// ChunkSource is a provider-native stream of completion chunks.
type ChunkSource interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

var (
	// ErrUnsupportedProvider marks a provider/operation pair with no handler.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrInvalidModelConfig marks malformed provider settings. This is a
	// configuration error: it is surfaced immediately and never retried.
	ErrInvalidModelConfig = errors.New("invalid model configuration")

	// ErrVertexAuth marks a failed or expired IAM access token on the Vertex
	// path. The condition is transient; the caller may retry the request.
	ErrVertexAuth = errors.New("vertex authentication failed")
)
