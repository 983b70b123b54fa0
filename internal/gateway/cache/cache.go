package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/gateway/providers"
	"github.com/dgpt/llm-gateway/internal/shared/redis"
)

// Cache is an exact-match response cache for non-streaming chat
// completions. A hit bypasses the provider entirely and, because no
// provider call happens, produces no usage record.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a new cache instance.
func New(redisClient *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: redisClient, ttl: ttl}
}

// generateCacheKey generates a deterministic hash of the request.
func (c *Cache) generateCacheKey(model string, params providers.CompletionParams) string {
	keyData := fmt.Sprintf("%s:%v:%v:%v",
		model,
		params.Messages,
		params.Temperature,
		params.MaxTokens,
	)

	hash := sha256.Sum256([]byte(keyData))
	return "cache:completion:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached completion response.
func (c *Cache) Get(ctx context.Context, model string, params providers.CompletionParams) (*openai.ChatCompletionResponse, error) {
	val, err := c.redis.Get(ctx, c.generateCacheKey(model, params))
	if err != nil {
		return nil, err
	}

	var cached openai.ChatCompletionResponse
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}
	return &cached, nil
}

// Set stores a completion response.
func (c *Cache) Set(ctx context.Context, model string, params providers.CompletionParams, resp *openai.ChatCompletionResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	return c.redis.Set(ctx, c.generateCacheKey(model, params), string(data), c.ttl)
}
