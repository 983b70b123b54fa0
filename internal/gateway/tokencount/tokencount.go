// Package tokencount approximates token usage with a BPE tokenizer. It is
// only consulted when an upstream provider does not report usage itself, and
// its counts are best-effort, not billing-exact.
package tokencount

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

// encodingName is the fixed encoding used for all estimates, regardless of
// the upstream model.
const encodingName = "cl100k_base"

// Counter estimates token usage for chat completions.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Estimate tokenizes the prompt messages and the completion text
// independently and returns a usage block in the upstream shape. The prompt
// side concatenates every message's text content with single spaces.
func (c *Counter) Estimate(promptMessages []openai.ChatCompletionMessage, completion string) (openai.Usage, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return openai.Usage{}, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
	}

	prompt := joinMessageText(promptMessages)
	promptTokens := len(encoding.Encode(prompt, nil, nil))
	completionTokens := len(encoding.Encode(completion, nil, nil))

	return openai.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}, nil
}

func joinMessageText(messages []openai.ChatCompletionMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
			continue
		}
		for _, p := range m.MultiContent {
			if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	return strings.Join(parts, " ")
}
