// Package stream turns provider-native chunk streams into the gateway's
// canonical newline-delimited JSON form and guarantees that exactly one
// usage block is reported per drained stream, synthesizing one from the
// token estimator when the upstream never sends it.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/gateway/providers"
	"github.com/dgpt/llm-gateway/internal/gateway/tokencount"
)

// UsageObserver is notified exactly once per successfully drained stream.
// estimated is true when the usage came from the token estimator instead of
// the upstream provider.
type UsageObserver interface {
	ObserveUsage(usage openai.Usage, estimated bool)
}

// ObserverFunc adapts a function to the UsageObserver interface.
type ObserverFunc func(usage openai.Usage, estimated bool)

func (f ObserverFunc) ObserveUsage(usage openai.Usage, estimated bool) {
	f(usage, estimated)
}

// Normalizer re-serializes every native chunk to one canonical JSON line.
// If the upstream stream ends without ever reporting usage, the accumulated
// completion text is run through the token estimator and one synthetic
// terminal chunk (empty choice list, usage set) is appended so consumers see
// usage in the same envelope shape regardless of provider.
type Normalizer struct {
	source   providers.ChunkSource
	prompt   []openai.ChatCompletionMessage
	counter  *tokencount.Counter
	observer UsageObserver

	sawUsage  bool
	content   strings.Builder
	first     *openai.ChatCompletionStreamResponse
	exhausted bool
	done      bool
}

// NewNormalizer wraps a provider chunk source. prompt is the original
// request's message list, needed when usage has to be estimated.
func NewNormalizer(source providers.ChunkSource, prompt []openai.ChatCompletionMessage, counter *tokencount.Counter, observer UsageObserver) *Normalizer {
	return &Normalizer{
		source:   source,
		prompt:   prompt,
		counter:  counter,
		observer: observer,
	}
}

// Next returns the next canonical line. io.EOF marks normal termination;
// any other error is an upstream failure, after which the observer is
// guaranteed not to have been invoked for a synthesized usage.
func (n *Normalizer) Next() ([]byte, error) {
	if n.done {
		return nil, io.EOF
	}
	if n.exhausted {
		// The synthetic trailing chunk was already emitted.
		n.done = true
		return nil, io.EOF
	}

	chunk, err := n.source.Recv()
	if errors.Is(err, io.EOF) {
		return n.finish()
	}
	if err != nil {
		n.done = true
		return nil, fmt.Errorf("upstream stream failed: %w", err)
	}

	if n.first == nil {
		first := chunk
		n.first = &first
	}
	if len(chunk.Choices) > 0 {
		n.content.WriteString(chunk.Choices[0].Delta.Content)
	}
	if chunk.Usage != nil && !n.sawUsage {
		n.sawUsage = true
		n.observer.ObserveUsage(*chunk.Usage, false)
	}

	line, err := json.Marshal(chunk)
	if err != nil {
		n.done = true
		return nil, fmt.Errorf("failed to serialize chunk: %w", err)
	}
	return line, nil
}

// finish handles upstream end-of-stream: if no usage was observed, estimate
// it from the accumulated content, report it, and emit the synthetic
// terminal chunk.
func (n *Normalizer) finish() ([]byte, error) {
	if n.sawUsage {
		n.done = true
		return nil, io.EOF
	}

	usage, err := n.counter.Estimate(n.prompt, n.content.String())
	if err != nil {
		n.done = true
		return nil, fmt.Errorf("failed to estimate usage: %w", err)
	}
	n.observer.ObserveUsage(usage, true)

	if n.first == nil {
		// Upstream sent no chunks at all: there is no envelope to mirror.
		n.done = true
		return nil, io.EOF
	}

	synthetic := openai.ChatCompletionStreamResponse{
		ID:      n.first.ID,
		Object:  n.first.Object,
		Created: n.first.Created,
		Model:   n.first.Model,
		Choices: []openai.ChatCompletionStreamChoice{},
		Usage:   &usage,
	}
	line, err := json.Marshal(synthetic)
	if err != nil {
		n.done = true
		return nil, fmt.Errorf("failed to serialize usage chunk: %w", err)
	}
	n.exhausted = true
	return line, nil
}

// Close releases the underlying provider stream.
func (n *Normalizer) Close() error {
	return n.source.Close()
}
