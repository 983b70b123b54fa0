package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/gateway/cache"
	"github.com/dgpt/llm-gateway/internal/gateway/providers"
	"github.com/dgpt/llm-gateway/internal/gateway/stream"
	"github.com/dgpt/llm-gateway/internal/gateway/tokencount"
	"github.com/dgpt/llm-gateway/internal/gateway/usage"
	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// streamTerminator is the explicit end-of-stream marker closing every
// canonical stream.
const streamTerminator = "[DONE]"

type completionRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens   int                            `json:"max_tokens,omitempty"`
	Temperature *float32                       `json:"temperature,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`
}

func (req *completionRequest) validate() error {
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(req.Messages) < 1 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			return fmt.Errorf("messages[%d] has invalid role %q", i, m.Role)
		}
	}
	return nil
}

func (req *completionRequest) params() providers.CompletionParams {
	temperature := float32(1)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return providers.CompletionParams{
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
}

type ChatHandler struct {
	catalog  Catalog
	gate     *usage.Gate
	recorder *usage.Recorder
	counter  *tokencount.Counter
	cache    *cache.Cache // nil disables response caching

	// factory indirection, swapped for fakes in tests
	completionFor       func(models.Model) (providers.CompletionFn, error)
	completionStreamFor func(models.Model) (providers.CompletionStreamFn, error)
}

func NewChatHandler(catalog Catalog, gate *usage.Gate, recorder *usage.Recorder, counter *tokencount.Counter, responseCache *cache.Cache) *ChatHandler {
	return &ChatHandler{
		catalog:             catalog,
		gate:                gate,
		recorder:            recorder,
		counter:             counter,
		cache:               responseCache,
		completionFor:       providers.CompletionByModel,
		completionStreamFor: providers.CompletionStreamByModel,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFrom(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithDetails(w, http.StatusBadRequest, "Bad request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondErrorWithDetails(w, http.StatusBadRequest, "Bad request", err.Error())
		return
	}

	// Budget admission runs before any provider work. It is advisory:
	// concurrent requests can jointly overshoot (see usage.Gate).
	if err := h.gate.Admit(ctx, apiKey); err != nil {
		if errors.Is(err, usage.ErrBudgetExceeded) {
			respondError(w, http.StatusTooManyRequests, budgetExceededMessage)
			return
		}
		respondErrorWithDetails(w, http.StatusInternalServerError, "Something went wrong while calculating the current limits.", err.Error())
		return
	}

	availableModels, err := h.catalog.ModelsByAPIKeyID(ctx, apiKey.ID)
	if err != nil {
		respondErrorWithDetails(w, http.StatusInternalServerError, "Something went wrong while loading the models.", err.Error())
		return
	}

	model, err := resolveModel(availableModels, req.Model, r.Header.Get(providerHeader))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if req.Stream {
		h.handleStreaming(w, r, apiKey, model, req.params())
		return
	}
	h.handleBlocking(w, r, apiKey, model, req.params())
}

func (h *ChatHandler) handleBlocking(w http.ResponseWriter, r *http.Request, apiKey *models.APIKey, model models.Model, params providers.CompletionParams) {
	ctx := r.Context()

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, model.Name, params); err == nil {
			w.Header().Set("X-Cache-Hit", "true")
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	completionFn, err := h.completionFor(model)
	if err != nil {
		respondProviderError(w, model, err)
		return
	}

	resp, err := completionFn(ctx, params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("provider error: %v", err))
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, model.Name, params, &resp); err != nil {
			slog.Warn("failed to cache completion response", "error", err)
		}
	}

	// Recorded before the response goes out, but a failed write must never
	// withhold an already-computed response.
	if _, err := h.recorder.RecordCompletion(ctx, apiKey, model, resp.Usage, false); err != nil {
		slog.Error("failed to record completion usage", "apiKeyId", apiKey.ID, "modelId", model.ID, "error", err)
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) handleStreaming(w http.ResponseWriter, r *http.Request, apiKey *models.APIKey, model models.Model, params providers.CompletionParams) {
	ctx := r.Context()

	streamFn, err := h.completionStreamFor(model)
	if err != nil {
		respondProviderError(w, model, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	source, err := streamFn(ctx, params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("provider error: %v", err))
		return
	}

	// Usage arrives while the stream drains; the write happens off the
	// request goroutine so a slow insert never stalls chunk delivery.
	observer := stream.ObserverFunc(func(u openai.Usage, estimated bool) {
		go func() {
			if _, err := h.recorder.RecordCompletion(context.Background(), apiKey, model, u, estimated); err != nil {
				slog.Error("failed to record completion usage", "apiKeyId", apiKey.ID, "modelId", model.ID, "error", err)
			}
		}()
	})

	normalizer := stream.NewNormalizer(source, params.Messages, h.counter, observer)
	defer normalizer.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		line, err := normalizer.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are committed; the failure is delivered in-band.
			slog.Error("completion stream failed", "modelId", model.ID, "error", err)
			errLine, _ := json.Marshal(map[string]any{"error": map[string]string{"message": err.Error()}})
			fmt.Fprintf(w, "%s\n", errLine)
			break
		}
		fmt.Fprintf(w, "%s\n", line)
		flusher.Flush()
	}

	fmt.Fprint(w, streamTerminator)
	flusher.Flush()
}

// respondProviderError maps factory failures: a missing handler is the
// caller's problem, malformed model settings are ours.
func respondProviderError(w http.ResponseWriter, model models.Model, err error) {
	if errors.Is(err, providers.ErrUnsupportedProvider) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Could not find a callback function for the provider %s.", model.Provider))
		return
	}
	respondError(w, http.StatusInternalServerError, fmt.Sprintf("provider configuration error: %v", err))
}
