package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgpt/llm-gateway/internal/gateway/providers"
	"github.com/dgpt/llm-gateway/internal/gateway/usage"
	"github.com/dgpt/llm-gateway/internal/shared/models"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func (req *embeddingRequest) validate() error {
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(req.Input) < 1 {
		return fmt.Errorf("input must not be empty")
	}
	return nil
}

type EmbeddingHandler struct {
	catalog  Catalog
	gate     *usage.Gate
	recorder *usage.Recorder

	embeddingFor func(model models.Model) (providers.EmbeddingFn, error)
}

func NewEmbeddingHandler(catalog Catalog, gate *usage.Gate, recorder *usage.Recorder) *EmbeddingHandler {
	return &EmbeddingHandler{
		catalog:      catalog,
		gate:         gate,
		recorder:     recorder,
		embeddingFor: providers.EmbeddingByModel,
	}
}

// HandleEmbedding handles POST /v1/embeddings.
func (h *EmbeddingHandler) HandleEmbedding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFrom(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithDetails(w, http.StatusBadRequest, "Bad request", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondErrorWithDetails(w, http.StatusBadRequest, "Bad request", err.Error())
		return
	}

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

	embeddingFn, err := h.embeddingFor(model)
	if err != nil {
		respondProviderError(w, model, err)
		return
	}

	resp, err := embeddingFn(ctx, req.Input)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("provider error: %v", err))
		return
	}

	if _, err := h.recorder.RecordEmbedding(ctx, apiKey, model, resp.Usage); err != nil {
		slog.Error("failed to record embedding usage", "apiKeyId", apiKey.ID, "modelId", model.ID, "error", err)
	}

	respondJSON(w, http.StatusOK, resp)
}
