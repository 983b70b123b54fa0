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

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (req *imageGenerationRequest) validate() error {
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if req.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

type ImageHandler struct {
	catalog  Catalog
	gate     *usage.Gate
	recorder *usage.Recorder

	imageGenerationFor func(model models.Model) (providers.ImageGenerationFn, error)
}

func NewImageHandler(catalog Catalog, gate *usage.Gate, recorder *usage.Recorder) *ImageHandler {
	return &ImageHandler{
		catalog:            catalog,
		gate:               gate,
		recorder:           recorder,
		imageGenerationFor: providers.ImageGenerationByModel,
	}
}

// HandleImageGeneration handles POST /v1/images/generations.
func (h *ImageHandler) HandleImageGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := apiKeyFrom(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req imageGenerationRequest
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

	imageGenerationFn, err := h.imageGenerationFor(model)
	if err != nil {
		respondProviderError(w, model, err)
		return
	}

	resp, err := imageGenerationFn(ctx, req.Prompt)
	if err != nil {
		if errors.Is(err, providers.ErrVertexAuth) {
			// Transient: the token source refreshes itself, so a retry is
			// the right move for the caller.
			respondError(w, http.StatusBadGateway, "upstream authentication failed, please retry")
			return
		}
		respondErrorWithDetails(w, http.StatusInternalServerError, "Failed to generate image", err.Error())
		return
	}

	if _, err := h.recorder.RecordImages(ctx, apiKey, model, len(resp.Data)); err != nil {
		slog.Error("failed to record image usage", "apiKeyId", apiKey.ID, "modelId", model.ID, "error", err)
	}

	respondJSON(w, http.StatusOK, resp)
}
