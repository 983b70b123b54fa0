package handlers

import (
	"net/http"

	"github.com/dgpt/llm-gateway/internal/gateway/usage"
	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// CatalogHandler serves the read-only endpoints an API key holder uses to
// inspect its permitted models and remaining budget.
type CatalogHandler struct {
	catalog Catalog
	gate    *usage.Gate
}

func NewCatalogHandler(catalog Catalog, gate *usage.Gate) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, gate: gate}
}

// HandleListModels handles GET /v1/models. Connection settings, pricing and
// ownership are stripped from the response.
func (h *CatalogHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := apiKeyFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	availableModels, err := h.catalog.ModelsByAPIKeyID(r.Context(), apiKey.ID)
	if err != nil {
		respondErrorWithDetails(w, http.StatusInternalServerError, "Something went wrong while loading the models.", err.Error())
		return
	}

	obscured := make([]models.ObscuredModel, 0, len(availableModels))
	for _, m := range availableModels {
		obscured = append(obscured, m.Obscure())
	}

	respondJSON(w, http.StatusOK, map[string]any{"data": obscured})
}

// HandleUsage handles GET /v1/usage: the key's limit and what remains of it
// for the current calendar month.
func (h *CatalogHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := apiKeyFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, remaining, err := h.gate.RemainingInCent(r.Context(), apiKey)
	if err != nil {
		respondErrorWithDetails(w, http.StatusInternalServerError, "Something went wrong while calculating the usage", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]float64{
		"limitInCent":          limit,
		"remainingLimitInCent": remaining,
	})
}
