// Package handlers contains the per-endpoint request dispatchers: they
// validate input, run the budget gate, resolve the model from the
// credential's permitted catalog, invoke the provider factory and hand
// completed usage to the recorder.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// budgetExceededMessage is fixed on purpose: it never leaks the numeric
// shortfall or the configured limit.
const budgetExceededMessage = "You have reached the price limit"

// providerHeader carries the caller's optional provider preference used to
// disambiguate models sharing a name.
const providerHeader = "X-LLM-Provider"

// ErrModelNotFound marks a requested model missing from the credential's
// permitted catalog.
var ErrModelNotFound = errors.New("model not found")

// modelNotFoundError names the requested model and, when given, the
// provider filter in its client-facing message.
type modelNotFoundError struct {
	name     string
	provider string
}

func (e *modelNotFoundError) Error() string {
	if e.provider != "" {
		return fmt.Sprintf("No model with name %s found. Requested Provider: %s", e.name, e.provider)
	}
	return fmt.Sprintf("No model with name %s found.", e.name)
}

func (e *modelNotFoundError) Is(target error) bool {
	return target == ErrModelNotFound
}

// Catalog is the model-lookup contract the dispatchers need.
type Catalog interface {
	ModelsByAPIKeyID(ctx context.Context, apiKeyID string) ([]models.Model, error)
}

type ctxKey int

const apiKeyCtxKey ctxKey = iota

// apiKeyFrom returns the credential resolved by the auth middleware.
func apiKeyFrom(ctx context.Context) (*models.APIKey, bool) {
	apiKey, ok := ctx.Value(apiKeyCtxKey).(*models.APIKey)
	return apiKey, ok
}

// withAPIKey binds a resolved credential to the request context. Exported to
// tests via the middleware; handlers only read it.
func withAPIKey(ctx context.Context, apiKey *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey, apiKey)
}

// resolveModel finds the requested model in the credential's permitted
// catalog, optionally narrowed by a provider preference. The catalog comes
// back in catalog order (created_at, id), so the first name match wins when
// no provider filter is given.
func resolveModel(catalog []models.Model, name, provider string) (models.Model, error) {
	for _, m := range catalog {
		if m.Name != name {
			continue
		}
		if provider != "" && string(m.Provider) != provider {
			continue
		}
		return m, nil
	}
	return models.Model{}, &modelNotFoundError{name: name, provider: provider}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondErrorWithDetails(w http.ResponseWriter, status int, message, details string) {
	respondJSON(w, status, map[string]string{"error": message, "details": details})
}
