package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

const bearerPrefix = "Bearer "

// KeyStore is the credential-lookup contract of the auth middleware.
type KeyStore interface {
	ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error
}

type Middleware struct {
	keys KeyStore
}

func NewMiddleware(keys KeyStore) *Middleware {
	return &Middleware{keys: keys}
}

// Auth resolves the bearer token to an API key and rejects inactive or
// expired credentials. Handlers downstream receive an already-validated key.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			respondError(w, http.StatusUnauthorized, "No Bearer token found.")
			return
		}

		apiKey, err := m.keys.ValidateAPIKey(r.Context(), strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if apiKey.State != models.APIKeyStateActive {
			respondError(w, http.StatusForbidden, "API key is not active")
			return
		}
		if apiKey.ExpiresAt != nil && apiKey.ExpiresAt.Before(time.Now()) {
			respondError(w, http.StatusForbidden, "API key has expired")
			return
		}

		go m.keys.UpdateAPIKeyLastUsed(context.Background(), apiKey.ID) //nolint:errcheck

		next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), apiKey)))
	})
}

// CORS handles cross-origin requests.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+providerHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
