package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

const vertexScope = "https://www.googleapis.com/auth/cloud-platform"

// vertexIdentity keys the process-scoped client cache. Settings are
// immutable per model, so a cached entry never goes stale; entries live
// until process shutdown.
type vertexIdentity struct {
	ProjectID string
	Location  string
}

type vertexClient struct {
	identity    vertexIdentity
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
}

var vertexClients = struct {
	sync.RWMutex
	byIdentity map[vertexIdentity]*vertexClient
}{byIdentity: make(map[vertexIdentity]*vertexClient)}

// vertexClientFor returns the cached client for the model's (project,
// location) pair, authenticating once per identity. Concurrent lookups
// share one token source, so repeated requests never re-authenticate.
func vertexClientFor(model models.Model) (*vertexClient, error) {
	if model.Settings.Provider != models.ProviderGoogle {
		return nil, fmt.Errorf("%w: settings tagged %q on google model %s",
			ErrInvalidModelConfig, model.Settings.Provider, model.Name)
	}
	if err := model.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelConfig, err)
	}

	identity := vertexIdentity{ProjectID: model.Settings.ProjectID, Location: model.Settings.Location}

	vertexClients.RLock()
	client, ok := vertexClients.byIdentity[identity]
	vertexClients.RUnlock()
	if ok {
		return client, nil
	}

	// Application Default Credentials; the token source refreshes itself.
	tokenSource, err := google.DefaultTokenSource(context.Background(), vertexScope)
	if err != nil {
		return nil, fmt.Errorf("%w: no default credentials: %v", ErrInvalidModelConfig, err)
	}

	client = &vertexClient{
		identity:    identity,
		tokenSource: tokenSource,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}

	vertexClients.Lock()
	// Last write wins; both entries hold equivalent token sources.
	vertexClients.byIdentity[identity] = client
	vertexClients.Unlock()

	return client, nil
}

type vertexPredictRequest struct {
	Instances  []vertexInstance `json:"instances"`
	Parameters vertexParameters `json:"parameters"`
}

type vertexInstance struct {
	Prompt string `json:"prompt"`
}

type vertexParameters struct {
	SampleCount       int    `json:"sampleCount"`
	AspectRatio       string `json:"aspectRatio"`
	SafetyFilterLevel string `json:"safetyFilterLevel"`
	PersonGeneration  string `json:"personGeneration"`
}

type vertexPredictResponse struct {
	Predictions []vertexPrediction `json:"predictions"`
}

type vertexPrediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

// newVertexImageFn builds an image generation callable against the Vertex AI
// predict endpoint. Vertex speaks its own request/response JSON, so the
// response is translated into the canonical OpenAI images shape.
func newVertexImageFn(model models.Model) (ImageGenerationFn, error) {
	client, err := vertexClientFor(model)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		client.identity.Location, client.identity.ProjectID, client.identity.Location, model.Name,
	)

	return func(ctx context.Context, prompt string) (openai.ImageResponse, error) {
		token, err := client.tokenSource.Token()
		if err != nil {
			// Transient by nature: the next request triggers a fresh refresh.
			slog.Warn("vertex access token refresh failed", "project", client.identity.ProjectID, "error", err)
			return openai.ImageResponse{}, fmt.Errorf("%w: %v", ErrVertexAuth, err)
		}

		body, err := json.Marshal(vertexPredictRequest{
			Instances: []vertexInstance{{Prompt: prompt}},
			Parameters: vertexParameters{
				SampleCount:       1,
				AspectRatio:       "1:1",
				SafetyFilterLevel: "block_some",
				PersonGeneration:  "allow_adult",
			},
		})
		if err != nil {
			return openai.ImageResponse{}, fmt.Errorf("failed to encode vertex request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return openai.ImageResponse{}, fmt.Errorf("failed to build vertex request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.httpClient.Do(req)
		if err != nil {
			return openai.ImageResponse{}, fmt.Errorf("vertex image generation failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusUnauthorized {
			slog.Warn("vertex rejected access token", "project", client.identity.ProjectID)
			return openai.ImageResponse{}, fmt.Errorf("%w: upstream returned 401: %s", ErrVertexAuth, string(respBody))
		}
		if resp.StatusCode != http.StatusOK {
			return openai.ImageResponse{}, fmt.Errorf("vertex image generation failed (status %d): %s", resp.StatusCode, string(respBody))
		}

		var prediction vertexPredictResponse
		if err := json.Unmarshal(respBody, &prediction); err != nil {
			return openai.ImageResponse{}, fmt.Errorf("failed to parse vertex response: %w", err)
		}
		if len(prediction.Predictions) < 1 || prediction.Predictions[0].BytesBase64Encoded == "" {
			return openai.ImageResponse{}, fmt.Errorf("vertex returned no image data")
		}

		return openai.ImageResponse{
			Created: time.Now().Unix(),
			Data: []openai.ImageResponseDataInner{
				{B64JSON: prediction.Predictions[0].BytesBase64Encoded},
			},
		}, nil
	}, nil
}
