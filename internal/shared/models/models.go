package models

import (
	"fmt"
	"time"
)

// Provider identifies an upstream LLM backend family.
type Provider string

const (
	ProviderIonos  Provider = "ionos"
	ProviderOpenAI Provider = "openai"
	ProviderAzure  Provider = "azure"
	ProviderGoogle Provider = "google"
)

// Providers lists every known provider tag.
var Providers = []Provider{ProviderIonos, ProviderOpenAI, ProviderAzure, ProviderGoogle}

// ProviderSettings is the provider-tagged connection configuration stored on
// a model. Which fields are meaningful depends on the Provider tag; Validate
// enforces the per-tag shape.
type ProviderSettings struct {
	Provider Provider `json:"provider"`
	APIKey   string   `json:"apiKey,omitempty"`
	BaseURL  string   `json:"baseUrl,omitempty"`

	// Google only
	ProjectID string `json:"projectId,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Validate checks that the settings carry the fields their tag requires.
func (s ProviderSettings) Validate() error {
	switch s.Provider {
	case ProviderIonos, ProviderOpenAI:
		if s.APIKey == "" || s.BaseURL == "" {
			return fmt.Errorf("provider %s settings require apiKey and baseUrl", s.Provider)
		}
	case ProviderAzure:
		if s.APIKey == "" || s.BaseURL == "" {
			return fmt.Errorf("provider azure settings require apiKey and baseUrl")
		}
	case ProviderGoogle:
		if s.ProjectID == "" || s.Location == "" {
			return fmt.Errorf("provider google settings require projectId and location")
		}
	default:
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	return nil
}

// PriceType tags a model's price metadata.
type PriceType string

const (
	PriceTypeText      PriceType = "text"
	PriceTypeEmbedding PriceType = "embedding"
	PriceTypeImage     PriceType = "image"
)

// PriceCentMultiplier scales stored per-token/per-image prices into cents:
// costInCent = price * units / PriceCentMultiplier. Prices are stored in
// hundred-thousandths of a cent so sub-cent token prices stay plain numbers.
const PriceCentMultiplier = 100000

// PriceMetadata is the type-tagged pricing attached to a model.
type PriceMetadata struct {
	Type PriceType `json:"type"`

	// text + embedding
	PromptTokenPrice float64 `json:"promptTokenPrice,omitempty"`
	// text only
	CompletionTokenPrice float64 `json:"completionTokenPrice,omitempty"`
	// image only
	PricePerImage float64 `json:"pricePerImage,omitempty"`
}

// TextCostInCent computes the cost of a text completion.
func (p PriceMetadata) TextCostInCent(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)*p.PromptTokenPrice +
		float64(completionTokens)*p.CompletionTokenPrice) / PriceCentMultiplier
}

// EmbeddingCostInCent computes the cost of an embedding call.
func (p PriceMetadata) EmbeddingCostInCent(promptTokens int) float64 {
	return float64(promptTokens) * p.PromptTokenPrice / PriceCentMultiplier
}

// ImageCostInCent computes the cost of an image generation call.
func (p PriceMetadata) ImageCostInCent(numberOfImages int) float64 {
	return float64(numberOfImages) * p.PricePerImage / PriceCentMultiplier
}

// Model is a configured upstream backend target, owned by an organization.
// Settings and price metadata are administered elsewhere; the gateway only
// reads them.
type Model struct {
	ID                    string           `json:"id"`
	Provider              Provider         `json:"provider"`
	Name                  string           `json:"name"`
	DisplayName           string           `json:"displayName"`
	Description           string           `json:"description"`
	Settings              ProviderSettings `json:"settings"`
	PriceMetadata         PriceMetadata    `json:"priceMetadata"`
	OrganizationID        string           `json:"organizationId"`
	SupportedImageFormats []string         `json:"supportedImageFormats"`
	AdditionalParameters  map[string]any   `json:"additionalParameters"`
	IsNew                 bool             `json:"isNew"`
	IsDeleted             bool             `json:"isDeleted"`
	CreatedAt             time.Time        `json:"createdAt"`
}

// ObscuredModel is the catalog view exposed to API key holders: connection
// settings, pricing and ownership are stripped.
type ObscuredModel struct {
	ID                    string    `json:"id"`
	Provider              Provider  `json:"provider"`
	Name                  string    `json:"name"`
	DisplayName           string    `json:"displayName"`
	Description           string    `json:"description"`
	SupportedImageFormats []string  `json:"supportedImageFormats"`
	IsNew                 bool      `json:"isNew"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Obscure strips the fields API key holders must not see.
func (m Model) Obscure() ObscuredModel {
	return ObscuredModel{
		ID:                    m.ID,
		Provider:              m.Provider,
		Name:                  m.Name,
		DisplayName:           m.DisplayName,
		Description:           m.Description,
		SupportedImageFormats: m.SupportedImageFormats,
		IsNew:                 m.IsNew,
		CreatedAt:             m.CreatedAt,
	}
}

// APIKeyState is the lifecycle state of an API key.
type APIKeyState string

const (
	APIKeyStateActive   APIKeyState = "active"
	APIKeyStateInactive APIKeyState = "inactive"
	APIKeyStateDeleted  APIKeyState = "deleted"
)

// APIKey is the resolved credential a request runs under. The gateway treats
// it as read-only input plus a write target for usage records.
type APIKey struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	KeyID       string      `json:"keyId"`
	SecretHash  string      `json:"-"`
	ProjectID   string      `json:"projectId"`
	State       APIKeyState `json:"state"`
	LimitInCent int64       `json:"limitInCent"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// CompletionUsage is one immutable accounting entry for a text or embedding
// call. Estimated marks token counts that came from the gateway's own
// tokenizer rather than from the upstream provider.
type CompletionUsage struct {
	ID               string    `json:"id"`
	APIKeyID         string    `json:"apiKeyId"`
	ModelID          string    `json:"modelId"`
	ProjectID        string    `json:"projectId"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	CostInCent       float64   `json:"costInCent"`
	Estimated        bool      `json:"estimated"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ImageUsage is one immutable accounting entry for an image generation call.
type ImageUsage struct {
	ID             string    `json:"id"`
	APIKeyID       string    `json:"apiKeyId"`
	ModelID        string    `json:"modelId"`
	ProjectID      string    `json:"projectId"`
	NumberOfImages int       `json:"numberOfImages"`
	CostInCent     float64   `json:"costInCent"`
	CreatedAt      time.Time `json:"createdAt"`
}
