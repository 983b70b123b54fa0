package models

import (
	"testing"
	"time"
)

func TestProviderSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings ProviderSettings
		wantErr  bool
	}{
		{
			name:     "ionos complete",
			settings: ProviderSettings{Provider: ProviderIonos, APIKey: "k", BaseURL: "https://inference.example.com/v1"},
		},
		{
			name:     "openai complete",
			settings: ProviderSettings{Provider: ProviderOpenAI, APIKey: "k", BaseURL: "https://api.openai.com/v1"},
		},
		{
			name:     "ionos missing base url",
			settings: ProviderSettings{Provider: ProviderIonos, APIKey: "k"},
			wantErr:  true,
		},
		{
			name:     "azure missing api key",
			settings: ProviderSettings{Provider: ProviderAzure, BaseURL: "https://r.openai.azure.com/deployments/d"},
			wantErr:  true,
		},
		{
			name:     "google complete",
			settings: ProviderSettings{Provider: ProviderGoogle, ProjectID: "p", Location: "europe-west4"},
		},
		{
			name:     "google missing location",
			settings: ProviderSettings{Provider: ProviderGoogle, ProjectID: "p"},
			wantErr:  true,
		},
		{
			name:     "unknown provider",
			settings: ProviderSettings{Provider: "anthropic", APIKey: "k", BaseURL: "https://api.anthropic.com"},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCostInCent(t *testing.T) {
	text := PriceMetadata{
		Type:                 PriceTypeText,
		PromptTokenPrice:     30, // 30/100000 cent per token
		CompletionTokenPrice: 60,
	}
	if got := text.TextCostInCent(1000, 500); got != 0.6 {
		t.Errorf("TextCostInCent = %v, want 0.6", got)
	}
	if got := text.TextCostInCent(0, 0); got != 0 {
		t.Errorf("TextCostInCent(0, 0) = %v, want 0", got)
	}

	embedding := PriceMetadata{Type: PriceTypeEmbedding, PromptTokenPrice: 10}
	if got := embedding.EmbeddingCostInCent(100000); got != 10 {
		t.Errorf("EmbeddingCostInCent = %v, want 10", got)
	}

	image := PriceMetadata{Type: PriceTypeImage, PricePerImage: 4 * PriceCentMultiplier}
	if got := image.ImageCostInCent(3); got != 12 {
		t.Errorf("ImageCostInCent = %v, want 12", got)
	}
}

func TestObscure(t *testing.T) {
	created := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	model := Model{
		ID:          "m-1",
		Provider:    ProviderIonos,
		Name:        "llama-3",
		DisplayName: "Llama 3",
		Description: "general purpose",
		Settings: ProviderSettings{
			Provider: ProviderIonos,
			APIKey:   "secret",
			BaseURL:  "https://inference.example.com/v1",
		},
		PriceMetadata:         PriceMetadata{Type: PriceTypeText, PromptTokenPrice: 30},
		OrganizationID:        "org-1",
		SupportedImageFormats: []string{"png"},
		IsNew:                 true,
		CreatedAt:             created,
	}

	obscured := model.Obscure()

	want := ObscuredModel{
		ID:                    "m-1",
		Provider:              ProviderIonos,
		Name:                  "llama-3",
		DisplayName:           "Llama 3",
		Description:           "general purpose",
		SupportedImageFormats: []string{"png"},
		IsNew:                 true,
		CreatedAt:             created,
	}
	if obscured.ID != want.ID || obscured.Name != want.Name || obscured.DisplayName != want.DisplayName ||
		obscured.Provider != want.Provider || obscured.Description != want.Description ||
		obscured.IsNew != want.IsNew || !obscured.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("Obscure() = %+v, want %+v", obscured, want)
	}
	if len(obscured.SupportedImageFormats) != 1 || obscured.SupportedImageFormats[0] != "png" {
		t.Errorf("SupportedImageFormats = %v", obscured.SupportedImageFormats)
	}
}
