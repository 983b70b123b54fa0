package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

const azureURLHint = "expected format: https://{endpoint}.openai.azure.com/openai/deployments/{deployment-id}"

// azureTarget is the result of decomposing a configured Azure base URL into
// the pieces go-openai needs: the bare endpoint, the deployment the requests
// are scoped to, and an optional api-version override.
type azureTarget struct {
	endpoint   string
	deployment string
	apiVersion string
}

// parseAzureURL extracts the deployment segment from a configured Azure
// OpenAI base URL. Azure addresses models through deployment-scoped paths
// rather than a model field, so a URL without a deployments/<id> segment is
// unusable and rejected outright.
func parseAzureURL(baseURL string) (azureTarget, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return azureTarget{}, fmt.Errorf("%w: unparsable azure baseUrl %q, %s", ErrInvalidModelConfig, baseURL, azureURLHint)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	deployment := ""
	for i, segment := range segments {
		if segment == "deployments" && i+1 < len(segments) && segments[i+1] != "" {
			deployment = segments[i+1]
			break
		}
	}
	if deployment == "" {
		return azureTarget{}, fmt.Errorf("%w: azure baseUrl %q has no deployments/<id> segment, %s", ErrInvalidModelConfig, baseURL, azureURLHint)
	}

	return azureTarget{
		endpoint:   parsed.Scheme + "://" + parsed.Host,
		deployment: deployment,
		apiVersion: parsed.Query().Get("api-version"),
	}, nil
}

// newAzureClient builds a go-openai client pinned to the deployment encoded
// in the model's base URL. The requested model name is ignored on the wire;
// every call goes to the deployment-scoped path.
func newAzureClient(model models.Model) (*openai.Client, azureTarget, error) {
	if model.Settings.Provider != models.ProviderAzure {
		return nil, azureTarget{}, fmt.Errorf("%w: settings tagged %q on azure model %s",
			ErrInvalidModelConfig, model.Settings.Provider, model.Name)
	}
	if err := model.Settings.Validate(); err != nil {
		return nil, azureTarget{}, fmt.Errorf("%w: %v", ErrInvalidModelConfig, err)
	}

	target, err := parseAzureURL(model.Settings.BaseURL)
	if err != nil {
		return nil, azureTarget{}, err
	}

	config := openai.DefaultAzureConfig(model.Settings.APIKey, target.endpoint)
	if target.apiVersion != "" {
		config.APIVersion = target.apiVersion
	}
	config.AzureModelMapperFunc = func(string) string {
		return target.deployment
	}
	return openai.NewClientWithConfig(config), target, nil
}

func newAzureCompletionFn(model models.Model) (CompletionFn, error) {
	client, target, err := newAzureClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, params CompletionParams) (openai.ChatCompletionResponse, error) {
		resp, err := client.CreateChatCompletion(ctx, chatRequest(target.deployment, params, false))
		if err != nil {
			return openai.ChatCompletionResponse{}, fmt.Errorf("azure completion failed: %w", err)
		}
		return resp, nil
	}, nil
}

func newAzureCompletionStreamFn(model models.Model) (CompletionStreamFn, error) {
	client, target, err := newAzureClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, params CompletionParams) (ChunkSource, error) {
		stream, err := client.CreateChatCompletionStream(ctx, chatRequest(target.deployment, params, true))
		if err != nil {
			return nil, fmt.Errorf("azure completion stream failed: %w", err)
		}
		return stream, nil
	}, nil
}

func newAzureImageFn(model models.Model) (ImageGenerationFn, error) {
	client, target, err := newAzureClient(model)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, prompt string) (openai.ImageResponse, error) {
		resp, err := client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          target.deployment,
			N:              1,
			Size:           openai.CreateImageSize1024x1024,
			Quality:        openai.CreateImageQualityStandard,
			Style:          openai.CreateImageStyleVivid,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return openai.ImageResponse{}, fmt.Errorf("azure image generation failed: %w", err)
		}
		return resp, nil
	}, nil
}
