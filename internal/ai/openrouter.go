package ai

import "net/http"

type OpenRouterOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	SiteURL     string
	AppName     string
	Temperature float32
	HTTPClient  *http.Client
}

// NewOpenRouterProvider returns an OpenAI compatible provider pointed at
// OpenRouter, with its attribution headers set.
func NewOpenRouterProvider(opts OpenRouterOptions) *OpenAIProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	model := opts.Model
	if model == "" {
		model = "openrouter/auto"
	}
	return NewOpenAIProvider(OpenAIOptions{
		BaseURL:     baseURL,
		APIKey:      opts.APIKey,
		Model:       model,
		Temperature: opts.Temperature,
		HTTPClient:  opts.HTTPClient,
		Headers: map[string]string{
			"HTTP-Referer": opts.SiteURL,
			"X-Title":      opts.AppName,
		},
	})
}
