package main

import (
	"context"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/config"
)

// newRegistry registers every supported provider; the model comes from the
// caller so one registry serves any configured model.
func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("openai", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenAIProvider(ai.OpenAIOptions{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       model,
			Temperature: cfg.Temperature,
		}), nil
	})

	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(ai.OpenRouterOptions{
			BaseURL:     cfg.OpenRouterBaseURL,
			APIKey:      cfg.OpenRouterAPIKey,
			Model:       model,
			SiteURL:     cfg.OpenRouterSiteURL,
			AppName:     cfg.OpenRouterAppName,
			Temperature: cfg.Temperature,
		}), nil
	})

	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})

	return reg
}
