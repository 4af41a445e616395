package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/config"
)

func TestNewRegistry(t *testing.T) {
	cfg := config.Config{OpenAIAPIKey: "sk", Temperature: 0.5, OllamaBaseURL: "http://ollama:11434"}
	reg := newRegistry(cfg)
	ctx := context.Background()

	assert.Equal(t, []string{"ollama", "openai", "openrouter"}, reg.Names())

	p, err := reg.Get(ctx, "openai", "gpt-4o-mini")
	require.NoError(t, err)
	op, ok := p.(*ai.OpenAIProvider)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", op.Model)

	p, err = reg.Get(ctx, "Ollama", "llava:13b")
	require.NoError(t, err)
	assert.Equal(t, "http://ollama:11434", p.(*ai.OllamaProvider).BaseURL)

	_, err = reg.Get(ctx, "bard", "")
	assert.Error(t, err)
}
