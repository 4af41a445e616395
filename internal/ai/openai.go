package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI compatible chat completions endpoint.
type OpenAIProvider struct {
	Model       string
	Temperature float32
	client      *openai.Client
}

type OpenAIOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	// Headers are added to every request.
	Headers    map[string]string
	HTTPClient *http.Client
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}

	hc := opts.HTTPClient
	if hc == nil {
		// the gateway bounds each call; this only guards against a stuck connection
		hc = &http.Client{Timeout: 90 * time.Second}
	}
	if len(opts.Headers) > 0 {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		clone := *hc
		clone.Transport = &headerTransport{base: base, headers: opts.Headers}
		hc = &clone
	}
	cfg.HTTPClient = hc

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAIProvider{
		Model:       model,
		Temperature: opts.Temperature,
		client:      openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: p.Temperature,
		User:        req.User,
	})
	if err != nil {
		return "", classifyOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindUnknown, Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		switch c := m.Content.(type) {
		case TextContent:
			msg.Content = c.Text
		case MultiPartContent:
			msg.MultiContent = make([]openai.ChatMessagePart, 0, len(c.Parts))
			for _, p := range c.Parts {
				switch p.Type {
				case PartImage:
					msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    p.ImageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					})
				default:
					msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				}
			}
		}
		out = append(out, msg)
	}
	return out
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == string(KindContextLength) {
			return &Error{Kind: KindContextLength, Err: err}
		}
		if strings.Contains(strings.ToLower(apiErr.Message), "maximum context length") {
			return &Error{Kind: KindContextLength, Err: err}
		}
		return &Error{Kind: kindForStatus(apiErr.HTTPStatusCode), Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: kindForStatus(reqErr.HTTPStatusCode), Err: err}
	}

	return classifyTransportError(err)
}

// classifyTransportError maps errors raised below the HTTP layer.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindTransient, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
