package titlenamer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"text/template"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/agentrails/agentrailsd/internal/types"
)

const defaultModel = anthropic.Model("claude-3-5-haiku-latest")

// AnthropicProvider wraps the Anthropic API to turn a conversation's
// prompt history into a short thread title, the way
// internal/compact/haiku.go wraps it for issue summarization.
type AnthropicProvider struct {
	client   anthropic.Client
	model    anthropic.Model
	template *template.Template
}

// NewAnthropicProvider builds a provider using apiKey. An empty apiKey
// is valid only if ANTHROPIC_API_KEY is set in the environment; the SDK
// resolves that itself via option.WithAPIKey falling through to its own
// env lookup.
func NewAnthropicProvider(apiKey string) (*AnthropicProvider, error) {
	tmpl, err := template.New("title").Parse(titlePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("titlenamer: parse prompt template: %w", err)
	}

	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicProvider{
		client:   anthropic.NewClient(opts...),
		model:    defaultModel,
		template: tmpl,
	}, nil
}

// Name renders the numbered prompt history and asks the model for a
// short title, retrying transient failures with an exponential
// backoff the way haikuClient.callWithRetry does.
func (p *AnthropicProvider) Name(ctx context.Context, prompts []types.PromptEvent) (string, error) {
	prompt, err := p.renderPrompt(prompts)
	if err != nil {
		return "", fmt.Errorf("titlenamer: render prompt: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 32,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var title string
	operation := func() error {
		message, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(message.Content) == 0 || message.Content[0].Type != "text" {
			return backoff.Permanent(errors.New("titlenamer: unexpected response format"))
		}
		title = message.Content[0].Text
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(title), `"`), nil
}

func (p *AnthropicProvider) renderPrompt(prompts []types.PromptEvent) (string, error) {
	data := make([]titlePromptEntry, 0, len(prompts))
	for i, pr := range prompts {
		data = append(data, titlePromptEntry{Index: i + 1, Text: pr.Text})
	}

	var b strings.Builder
	if err := p.template.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

type titlePromptEntry struct {
	Index int
	Text  string
}

const titlePromptTemplate = `Here is the numbered prompt history of a coding agent session:
{{range .}}
{{.Index}}. {{.Text}}
{{end}}
Reply with ONLY a short thread title (5 words or fewer, no quotes, no trailing punctuation) summarizing what this session is about.`

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
