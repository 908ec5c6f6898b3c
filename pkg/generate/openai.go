package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/retry"
)

// DefaultPrompt is used when a job sets no prompt.
const DefaultPrompt = "Summarize the following repository activity for the team. " +
	"Highlight notable pull requests, recurring themes and who contributed. Be concise."

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Retry     retry.Policy

	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client
}

// OpenAI generates reports through a chat completions endpoint. Works with
// OpenAI and compatible servers (Azure OpenAI, Together, Ollama /v1).
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("llm base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg, client: client}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm returned status %d: %s", e.Code, e.Body)
}

func (g *OpenAI) Generate(ctx context.Context, in Input) (*Generation, error) {
	model := g.cfg.Model
	if in.Job.Output.Model != "" {
		model = in.Job.Output.Model
	}
	maxTokens := g.cfg.MaxTokens
	if in.Job.Output.MaxTokens > 0 {
		maxTokens = in.Job.Output.MaxTokens
	}
	prompt := in.Job.Output.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: DigestMarkdown(in)},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal llm request: %w", err)
	}

	var resp *chatResponse
	err = retry.Do(ctx, g.cfg.Retry, func(ctx context.Context) error {
		r, err := g.call(ctx, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm response has no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, errors.New("llm response is empty")
	}
	usedModel := resp.Model
	if usedModel == "" {
		usedModel = model
	}
	return &Generation{
		Text:        text + "\n",
		ContentType: provider.ContentTypeMarkdown,
		Usage: &manifest.LLMUsage{
			Model:            usedModel,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (g *OpenAI) call(ctx context.Context, payload []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create llm request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call llm: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		serr := &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return nil, serr
		}
		return nil, retry.Permanent(serr)
	}

	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode llm response: %w", err))
	}
	return &out, nil
}
