// Package enhancer rewrites drawing prompts through a chat-completion model
// before they are sent to the image generator.
package enhancer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Config selects the chat endpoint, model and system instructions.
type Config struct {
	APIURL     string // full chat-completions URL
	APIKey     string
	Model      string
	Prompt     string // system instruction for most models
	FluxPrompt string // system instruction for the flux family
	FluxModels []string
	HTTPClient *http.Client
}

// Enhancer sends prompts to an OpenAI-compatible chat-completion API.
type Enhancer struct {
	client     openai.Client
	model      string
	prompt     string
	fluxPrompt string
	flux       map[string]struct{}
	log        *slog.Logger
}

// New creates an Enhancer. Retries are disabled.
func New(cfg Config, log *slog.Logger) *Enhancer {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL(cfg.APIURL)),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	flux := make(map[string]struct{}, len(cfg.FluxModels))
	for _, m := range cfg.FluxModels {
		flux[m] = struct{}{}
	}

	return &Enhancer{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		prompt:     cfg.Prompt,
		fluxPrompt: cfg.FluxPrompt,
		flux:       flux,
		log:        log,
	}
}

// Enhance returns the rewritten prompt, or the original prompt if the request fails.
func (e *Enhancer) Enhance(ctx context.Context, prompt, modelKey string) string {
	instruction := e.instructionFor(modelKey)

	e.log.Debug("enhancing prompt", "model", e.model, "model_key", modelKey, "prompt", prompt)

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			e.log.Error("prompt enhancement failed", "status", apiErr.StatusCode, "error", err)
		} else {
			e.log.Error("prompt enhancement failed", "error", err)
		}
		return prompt
	}

	if len(resp.Choices) == 0 {
		e.log.Warn("prompt enhancement returned no choices")
		return prompt
	}
	enhanced := strings.TrimSpace(resp.Choices[0].Message.Content)
	if enhanced == "" {
		e.log.Warn("prompt enhancement returned empty content")
		return prompt
	}

	e.log.Debug("prompt enhanced", "enhanced", enhanced)
	return enhanced
}

func (e *Enhancer) instructionFor(modelKey string) string {
	if _, ok := e.flux[modelKey]; ok {
		return e.fluxPrompt
	}
	return e.prompt
}

// baseURL turns ".../v1/chat/completions" into ".../v1/" for the client.
func baseURL(apiURL string) string {
	u := strings.TrimSuffix(strings.TrimSpace(apiURL), "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	return u + "/"
}
