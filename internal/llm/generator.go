// Package llm produces spoken replies from recognized utterances.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voice-dialogue/internal/config"
)

// ErrNoChoices is returned when the completion API answers without a choice.
var ErrNoChoices = errors.New("llm: no response choices returned")

// Generator produces a reply to utterance given the prior exchanges. An
// empty reply with a nil error is valid; callers substitute a fallback.
type Generator interface {
	GenerateReply(ctx context.Context, history []Exchange, utterance string) (string, error)
}

// OpenAIGenerator calls the chat completions API.
type OpenAIGenerator struct {
	client       openai.Client
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	log          *slog.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator builds a generator from cfg with the given system
// prompt. Extra options are applied after the ones derived from cfg.
func NewOpenAIGenerator(cfg config.OpenAIConfig, systemPrompt string, log *slog.Logger, opts ...option.RequestOption) *OpenAIGenerator {
	if log == nil {
		log = slog.Default()
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIGenerator{
		client:       openai.NewClient(clientOpts...),
		model:        cfg.ChatModel,
		systemPrompt: systemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout,
		log:          log.With("component", "llm"),
	}
}

// Messages builds the request transcript: system prompt, prior exchanges,
// then the new utterance.
func (g *OpenAIGenerator) Messages(history []Exchange, utterance string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2*len(history)+2)
	if g.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(g.systemPrompt))
	}
	for _, ex := range history {
		msgs = append(msgs, openai.UserMessage(ex.Utterance), openai.AssistantMessage(ex.Reply))
	}
	return append(msgs, openai.UserMessage(utterance))
}

func (g *OpenAIGenerator) GenerateReply(ctx context.Context, history []Exchange, utterance string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Messages: g.Messages(history, utterance),
		Model:    openai.ChatModel(g.model),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}
	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}

	start := time.Now()
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrNoChoices
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	g.log.Info("reply generated",
		"chars", len([]rune(reply)),
		"tokens", completion.Usage.TotalTokens,
		"history", len(history),
		"elapsed", time.Since(start))
	return reply, nil
}
