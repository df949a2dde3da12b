package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"lessonforge/internal/model"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

type OpenAISettings struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIProvider generates content through the chat completions API.
type OpenAIProvider struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAIProvider(cfg OpenAISettings, logger zerolog.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger.With().Str("provider", "openai").Logger(),
	}, nil
}

func (p *OpenAIProvider) GenerateLesson(ctx context.Context, req LessonRequest) (*RawLesson, error) {
	var lesson RawLesson
	usage, err := p.complete(ctx, lessonSystemPrompt, lessonUserPrompt(req), &lesson)
	if err != nil {
		return nil, err
	}
	lesson.Usage = usage
	return &lesson, nil
}

func (p *OpenAIProvider) GenerateOutline(ctx context.Context, req OutlineRequest) (*RawOutline, error) {
	var outline RawOutline
	usage, err := p.complete(ctx, outlineSystemPrompt, outlineUserPrompt(req), &outline)
	if err != nil {
		return nil, err
	}
	outline.Usage = usage
	return &outline, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string, out any) (model.TokenUsage, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return model.TokenUsage{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return model.TokenUsage{}, fmt.Errorf("%w: empty choices", ErrContractViolation)
	}
	usage := model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	p.logger.Debug().Int64("total_tokens", usage.TotalTokens).Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("Completion received")
	if err := decodeJSON(resp.Choices[0].Message.Content, out); err != nil {
		return usage, err
	}
	return usage, nil
}

func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %v", ErrContractViolation, err)
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("openai rejected credentials: %w", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
