package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pagesum/internal/domain"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	DefaultModel   = openai.ChatModelGPT5Mini2025_08_07
	DefaultTimeout = 90 * time.Second

	baseMaxOutputTokens  int64 = 2048
	limitMaxOutputTokens int64 = 8192

	systemPrompt = `You are a precise summarizer. You will ONLY use facts present in the provided CONTENT (Markdown from a single web page).

Rules:
- Do not browse, guess, or invent facts; if something isn't stated, write "Not specified".
- Ignore boilerplate (cookie notices, nav, footers, unrelated promos).
- Keep dates, numbers, names exact as written; include units and currencies.
- If CONTENT is empty/very short (<300 chars), return "No substantive content to summarize."
- If CONTENT is not in English, summarize in the same language.
- If there are multiple sections, map your points to the structure present (headings, lists).
- Prefer concise wording over flowery prose.`
)

// OpenAISummarizer calls OpenAI's Moderations and Responses APIs.
type OpenAISummarizer struct {
	client   openai.Client
	model    openai.ChatModel
	flexTier bool
	timeout  time.Duration
}

type Option func(*openAIOptions)

type openAIOptions struct {
	model      string
	baseURL    string
	flexTier   bool
	timeout    time.Duration
	maxRetries int
}

func WithModel(model string) Option {
	return func(o *openAIOptions) {
		o.model = strings.TrimSpace(model)
	}
}

func WithBaseURL(baseURL string) Option {
	return func(o *openAIOptions) {
		o.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithFlexTier(enabled bool) Option {
	return func(o *openAIOptions) {
		o.flexTier = enabled
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *openAIOptions) {
		o.timeout = timeout
	}
}

func WithMaxRetries(n int) Option {
	return func(o *openAIOptions) {
		o.maxRetries = n
	}
}

// NewOpenAISummarizer builds a new summarizer instance.
func NewOpenAISummarizer(apiKey string, opts ...Option) (*OpenAISummarizer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("API key is empty")
	}

	o := openAIOptions{
		model:      string(DefaultModel),
		flexTier:   true,
		timeout:    DefaultTimeout,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(o.maxRetries),
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}

	model := o.model
	if model == "" {
		model = string(DefaultModel)
	}

	return &OpenAISummarizer{
		client:   openai.NewClient(clientOpts...),
		model:    openai.ChatModel(model),
		flexTier: o.flexTier,
		timeout:  o.timeout,
	}, nil
}

// Moderate classifies text and fails with *domain.ContentFlaggedError when any category is positive.
func (s *OpenAISummarizer) Moderate(ctx context.Context, text string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return classifyError("moderate content", err)
	}

	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}

		categories, parseErr := flaggedCategories(result.Categories.RawJSON())
		if parseErr != nil {
			return fmt.Errorf("read moderation categories: %w", parseErr)
		}

		return &domain.ContentFlaggedError{Categories: categories}
	}

	return nil
}

// Summarize produces a summary of the article in the requested mode.
func (s *OpenAISummarizer) Summarize(
	ctx context.Context,
	input Input,
) (string, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return "", fmt.Errorf("%w: input is empty", domain.ErrGenerationFailed)
	}

	mode := input.Mode
	if mode == "" {
		mode = domain.DefaultMode
	}
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownMode, mode)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	userPrompt := buildUserPrompt(mode, input.SourceURL, text)

	maxOutputTokens := baseMaxOutputTokens
	for {
		params := responses.ResponseNewParams{
			Model:           s.model,
			MaxOutputTokens: openai.Int(maxOutputTokens),
			Instructions:    openai.String(systemPrompt),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(userPrompt),
			},
		}
		if s.flexTier {
			params.ServiceTier = responses.ResponseNewParamsServiceTierFlex
		}
		if supportsReasoning(string(s.model)) {
			params.Reasoning = responses.ReasoningParam{
				Effort: openai.ReasoningEffortLow,
			}
		}

		resp, err := s.client.Responses.New(ctx, params)
		if err != nil {
			return "", classifyError("do request", err)
		}

		if resp.Status == "incomplete" {
			if resp.IncompleteDetails.Reason == "max_output_tokens" && maxOutputTokens < limitMaxOutputTokens {
				maxOutputTokens = min(maxOutputTokens*2, limitMaxOutputTokens)
				continue
			}
			return "", fmt.Errorf(
				"%w: response is incomplete (reason = %s, maxOutputTokens = %d)",
				domain.ErrGenerationFailed,
				resp.IncompleteDetails.Reason,
				maxOutputTokens,
			)
		}

		if resp.Status != "completed" {
			return "", fmt.Errorf("%w: response status is %s", domain.ErrGenerationFailed, resp.Status)
		}

		summary := strings.TrimSpace(resp.OutputText())
		if summary == "" {
			return "", fmt.Errorf("%w: output text is missing (status = %s)", domain.ErrGenerationFailed, resp.Status)
		}
		return summary, nil
	}
}

func (s *OpenAISummarizer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func buildUserPrompt(mode domain.Mode, sourceURL string, text string) string {
	b := strings.Builder{}

	b.WriteString("TASK:\n")
	b.WriteString(mode.Instructions())
	b.WriteString("\n\n")

	if sourceURL = strings.TrimSpace(sourceURL); sourceURL != "" {
		b.WriteString("SOURCE:\n")
		b.WriteString(sourceURL)
		b.WriteString("\n\n")
	}

	b.WriteString("CONTENT:\n")
	b.WriteString(text)

	return b.String()
}

// flaggedCategories returns the names of the positive categories in a moderation result, sorted.
func flaggedCategories(rawCategories string) ([]string, error) {
	var categories map[string]bool
	if err := json.Unmarshal([]byte(rawCategories), &categories); err != nil {
		return nil, err
	}

	var flagged []string
	for name, positive := range categories {
		if positive {
			flagged = append(flagged, name)
		}
	}
	slices.Sort(flagged)

	return flagged, nil
}

func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUpstreamTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w: HTTP %d: %w", op, domain.ErrGenerationFailed, apiErr.StatusCode, err)
	}

	return fmt.Errorf("%s: %w: %w", op, domain.ErrGenerationFailed, err)
}

func supportsReasoning(model string) bool {
	for _, prefix := range []string{"gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
