// Package advisor generates relationship advice through an OpenAI compatible chat
// completions API.
package advisor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/bondlysrv/metrics"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

// Generator produces advice for the recipient of a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Advice, error)
}

// Options configures a Client. Retry.MaxRetries counts attempts after the first.
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	UseResponseSchema bool
	RequestTimeout    time.Duration
	Retry             RetryPolicy
	HTTPClient        *http.Client
	Metrics           *metrics.Metrics
}

// OptionsFromConfig maps the llm section of the service config.
func OptionsFromConfig(cfg *config.LLMConfig) Options {
	return Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		UseResponseSchema: cfg.UseResponseSchema,
		RequestTimeout:    cfg.GetRequestTimeout(),
		Retry: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.GetMinRetryDelay(),
			MinDelay:   cfg.GetMinRetryDelay(),
			MaxDelay:   cfg.GetMaxRetryDelay(),
		},
	}
}

// Client generates advice through an OpenAI compatible chat completions API.
type Client struct {
	llm  openai.Client
	opts Options
}

var _ Generator = (*Client)(nil)

// New creates a client. Retries are handled here, so the SDK's own are off.
func New(opts Options) *Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	return &Client{
		llm:  openai.NewClient(reqOpts...),
		opts: opts,
	}
}

// Generate asks the model for advice. Rate limited calls are retried per the
// retry policy and end in ErrQuotaExceeded; any other API failure ends in
// ErrGenerationFailed. Output that cannot be parsed yields Fallback().
func (c *Client) Generate(ctx context.Context, req Request) (*Advice, error) {
	prompt, err := renderPrompt(req)
	if err != nil {
		return nil, err
	}

	var text string
	err = retry.Do(
		func() error {
			var callErr error
			text, callErr = c.complete(ctx, prompt)
			return callErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.opts.Retry.MaxRetries)+1),
		retry.RetryIf(IsRateLimited),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return c.opts.Retry.Delay(n, err)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Uint("attempt", n+1).Err(err).Msg("advice generation rate limited")
		}),
	)
	if err != nil {
		if IsRateLimited(err) {
			c.opts.Metrics.Generation(metrics.OutcomeQuota)
			return nil, ErrQuotaExceeded.Err(err)
		}
		c.opts.Metrics.Generation(metrics.OutcomeError)
		log.Ctx(ctx).Error().Err(err).Msg("advice generation failed")
		return nil, ErrGenerationFailed.Err(err)
	}

	advice, ok := ParseAdvice(text)
	if !ok {
		c.opts.Metrics.Generation(metrics.OutcomeFallback)
		log.Ctx(ctx).Warn().Int("length", len(text)).Msg("unusable advice output, serving fallback")
		return Fallback(), nil
	}
	c.opts.Metrics.Generation(metrics.OutcomeOK)
	return advice, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.opts.Temperature),
	}
	if c.opts.UseResponseSchema {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "relationship_advice",
					Schema: responseSchema,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	completion, err := c.llm.Chat.Completions.New(ctx, params)
	if err != nil {
		if IsRateLimited(err) {
			c.opts.Metrics.RateLimited()
		}
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// IsQuotaExceeded reports whether err came from an exhausted rate limit.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
