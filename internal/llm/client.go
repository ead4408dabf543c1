package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/metrics"
	"github.com/legal-rag/backend/pkg/circuitbreaker"
	"github.com/legal-rag/backend/pkg/logger"
	"github.com/legal-rag/backend/pkg/retry"
	"github.com/legal-rag/backend/pkg/utils"
)

const (
	queryPrefix   = "query: "
	passagePrefix = "passage: "
)

// EmbeddingCache stores passage embeddings by content hash.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration

	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingDim     int
	// EmbeddingPrefix prepends "query: " / "passage: " for E5-style models.
	EmbeddingPrefix bool

	EmbeddingRetry  retry.Config
	CompletionRetry retry.Config

	Cache    EmbeddingCache
	CacheTTL time.Duration
}

type Client struct {
	chat           *openai.Client
	embed          *openai.Client
	model          string
	embeddingModel string
	embeddingDim   int
	prefix         bool
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	chatCB         *circuitbreaker.CircuitBreaker
	embedCB        *circuitbreaker.CircuitBreaker
	embedRetry     retry.Config
	chatRetry      retry.Config
	cache          EmbeddingCache
	cacheTTL       time.Duration
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

func DefaultRetryConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:    attempts,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		RetryIf:        retryable,
		Logger:         logger.GetLogger(),
	}
}

func newClientConfig(apiKey, baseURL string) openai.ClientConfig {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return cfg
}

func newBreaker(name string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})
}

func NewClient(opts Options) *Client {
	embedKey := opts.EmbeddingAPIKey
	if embedKey == "" {
		embedKey = opts.APIKey
	}

	if opts.EmbeddingRetry.MaxAttempts == 0 {
		opts.EmbeddingRetry = DefaultRetryConfig(3)
	}
	if opts.CompletionRetry.MaxAttempts == 0 {
		opts.CompletionRetry = DefaultRetryConfig(2)
	}
	if opts.EmbeddingRetry.RetryIf == nil {
		opts.EmbeddingRetry.RetryIf = retryable
	}
	if opts.CompletionRetry.RetryIf == nil {
		opts.CompletionRetry.RetryIf = retryable
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 7 * 24 * time.Hour
	}

	logger.Info("LLM client initialized",
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
		zap.Bool("embedding_prefix", opts.EmbeddingPrefix),
		zap.Bool("embedding_cache", opts.Cache != nil),
	)

	return &Client{
		chat:           openai.NewClientWithConfig(newClientConfig(opts.APIKey, opts.BaseURL)),
		embed:          openai.NewClientWithConfig(newClientConfig(embedKey, opts.EmbeddingBaseURL)),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		embeddingDim:   opts.EmbeddingDim,
		prefix:         opts.EmbeddingPrefix,
		temperature:    opts.Temperature,
		maxTokens:      opts.MaxTokens,
		timeout:        opts.Timeout,
		chatCB:         newBreaker("completion"),
		embedCB:        newBreaker("embedding"),
		embedRetry:     opts.EmbeddingRetry,
		chatRetry:      opts.CompletionRetry,
		cache:          opts.Cache,
		cacheTTL:       opts.CacheTTL,
	}
}

// EmbedQuery embeds user query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if c.prefix {
		text = queryPrefix + text
	}
	return c.embedText(ctx, text)
}

// EmbedPassage embeds document chunk text, consulting the cache first.
func (c *Client) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	if c.prefix {
		text = passagePrefix + text
	}

	if c.cache == nil {
		return c.embedText(ctx, text)
	}

	key := utils.HashString(c.embeddingModel + "\x00" + text)
	if cached, ok, err := c.cache.GetEmbedding(ctx, key); err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	embedding, err := c.embedText(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetEmbedding(ctx, key, embedding, c.cacheTTL); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return embedding, nil
}

func (c *Client) embedText(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32

	err := c.embedCB.Execute(ctx, func() error {
		return retry.Do(ctx, c.embedRetry, func() error {
			resp, err := c.embed.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
				return retry.Permanent(errors.New("empty embedding in response"))
			}
			if c.embeddingDim > 0 && len(resp.Data[0].Embedding) != c.embeddingDim {
				return retry.Permanent(fmt.Errorf("embedding has dimension %d, want %d", len(resp.Data[0].Embedding), c.embeddingDim))
			}

			embedding = resp.Data[0].Embedding
			return nil
		})
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, &EmbeddingServiceError{StatusCode: statusCode(err), Err: err}
	}

	return embedding, nil
}

// Complete sends the system prompt and user query as a two-message chat.
func (c *Client) Complete(ctx context.Context, systemPrompt, userQuery string) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: userQuery,
		},
	}

	var result *CompletionResponse

	err := c.chatCB.Execute(ctx, func() error {
		return retry.Do(ctx, c.chatRetry, func() error {
			resp, err := c.chat.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})

	if err != nil {
		return nil, &CompletionError{StatusCode: statusCode(err), Err: err}
	}

	return result, nil
}
