package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultTimeout bounds a single provider request when the caller's context
// carries no deadline of its own.
const DefaultTimeout = 30 * time.Second

// DefaultRetryBackoff is the initial wait before the first retry; each
// further retry doubles it.
const DefaultRetryBackoff = 500 * time.Millisecond

// Config holds the settings for the OpenAI-compatible provider client.
type Config struct {
	// Endpoint overrides the provider base URL (e.g. "http://localhost:8000/v1").
	// Empty means the public OpenAI endpoint.
	Endpoint string
	APIKey   string
	Model    string
	// Dimensions, when positive, is sent to the provider and pins the vector
	// size for models that support shortened embeddings.
	Dimensions int
	// Timeout bounds each attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after a transient
	// failure (HTTP 429/5xx, network errors, per-attempt timeouts).
	MaxRetries int
	// RetryBackoff is the initial retry delay. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration
	// CacheSize is the maximum number of memoized embeddings; 0 disables
	// the cache. CacheTTL bounds entry freshness (0 means no expiry).
	CacheSize int
	CacheTTL  time.Duration
}

// OpenAIService implements Service against an OpenAI-compatible embeddings
// endpoint.
type OpenAIService struct {
	client       *openai.Client
	model        string
	dimensions   int
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	cache        *Cache
}

var _ Service = (*OpenAIService)(nil)

// NewOpenAIService creates a provider client from cfg.
func NewOpenAIService(cfg Config) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize, cfg.CacheTTL)
	}

	return &OpenAIService{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		dimensions:   cfg.Dimensions,
		timeout:      timeout,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: backoff,
		cache:        cache,
	}
}

// Dimensions returns the configured vector dimension, or 0 when the model
// default applies.
func (s *OpenAIService) Dimensions() int { return s.dimensions }

// Embed returns the embedding for one text, consulting the response cache
// first.
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	if s.cache != nil {
		if vec, ok := s.cache.Get(text); ok {
			return vec, nil
		}
	}

	data, err := s.createEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(data) != 1 {
		return nil, fmt.Errorf("embed: %w: expected 1 embedding, got %d", ErrEmbedding, len(data))
	}
	vec := data[0].Embedding
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed: %w: provider returned an empty vector", ErrEmbedding)
	}
	if s.cache != nil {
		s.cache.Put(text, vec)
	}
	return vec, nil
}

// EmbedMany embeds all texts in one provider call, returning vectors in input
// order. An empty input returns nil without touching the provider.
func (s *OpenAIService) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("embed batch: empty text at position %d", i)
		}
	}

	data, err := s.createEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(data) != len(texts) {
		return nil, fmt.Errorf("embed batch: %w: expected %d embeddings, got %d",
			ErrEmbedding, len(texts), len(data))
	}

	// Providers may return items in any order; place each by its index.
	vectors := make([][]float32, len(texts))
	for _, item := range data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embed batch: %w: embedding index %d out of range",
				ErrEmbedding, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("embed batch: %w: missing embedding for position %d",
				ErrEmbedding, i)
		}
	}
	return vectors, nil
}

// createEmbeddings performs the provider request with bounded retries and
// exponential backoff for transient failures.
func (s *OpenAIService) createEmbeddings(ctx context.Context, texts []string) ([]openai.Embedding, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(s.model),
	}
	if s.dimensions > 0 {
		req.Dimensions = s.dimensions
	}

	var lastErr error
	backoff := s.retryBackoff
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, s.classify(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			log.Printf("[Embedding] retrying (%d/%d) after error: %v", attempt, s.maxRetries, lastErr)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := s.client.CreateEmbeddings(attemptCtx, req)
		cancel()
		if err == nil {
			return resp.Data, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, s.classify(lastErr)
}

// classify maps a raw provider failure onto the error taxonomy.
func (s *OpenAIService) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, s.timeout, err)
	}
	return fmt.Errorf("%w: %v", ErrEmbedding, err)
}

// isRetryable reports whether an attempt is worth repeating: rate limiting,
// server-side failures, network errors, and per-attempt timeouts.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
