package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"anvil/internal/domain"
	"anvil/internal/infra/config"
)

// RateLimitedClient spaces outgoing completion requests with a token bucket.
// Callers wait for a token instead of being rejected.
type RateLimitedClient struct {
	inner   domain.StreamingLLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedClient returns inner unchanged when cfg disables limiting.
func NewRateLimitedClient(inner domain.StreamingLLMProvider, cfg config.RateLimitConfig) domain.StreamingLLMProvider {
	if cfg.RequestsPerMinute <= 0 {
		return inner
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst),
	}
}

func (c *RateLimitedClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
	}
	return nil
}

// Chat implements domain.LLMProvider.
func (c *RateLimitedClient) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Chat(ctx, req)
}

// ChatStream implements domain.StreamingLLMProvider.
func (c *RateLimitedClient) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, domain.StreamMeta, error) {
	if err := c.wait(ctx); err != nil {
		return nil, domain.StreamMeta{RemainingRequests: -1}, err
	}
	return c.inner.ChatStream(ctx, req)
}

// Name implements domain.LLMProvider.
func (c *RateLimitedClient) Name() string { return c.inner.Name() }
