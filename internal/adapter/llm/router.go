package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"anvil/internal/domain"
	"anvil/internal/infra/config"
)

// ModelRouter sends each request to the backend that serves its model.
// Unknown or empty models go to the default backend.
type ModelRouter struct {
	mu       sync.RWMutex
	routes   map[string]domain.StreamingLLMProvider // model id -> backend
	models   []domain.ModelInfo
	fallback domain.StreamingLLMProvider
}

// NewModelRouter creates a router with fallback as the default backend.
func NewModelRouter(fallback domain.StreamingLLMProvider) *ModelRouter {
	return &ModelRouter{
		routes:   make(map[string]domain.StreamingLLMProvider),
		fallback: fallback,
	}
}

// Register routes the given models to backend. A model may only be served by
// one backend.
func (r *ModelRouter) Register(backend domain.StreamingLLMProvider, models ...domain.ModelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		if _, exists := r.routes[m.ID]; exists {
			return fmt.Errorf("%w: model %q is served by two providers", domain.ErrDuplicate, m.ID)
		}
	}
	for _, m := range models {
		r.routes[m.ID] = backend
		r.models = append(r.models, m)
	}
	return nil
}

// Models lists every registered model in registration order.
func (r *ModelRouter) Models() []domain.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ModelInfo, len(r.models))
	copy(out, r.models)
	return out
}

// Route returns the backend for model.
func (r *ModelRouter) Route(model string) (domain.StreamingLLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.routes[model]; ok {
		return b, nil
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("%w: no backend for %q", domain.ErrModelNotFound, model)
	}
	return r.fallback, nil
}

// Chat implements domain.LLMProvider.
func (r *ModelRouter) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	b, err := r.Route(req.Model)
	if err != nil {
		return nil, err
	}
	return b.Chat(ctx, req)
}

// ChatStream implements domain.StreamingLLMProvider.
func (r *ModelRouter) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, domain.StreamMeta, error) {
	b, err := r.Route(req.Model)
	if err != nil {
		return nil, domain.StreamMeta{RemainingRequests: -1}, err
	}
	return b.ChatStream(ctx, req)
}

// Name implements domain.LLMProvider.
func (r *ModelRouter) Name() string {
	if r.fallback != nil {
		return r.fallback.Name()
	}
	return "router"
}

// NewRouterFromConfig builds one client per configured provider, each wrapped
// with the rate limiter and, when enabled, the circuit breaker. The default
// provider becomes the fallback route.
func NewRouterFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*ModelRouter, error) {
	var (
		router  *ModelRouter
		pending []func() error
	)
	for _, pc := range cfg.Providers {
		var client domain.StreamingLLMProvider = NewOpenAIClient(pc, logger)
		if cfg.CircuitBreaker.Enabled {
			client = NewCircuitBreakerClient(client, cfg.CircuitBreaker, logger)
		}
		client = NewRateLimitedClient(client, cfg.RateLimit)

		models := providerModels(pc)
		if pc.Name == cfg.DefaultProvider {
			router = NewModelRouter(client)
		}
		pending = append(pending, func() error { return router.Register(client, models...) })
	}
	if router == nil {
		return nil, fmt.Errorf("%w: default provider %q is not configured", domain.ErrProviderError, cfg.DefaultProvider)
	}
	for _, register := range pending {
		if err := register(); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func providerModels(pc config.ProviderConfig) []domain.ModelInfo {
	if len(pc.Models) == 0 {
		return []domain.ModelInfo{{ID: pc.Model, Name: pc.Model}}
	}
	out := make([]domain.ModelInfo, 0, len(pc.Models))
	for _, m := range pc.Models {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		out = append(out, domain.ModelInfo{ID: m.ID, Name: name, TokenLimit: m.TokenLimit, Description: m.Description})
	}
	return out
}
