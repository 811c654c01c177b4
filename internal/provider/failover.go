package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"frontdesk/internal/config"
	"frontdesk/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the next
// one when the current fails. A cancelled or expired context stops the chain.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat returns the first successful response.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, p := range fp.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// New builds the reasoning engine from config: the primary model, followed by
// the fallback models on the same endpoint.
func New(cfg config.ProviderConfig, logger *slog.Logger) domain.Provider {
	client := SharedHTTPClient(0)
	build := func(model string) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey,
			APIBase: cfg.APIBase,
			Model:   model,
			Client:  client,
			Logger:  logger,
		})
	}
	primary := build(cfg.Model)
	if len(cfg.FallbackModels) == 0 {
		return primary
	}
	chain := []domain.Provider{primary}
	for _, m := range cfg.FallbackModels {
		if m != "" && m != cfg.Model {
			chain = append(chain, build(m))
		}
	}
	return NewFailoverProvider(chain, logger)
}
