package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider fetches data for one capability from one upstream source.
// Implementations return tagged *Error values so the chain can decide whether
// to advance or abort.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Synthetic marks providers that never fail. The last provider in every
// chain must be synthetic so the chain as a whole cannot run dry.
type Synthetic interface {
	Synthetic() bool
}

// Chain executes providers in order until one succeeds. Each provider gets
// its own timeout; timeouts count as transient and advance the chain. Fatal
// errors abort immediately.
type Chain struct {
	capability string
	providers  []Provider
	timeout    time.Duration
	logger     *slog.Logger
}

// NewChain builds a fallback chain for one capability. The terminal provider
// is appended last and must be synthetic.
func NewChain(capability string, timeout time.Duration, logger *slog.Logger, live []Provider, terminal Provider) (*Chain, error) {
	if terminal == nil {
		return nil, fmt.Errorf("chain %s: terminal provider required", capability)
	}
	if s, ok := terminal.(Synthetic); !ok || !s.Synthetic() {
		return nil, fmt.Errorf("chain %s: terminal provider %s is not synthetic", capability, terminal.Name())
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	providers := append(append([]Provider{}, live...), terminal)
	return &Chain{
		capability: capability,
		providers:  providers,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (c *Chain) Capability() string {
	return c.capability
}

// Execute walks the chain. Returns the first successful payload and the name
// of the provider that produced it. A fatal error aborts the walk; all other
// errors advance to the next provider. Because the terminal provider is
// synthetic, the only error paths out are fatal errors and context
// cancellation.
func (c *Chain) Execute(ctx context.Context, params map[string]any) (map[string]any, string, error) {
	var lastErr error
	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := p.Fetch(callCtx, params)
		cancel()

		if err == nil {
			if i > 0 {
				c.logger.Info("provider fallback succeeded",
					"capability", c.capability,
					"provider", p.Name(),
					"attempts", i+1,
				)
			}
			return result, p.Name(), nil
		}

		kind := KindOf(err)
		lastErr = err
		c.logger.Warn("provider failed",
			"capability", c.capability,
			"provider", p.Name(),
			"error_kind", string(kind),
			"error", err,
		)
		if !Advances(err) {
			return nil, p.Name(), fmt.Errorf("chain %s: fatal error from %s: %w", c.capability, p.Name(), err)
		}
	}
	// Unreachable when the terminal provider honors its contract.
	return nil, "", fmt.Errorf("chain %s: all providers failed, last error: %w", c.capability, lastErr)
}
