// Package provider is the boundary to external LLM APIs. The orchestration
// core depends only on the Complete capability; which vendor answers, and
// how a business agent reacts to a failure, is not its concern.
package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Provider is the abstraction over LLM APIs. A failed call surfaces as an
// error; the core never retries on the caller's behalf.
type Provider interface {
	Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.CompletionResponse, error)
	Name() string
}

// RateLimited wraps a provider with a client-side request limiter so a
// misbehaving agent loop cannot drain the API budget.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited allows up to rps requests per second with the given burst.
func NewRateLimited(inner Provider, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) Name() string { return r.inner.Name() }

func (r *RateLimited) Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider %s: rate limit wait: %w", r.inner.Name(), err)
	}
	return r.inner.Complete(ctx, req)
}
