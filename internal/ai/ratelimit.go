package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator spaces calls to a Generator with a token bucket.
type RateLimitedGenerator struct {
	Generator
	limiter *rate.Limiter
}

// RateLimited wraps g so that at most rps calls start per second, with bursts
// of up to burst. rps <= 0 returns g unchanged.
func RateLimited(g Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return g
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{Generator: g, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimitedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Generator.Generate(ctx, prompt)
}
