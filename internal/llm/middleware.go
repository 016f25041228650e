package llm

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// WithRateLimit blocks each Query until the limiter admits it. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		lim := rate.NewLimiter(rate.Limit(rps), burst)
		return ClientFunc(func(ctx context.Context, prompt string) (string, error) {
			if err := lim.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit: %w", err)
			}
			return next.Query(ctx, prompt)
		})
	}
}

// WithCache memoises successful completions by exact prompt text, keeping at
// most size entries. size <= 0 disables caching.
func WithCache(size int) Middleware {
	return func(next Client) Client {
		if size <= 0 {
			return next
		}
		cache, err := lru.New[string, string](size)
		if err != nil {
			slog.Warn("llm.cache.disabled", "err", err)
			return next
		}
		return ClientFunc(func(ctx context.Context, prompt string) (string, error) {
			if out, ok := cache.Get(prompt); ok {
				slog.Debug("llm.cache.hit", "bytes", len(prompt))
				return out, nil
			}
			out, err := next.Query(ctx, prompt)
			if err != nil {
				return "", err
			}
			cache.Add(prompt, out)
			return out, nil
		})
	}
}
