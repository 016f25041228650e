// Package llm is the language-model boundary: prompt text in, completion
// text out. Callers choose their own policies (rate limit, caching) by
// wrapping a Client with middleware.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("llm: empty response from model")

// Client sends one prompt and returns the raw completion.
type Client interface {
	Query(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

func (f ClientFunc) Query(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Middleware wraps a Client with a cross-cutting policy.
type Middleware func(Client) Client

// Wrap applies middlewares so that the first one listed is the outermost.
func Wrap(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
