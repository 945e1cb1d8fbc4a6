package semantic

import (
	"context"

	"github.com/alphacar/aichat-engine/pkg/fn"
)

type retryEmbedder struct {
	inner Embedder
	opts  fn.RetryOpts
}

// RetryEmbedder decorates an Embedder with bounded exponential-backoff
// retries. Transient embedding failures otherwise abort an index write
// or a whole search.
func RetryEmbedder(inner Embedder, opts fn.RetryOpts) Embedder {
	if opts.MaxAttempts <= 0 {
		opts = fn.DefaultRetry
	}
	return &retryEmbedder{inner: inner, opts: opts}
}

func (r *retryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(r.inner.Embed(ctx, text))
	}).Unwrap()
}
