package embed

import (
	"context"
	"sync/atomic"
)

// countingEmbedder returns fixed vectors or a fixed error and counts calls.
type countingEmbedder struct {
	vec   []float32
	err   error
	model string
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return append([]float32(nil), c.vec...), nil
}

func (c *countingEmbedder) Dimensions() int                { return len(c.vec) }
func (c *countingEmbedder) ModelName() string              { return c.model }
func (c *countingEmbedder) Available(context.Context) bool { return c.err == nil }
func (c *countingEmbedder) Close() error                   { return nil }
