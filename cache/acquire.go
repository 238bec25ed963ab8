package cache

import "context"

// Acquire returns the value for key and a release function the caller must
// invoke when done. With bypass set the shared map is never touched: a
// private instance is loaded and release disposes it unconditionally.
func Acquire[V any](ctx context.Context, c *Cache[V], key string, bypass bool, load LoadFunc[V]) (V, func(), error) {
	if !bypass {
		v, err := c.GetOrLoad(ctx, key, load)
		return v, func() {}, err
	}
	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, func() {}, err
	}
	return v, func() {
		if c.dispose != nil {
			c.dispose(v)
		}
	}, nil
}
