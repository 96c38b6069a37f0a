// Package flight coalesces duplicate in-flight requests per cache key so
// that a miss storm produces exactly one upstream call. It is a thin typed
// wrapper over x/sync/singleflight: results and errors are shared by all
// waiters, and the registration is dropped the moment the flight settles.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group coalesces calls by key. The zero value is ready to use.
type Group struct {
	sf singleflight.Group
}

// Do executes fn once per key per flight. Concurrent callers with the same
// key block and receive the same value or error. shared reports whether
// the result was produced by another caller's flight.
func (g *Group) Do(key string, fn func() (interface{}, error)) (v interface{}, shared bool, err error) {
	v, err, shared = g.sf.Do(key, fn)
	return v, shared, err
}

// DoCtx behaves like Do but lets the caller abandon the wait. Abandoning
// does not cancel the flight: remaining waiters still complete, and the
// result is discarded only by the departing caller.
func (g *Group) DoCtx(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, bool, error) {
	ch := g.sf.DoChan(key, fn)
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget drops the registration for key so the next Do starts a new flight.
func (g *Group) Forget(key string) { g.sf.Forget(key) }
