package service

import (
	"context"
	"sync"
)

// RefreshGuard is exposed for the service_test package.
type RefreshGuard = refreshGuard

// ── Refresh guard ──────────────────────────────────────────

// refreshGuard admits one sample refresh per source at a time and tracks
// the ones in flight so shutdown can drain them.
type refreshGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// Acquire claims sourceID. ok is false while another refresh of the same
// source holds it. release must be called exactly once when ok is true.
func (g *refreshGuard) Acquire(sourceID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[sourceID]; busy {
		return nil, false
	}
	if g.inFlight == nil {
		g.inFlight = make(map[string]struct{})
	}
	g.inFlight[sourceID] = struct{}{}
	g.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, sourceID)
			g.mu.Unlock()
			g.wg.Done()
		})
	}, true
}

// Drain waits for every claimed source to be released. It returns ctx's
// error if ctx ends first.
func (g *refreshGuard) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
