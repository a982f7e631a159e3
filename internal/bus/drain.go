package bus

import (
	"sync"
	"time"
)

// HandlerGroup tracks in-flight message handlers for an adapter's drain on
// shutdown. Admission and draining share one lock, so once Drain has begun no
// new handler can slip past the wait.
type HandlerGroup struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// Enter admits one handler. It reports false once draining has begun, in which
// case the caller must not run the handler.
func (g *HandlerGroup) Enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.draining {
		return false
	}

	g.wg.Add(1)

	return true
}

// Leave marks one admitted handler as finished.
func (g *HandlerGroup) Leave() {
	g.wg.Done()
}

// Drain stops admission and waits up to timeout for admitted handlers to
// finish. It reports whether all of them finished in time.
func (g *HandlerGroup) Drain(timeout time.Duration) bool {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
