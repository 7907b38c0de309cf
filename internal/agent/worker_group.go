package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// WorkerGroup tracks the agent's long-running goroutines, such as session
// runs, by name. It provides a safe shutdown boundary so WaitGroup.Add is
// never called concurrently with Wait, and it can report which workers are
// still busy when a shutdown deadline expires.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	active   map[string]int
	stopping bool
}

// Go starts a named worker if the group is not stopping.
func (g *WorkerGroup) Go(name string, fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		return false
	}
	if g.active == nil {
		g.active = make(map[string]int)
	}
	g.active[name]++
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			g.active[name]--
			if g.active[name] <= 0 {
				delete(g.active, name)
			}
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
	return true
}

// Active returns the names of currently running workers, sorted.
func (g *WorkerGroup) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.active))
	for name := range g.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAndWait prevents new workers from being started and waits for all
// current workers to exit, bounded by ctx. On timeout the error names the
// workers that were still running.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if busy := g.Active(); len(busy) > 0 {
			return fmt.Errorf("workers still running (%s): %w", strings.Join(busy, ", "), ctx.Err())
		}
		return ctx.Err()
	}
}
