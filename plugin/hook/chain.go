// Package hook runs ordered interceptor chains over a value. A hook may
// rewrite the value or stop the chain.
package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a hook wants the value discarded.
var ErrInterrupt = errors.New("hook interrupted")

// Fn returns the (possibly modified) value, or ErrInterrupt to stop.
type Fn[T any] func(ctx context.Context, v T) (T, error)

type entry[T any] struct {
	priority int
	name     string
	fn       Fn[T]
}

// Chain is safe for concurrent use. Registration order breaks priority ties.
type Chain[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
}

// NewChain creates an empty chain.
func NewChain[T any]() *Chain[T] {
	return &Chain[T]{}
}

// Register adds fn with the given priority (lower runs first).
// name is used for Unregister.
func (c *Chain[T]) Register(name string, priority int, fn Fn[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry[T]{priority: priority, name: name, fn: fn})
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].priority < c.entries[j].priority
	})
}

// Unregister removes every hook registered under name.
func (c *Chain[T]) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.name != name {
			c.entries[n] = e
			n++
		}
	}
	c.entries = c.entries[:n]
}

// Len reports the number of registered hooks.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run passes v through every hook in priority order. The first error stops
// the chain and is returned with the value as that hook left it.
func (c *Chain[T]) Run(ctx context.Context, v T) (T, error) {
	c.mu.RLock()
	entries := make([]entry[T], len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	var err error
	for _, e := range entries {
		v, err = e.fn(ctx, v)
		if err != nil {
			return v, err
		}
	}
	return v, nil
}
