// Package dispatch holds the per-message gate and the process-wide state it reads.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

const defaultStoreTimeout = 5 * time.Second

// Cell is a memory-first value backed by the remote store.
//
// Get serves memory once warm; a cold Get performs one coalesced remote load
// and falls back to a default on failure. Set updates memory before it
// returns and persists in the background; older writes that finish late are
// dropped. Refresh re-pulls the remote value unless a local write is pending,
// happened while it loaded, or was never stored; an unstored write is retried
// instead.
type Cell[T any] struct {
	name     string
	load     func(ctx context.Context) (T, error)
	save     func(ctx context.Context, v T) error
	fallback T
	timeout  time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	value    T
	loaded   bool
	version  uint64
	inflight int
	// saved is the newest version the store acknowledged.
	saved uint64

	sf singleflight.Group

	// persistence order
	saveMu    sync.Mutex
	persisted uint64
	wg        sync.WaitGroup
}

type cellOptions[T any] struct {
	name     string
	load     func(ctx context.Context) (T, error)
	save     func(ctx context.Context, v T) error
	fallback T
	timeout  time.Duration
	logger   *zap.Logger
}

func newCell[T any](o cellOptions[T]) *Cell[T] {
	if o.timeout <= 0 {
		o.timeout = defaultStoreTimeout
	}
	return &Cell[T]{
		name:     o.name,
		load:     o.load,
		save:     o.save,
		fallback: o.fallback,
		timeout:  o.timeout,
		logger:   obslog.Or(o.logger),
	}
}

// Get never blocks on the remote store once warm.
func (c *Cell[T]) Get(ctx context.Context) T {
	c.mu.RLock()
	if c.loaded {
		v := c.value
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	v, _, _ := c.sf.Do(c.name, func() (any, error) {
		c.mu.RLock()
		if c.loaded {
			v := c.value
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		val, err := c.load(lctx)
		cancel()
		if err != nil {
			c.logger.Warn("state_load_failed", zap.String("cell", c.name), zap.Error(err))
			val = c.fallback
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.loaded {
			c.value = val
			c.loaded = true
		}
		return c.value, nil
	})
	return v.(T)
}

// Set writes memory synchronously, then persists asynchronously.
func (c *Cell[T]) Set(ctx context.Context, v T) {
	c.mu.Lock()
	c.value = v
	c.loaded = true
	c.version++
	ver := c.version
	c.inflight++
	c.mu.Unlock()
	c.persistAsync(ctx, ver, v)
}

// Update applies fn to the current value under the cell lock and persists the
// result if changed reports true.
func (c *Cell[T]) Update(ctx context.Context, fn func(cur T) (next T, changed bool)) (T, bool) {
	c.Get(ctx)

	c.mu.Lock()
	next, changed := fn(c.value)
	if !changed {
		cur := c.value
		c.mu.Unlock()
		return cur, false
	}
	c.value = next
	c.version++
	ver := c.version
	c.inflight++
	c.mu.Unlock()

	c.persistAsync(ctx, ver, next)
	return next, true
}

func (c *Cell[T]) persistAsync(ctx context.Context, ver uint64, v T) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.inflight--
			c.mu.Unlock()
		}()

		c.saveMu.Lock()
		defer c.saveMu.Unlock()
		if ver <= c.persisted {
			return
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if err := c.save(sctx, v); err != nil {
			c.logger.Warn("state_persist_failed", zap.String("cell", c.name), zap.Uint64("version", ver), zap.Error(err))
			return
		}
		c.persisted = ver

		c.mu.Lock()
		if ver > c.saved {
			c.saved = ver
		}
		c.mu.Unlock()
	}()
}

// Refresh re-pulls the remote value. While the latest local write is not
// stored, it retries that write and keeps memory as is.
func (c *Cell[T]) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight == 0 && c.saved < c.version {
		ver, v := c.version, c.value
		c.inflight++
		c.mu.Unlock()
		c.logger.Info("state_persist_retry", zap.String("cell", c.name), zap.Uint64("version", ver))
		c.persistAsync(ctx, ver, v)
		return nil
	}
	ver := c.version
	c.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	val, err := c.load(lctx)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != ver || c.inflight > 0 || c.saved < c.version {
		c.logger.Debug("state_refresh_skipped", zap.String("cell", c.name))
		return nil
	}
	c.value = val
	c.loaded = true
	return nil
}

// Flush waits for pending persistence writes.
func (c *Cell[T]) Flush() { c.wg.Wait() }
