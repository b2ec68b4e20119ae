package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCellColdLoadCoalesced(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	c := newCell(cellOptions[string]{
		name: "x",
		load: func(context.Context) (string, error) {
			loads.Add(1)
			<-release
			return "remote", nil
		},
		save: func(context.Context, string) error { return nil },
	})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
	for i, r := range results {
		if r != "remote" {
			t.Fatalf("result[%d] = %q", i, r)
		}
	}
	if got := c.Get(context.Background()); got != "remote" || loads.Load() != 1 {
		t.Fatalf("warm Get hit the store")
	}
}

func TestCellLoadFailureUsesFallback(t *testing.T) {
	c := newCell(cellOptions[string]{
		name:     "x",
		fallback: "safe",
		load:     func(context.Context) (string, error) { return "", errors.New("down") },
		save:     func(context.Context, string) error { return nil },
	})
	if got := c.Get(context.Background()); got != "safe" {
		t.Fatalf("Get = %q, want fallback", got)
	}
}

func TestCellSetIsImmediateAndPersistsLatest(t *testing.T) {
	var mu sync.Mutex
	var saved []string
	gate := make(chan struct{})
	c := newCell(cellOptions[string]{
		name: "x",
		load: func(context.Context) (string, error) { return "a", nil },
		save: func(_ context.Context, v string) error {
			<-gate
			mu.Lock()
			saved = append(saved, v)
			mu.Unlock()
			return nil
		},
	})
	ctx := context.Background()
	c.Set(ctx, "b")
	if got := c.Get(ctx); got != "b" {
		t.Fatalf("Get after Set = %q", got)
	}
	c.Set(ctx, "c")
	if got := c.Get(ctx); got != "c" {
		t.Fatalf("Get after second Set = %q", got)
	}
	close(gate)
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(saved) == 0 || saved[len(saved)-1] != "c" {
		t.Fatalf("last persisted = %v, want c last", saved)
	}
}

func TestCellRefreshDoesNotClobberPendingWrite(t *testing.T) {
	remote := "public"
	var mu sync.Mutex
	gate := make(chan struct{})
	c := newCell(cellOptions[string]{
		name: "mode",
		load: func(context.Context) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			return remote, nil
		},
		save: func(_ context.Context, v string) error {
			<-gate
			mu.Lock()
			remote = v
			mu.Unlock()
			return nil
		},
	})
	ctx := context.Background()
	c.Get(ctx)
	c.Set(ctx, "private")

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Get(ctx); got != "private" {
		t.Fatalf("refresh clobbered pending write: %q", got)
	}

	close(gate)
	c.Flush()

	mu.Lock()
	remote = "public"
	mu.Unlock()
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Get(ctx); got != "public" {
		t.Fatalf("refresh did not absorb external change: %q", got)
	}
}

func TestCellRefreshRetriesFailedWrite(t *testing.T) {
	var mu sync.Mutex
	remote := "public"
	failures := 1
	c := newCell(cellOptions[string]{
		name: "mode",
		load: func(context.Context) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			return remote, nil
		},
		save: func(_ context.Context, v string) error {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return errors.New("store down")
			}
			remote = v
			return nil
		},
	})
	ctx := context.Background()
	c.Get(ctx)
	c.Set(ctx, "private")
	c.Flush()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Get(ctx); got != "private" {
		t.Fatalf("refresh reverted an unstored write: %q", got)
	}
	c.Flush()

	mu.Lock()
	stored := remote
	mu.Unlock()
	if stored != "private" {
		t.Fatalf("retry did not persist, remote = %q", stored)
	}

	// once stored, later refreshes absorb external changes again
	mu.Lock()
	remote = "public"
	mu.Unlock()
	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Get(ctx); got != "public" {
		t.Fatalf("external change not absorbed: %q", got)
	}
}
