package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshSwapsTokenAndFiresHook(t *testing.T) {
	c := NewCredentials(nil, "old", func(ctx context.Context, current string) (string, error) {
		if current != "old" {
			t.Fatalf("refresh got %q", current)
		}
		return "new", nil
	})

	var swapped string
	c.SetOnSwap(func(tok string) { swapped = tok })

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c.Token() != "new" || swapped != "new" {
		t.Fatalf("token = %q, hook = %q", c.Token(), swapped)
	}
}

func TestRefreshFailureKeepsOldToken(t *testing.T) {
	c := NewCredentials(nil, "old", func(ctx context.Context, current string) (string, error) {
		return "", errors.New("server down")
	})
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if c.Token() != "old" {
		t.Fatalf("token = %q, want old", c.Token())
	}
}

func TestAutoRefreshRotatesOnTimer(t *testing.T) {
	var n atomic.Int64
	c := NewCredentials(nil, "t0", func(ctx context.Context, current string) (string, error) {
		return current + "x", nil
	})
	c.SetOnSwap(func(string) { n.Add(1) })

	c.StartAutoRefresh(10 * time.Millisecond)
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("auto refresh never fired twice, swaps = %d", n.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Stop()
	settled := n.Load()
	time.Sleep(50 * time.Millisecond)
	if n.Load() != settled {
		t.Fatalf("refresh continued after Stop")
	}
}
