package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

type summary struct {
	Total string `json:"total"`
	Sales int    `json:"sales"`
}

func TestMemoryRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := NewMemory()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "dashboard:user-1", summary{Total: "2625.00", Sales: 3}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got summary
	found, err := c.Get(ctx, "dashboard:user-1", &got)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.Total != "2625.00" || got.Sales != 3 {
		t.Fatalf("unexpected cached value %+v", got)
	}

	now = now.Add(time.Minute)
	found, _ = c.Get(ctx, "dashboard:user-1", &got)
	if found {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	_ = c.Set(ctx, "dashboard:a", summary{Sales: 1}, 0)
	_ = c.Set(ctx, "dashboard:b", summary{Sales: 2}, 0)
	_ = c.Set(ctx, "report:a", summary{Sales: 3}, 0)

	if err := c.DeletePrefix(ctx, "dashboard:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}

	var got summary
	if found, _ := c.Get(ctx, "dashboard:a", &got); found {
		t.Fatalf("dashboard:a should be gone")
	}
	if found, _ := c.Get(ctx, "report:a", &got); !found {
		t.Fatalf("report:a should survive")
	}
}

func TestNoopNeverHits(t *testing.T) {
	var c Cache = Noop{}
	_ = c.Set(context.Background(), "k", summary{Sales: 1}, time.Minute)
	var got summary
	if found, err := c.Get(context.Background(), "k", &got); found || err != nil {
		t.Fatalf("noop cache returned found=%v err=%v", found, err)
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("CIDPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set CIDPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	c := NewRedis(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	key := "cidpos-test:" + time.Now().Format(time.RFC3339Nano)
	if err := c.Set(ctx, key, summary{Sales: 7}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got summary
	found, err := c.Get(ctx, key, &got)
	if err != nil || !found || got.Sales != 7 {
		t.Fatalf("unexpected get found=%v err=%v got=%+v", found, err, got)
	}
	if err := c.DeletePrefix(ctx, "cidpos-test:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if found, _ := c.Get(ctx, key, &got); found {
		t.Fatalf("expected key to be deleted")
	}
}
