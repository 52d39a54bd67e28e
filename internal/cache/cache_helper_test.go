package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestHelper(t *testing.T) (*CacheHelper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheHelper(client, "test:"), mr
}

func TestCacheHelper_SetAndGet(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := helper.Set(ctx, "k1", payload{Name: "exam", Count: 3}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	if err := helper.Get(ctx, "k1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "exam" || got.Count != 3 {
		t.Errorf("Get returned %+v", got)
	}
}

func TestCacheHelper_GetMissing(t *testing.T) {
	helper, _ := newTestHelper(t)

	var out string
	err := helper.Get(context.Background(), "absent", &out)
	if !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("err = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelper_Delete(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	_ = helper.SetString(ctx, "k1", "v1", time.Minute)
	_ = helper.SetString(ctx, "k2", "v2", time.Minute)

	if err := helper.Delete(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := helper.GetString(ctx, "k1"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("k1 still present after delete: %v", err)
	}
}

func TestCacheHelper_Touch(t *testing.T) {
	helper, mr := newTestHelper(t)
	ctx := context.Background()

	if err := helper.SetString(ctx, "live", "ok", time.Second); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := helper.Touch(ctx, "live", time.Minute); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	if ttl := mr.TTL("test:live"); ttl < 2*time.Second {
		t.Errorf("TTL after touch = %v, want about a minute", ttl)
	}
}

func TestCacheHelper_CacheOrExecute(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	calls := 0
	load := func() (interface{}, error) {
		calls++
		return map[string]int{"count": 7}, nil
	}

	var first map[string]int
	if err := helper.CacheOrExecute(ctx, "stats", &first, time.Minute, load); err != nil {
		t.Fatalf("CacheOrExecute: %v", err)
	}

	var second map[string]int
	if err := helper.CacheOrExecute(ctx, "stats", &second, time.Minute, load); err != nil {
		t.Fatalf("CacheOrExecute cached: %v", err)
	}

	if calls != 1 {
		t.Errorf("loader ran %d times, want 1", calls)
	}
	if second["count"] != 7 {
		t.Errorf("cached value = %v", second)
	}
}

func TestCacheHelper_NilClientDegradesGracefully(t *testing.T) {
	helper := NewCacheHelper(nil, "test:")
	ctx := context.Background()

	if err := helper.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Errorf("Set with nil client: %v", err)
	}
	if err := helper.Get(ctx, "k", new(string)); !errors.Is(err, ErrCacheNotAvailable) {
		t.Errorf("Get err = %v, want ErrCacheNotAvailable", err)
	}

	// CacheOrExecute must still run the loader.
	var out string
	err := helper.CacheOrExecute(ctx, "k", &out, time.Minute, func() (interface{}, error) {
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("CacheOrExecute with nil client: %v", err)
	}
	if out != "fresh" {
		t.Errorf("out = %q, want fresh", out)
	}
}

func TestCacheManager_ClearAll(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	manager := NewCacheManager(client)
	ctx := context.Background()

	_ = manager.Paper.SetString(ctx, "1", "p", time.Minute)
	_ = manager.Liveness.SetString(ctx, "42", "now", time.Minute)

	if err := manager.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if _, err := manager.Paper.GetString(ctx, "1"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("paper key survived ClearAll: %v", err)
	}
	if _, err := manager.Liveness.GetString(ctx, "42"); !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("liveness key survived ClearAll: %v", err)
	}
}
