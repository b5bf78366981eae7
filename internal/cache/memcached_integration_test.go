//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"
)

// TestMemcachedCache_GetSet_Integration verifies that MemcachedCache successfully
// stores and retrieves values when memcached server is available.
func TestMemcachedCache_GetSet_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	val := testFlights(3500, 4200)
	if err := c.Set(ctx, "blr-atq-2026-11-02", val, time.Minute); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	got, ok, err := c.Get(ctx, "blr-atq-2026-11-02")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got) != 2 || got[0] != val[0] {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestMemcachedCache_Get_Stale_Integration verifies an entry at or past TTL is a miss and deleted.
func TestMemcachedCache_Get_Stale_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	clock := newFakeClock()
	c.now = clock.Now
	if err := c.Set(ctx, "stale key", testFlights(1), time.Minute); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}
	clock.Advance(time.Minute)

	if _, ok, err := c.Get(ctx, "stale key"); err != nil || ok {
		t.Fatalf("Get() = ok %v, err %v; want miss", ok, err)
	}
	c.now = time.Now
	if _, ok, _ := c.Get(ctx, "stale key"); ok {
		t.Error("stale entry should have been deleted")
	}
}

// TestMemcachedCache_Get_SetTTLWins_Integration verifies freshness follows the ttl given
// to Set even when the reading cache was built with a shorter one.
func TestMemcachedCache_Get_SetTTLWins_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	clock := newFakeClock()
	c.now = clock.Now
	if err := c.Set(ctx, "long ttl", testFlights(1), time.Hour); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}
	clock.Advance(10 * time.Minute)

	if _, ok, err := c.Get(ctx, "long ttl"); err != nil || !ok {
		t.Errorf("Get() = ok %v, err %v; want hit inside the 1h Set ttl", ok, err)
	}
}

// TestMemcachedCache_Get_Miss_Integration verifies that MemcachedCache returns
// ok=false when requested key does not exist in memcached.
func TestMemcachedCache_Get_Miss_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Skipf("Get failed (memcached may not be running): %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}
