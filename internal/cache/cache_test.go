package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/flycompare/internal/models"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testFlights(prices ...float64) []models.FlightRecord {
	out := make([]models.FlightRecord, 0, len(prices))
	for _, p := range prices {
		out = append(out, models.FlightRecord{
			Airline:       "IndiGo",
			DepartureTime: "06:10",
			ArrivalTime:   "09:05",
			Price:         p,
			Source:        "IndiGo",
			BookingURL:    "https://www.goindigo.in",
		})
	}
	return out
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(10)

	val := testFlights(3200, 4100)
	if err := c.Set(ctx, "blr-atq-2026-11-02", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "blr-atq-2026-11-02")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got) != 2 || got[0] != val[0] || got[1] != val[1] {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache(10)

	got, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok || got != nil {
		t.Errorf("Get() = %v, %v; want nil, false for miss", got, ok)
	}
}

// TestInMemoryCache_Get_Expired verifies the TTL boundary: an entry is served
// just before TTL, and at exactly TTL it is a miss and removed.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCache(10, WithClock(clock.Now))

	if err := c.Set(ctx, "k", testFlights(5000), 15*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(15*time.Minute - time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() just before TTL ok = false, want true")
	}

	clock.Advance(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("Get() at TTL ok = true, want false")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() after expired read = %d, want 0 (entry removed)", n)
	}
}

// TestInMemoryCache_Set_Overwrites verifies Set replaces the entry and refreshes its timestamp.
func TestInMemoryCache_Set_Overwrites(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCache(10, WithClock(clock.Now))

	_ = c.Set(ctx, "k", testFlights(1000), 15*time.Minute)
	clock.Advance(10 * time.Minute)
	_ = c.Set(ctx, "k", testFlights(2000), 15*time.Minute)
	clock.Advance(10 * time.Minute)

	got, ok, _ := c.Get(ctx, "k")
	if !ok {
		t.Fatal("Get() ok = false, want true: overwrite should refresh timestamp")
	}
	if len(got) != 1 || got[0].Price != 2000 {
		t.Errorf("Get() = %+v, want overwritten value", got)
	}
}

// TestInMemoryCache_EmptyResultIsHit verifies an empty aggregation is cached and served as a hit.
func TestInMemoryCache_EmptyResultIsHit(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(10)

	_ = c.Set(ctx, "k", nil, time.Minute)
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v; want hit", got, ok, err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Get() = %#v, want empty non-nil slice", got)
	}
}

// TestInMemoryCache_CopiesValues verifies callers cannot mutate cached records.
func TestInMemoryCache_CopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(10)

	val := testFlights(3000)
	_ = c.Set(ctx, "k", val, time.Minute)
	val[0].Price = 1

	got, _, _ := c.Get(ctx, "k")
	got[0].Price = 2

	again, _, _ := c.Get(ctx, "k")
	if again[0].Price != 3000 {
		t.Errorf("cached price = %v, want 3000", again[0].Price)
	}
}

// TestInMemoryCache_EvictsLeastRecentlyUsed verifies the capacity bound.
func TestInMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(2)

	_ = c.Set(ctx, "a", testFlights(1), time.Minute)
	_ = c.Set(ctx, "b", testFlights(2), time.Minute)
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("Get(a) ok = false, want true")
	}
	_ = c.Set(ctx, "c", testFlights(3), time.Minute)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("Get(b) ok = true, want b evicted as least recently used")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Errorf("Get(%s) ok = false, want true", k)
		}
	}
	if n := c.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

func TestInMemoryCache_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCache(10, WithClock(clock.Now))

	_ = c.Set(ctx, "old", testFlights(1), time.Minute)
	clock.Advance(30 * time.Second)
	_ = c.Set(ctx, "new", testFlights(2), time.Minute)
	clock.Advance(45 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok, _ := c.Get(ctx, "new"); !ok {
		t.Error("Get(new) ok = false, want true after sweep")
	}
	if n := c.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestInMemoryCache_RunSweeper_StopsOnCancel(t *testing.T) {
	c := NewInMemoryCache(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunSweeper(ctx, time.Millisecond, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(16)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%8)
			_ = c.Set(ctx, key, testFlights(float64(i+1)), time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	if n := c.Len(); n > 8 {
		t.Errorf("Len() = %d, want <= 8", n)
	}
}

func TestDecodeEntry_Stale(t *testing.T) {
	stored := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	raw, err := encodeEntry(testFlights(4200), stored, 15*time.Minute)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	if !strings.Contains(string(raw), `"data"`) || !strings.Contains(string(raw), `"timestamp"`) {
		t.Errorf("encoded entry = %s, want data and timestamp fields", raw)
	}
	if !strings.Contains(string(raw), `"ttl_seconds":900`) {
		t.Errorf("encoded entry = %s, want ttl_seconds 900", raw)
	}

	// The stored ttl wins over the reader's fallback.
	e, err := decodeEntry(raw, time.Minute)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if e.stale(stored.Add(14 * time.Minute)) {
		t.Error("stale() = true at 14m, want false")
	}
	if !e.stale(stored.Add(15 * time.Minute)) {
		t.Error("stale() = false at 15m, want true")
	}

	if _, err := decodeEntry([]byte("not json"), time.Minute); err == nil {
		t.Error("decodeEntry() error = nil for garbage, want error")
	}
}

func TestDecodeEntry_FallbackTTL(t *testing.T) {
	stored := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	raw := []byte(`{"data":[],"timestamp":"2026-11-02T09:00:00Z"}`)

	e, err := decodeEntry(raw, 5*time.Minute)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if e.stale(stored.Add(4 * time.Minute)) {
		t.Error("stale() = true at 4m, want false under the 5m fallback")
	}
	if !e.stale(stored.Add(5 * time.Minute)) {
		t.Error("stale() = false at 5m, want true under the 5m fallback")
	}
}

func TestEncodeKey(t *testing.T) {
	if got := encodeKey("new delhi-goa-2026-11-02"); strings.ContainsAny(got, " \n") {
		t.Errorf("encodeKey() = %q, want no whitespace", got)
	}
	long := strings.Repeat("x", 300)
	if got := encodeKey(long); len(got) != 64 {
		t.Errorf("encodeKey(long) length = %d, want 64 (hashed)", len(got))
	}
}
