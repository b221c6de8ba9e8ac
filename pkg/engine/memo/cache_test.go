package memo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/value"
)

func TestTTLCacheHitAndExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := NewTTLCache(WithClock(func() time.Time { return now }))

	key := Key("risk", "score", []value.Value{value.String("ada")})
	cache.Set(key, value.Number(0.7), time.Second)

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.True(t, value.Equal(got, value.Number(0.7)))

	// Past the deadline the entry reads as a miss.
	now = now.Add(1500 * time.Millisecond)
	_, ok = cache.Get(key)
	assert.False(t, ok)

	// Expire reclaims it.
	assert.Equal(t, 1, cache.Len())
	cache.Expire()
	assert.Equal(t, 0, cache.Len())
}

func TestTTLCacheDefaultTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := NewTTLCache(WithClock(func() time.Time { return now }))

	cache.Set("k", value.Number(1), 0)

	now = now.Add(DefaultTTL - time.Second)
	_, ok := cache.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheConfiguredDefaultTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := NewTTLCache(
		WithClock(func() time.Time { return now }),
		WithDefaultTTL(10*time.Second),
	)

	cache.Set("k", value.Number(1), 0)

	now = now.Add(9 * time.Second)
	_, ok := cache.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheObserverSeesHitsAndMisses(t *testing.T) {
	var hits, misses int
	cache := NewTTLCache(WithObserver(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))

	cache.Get("absent")
	cache.Set("k", value.Number(1), time.Minute)
	cache.Get("k")
	cache.Get("k")

	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
}

func TestKeyCanonicalizesMapOrder(t *testing.T) {
	a := value.Map(map[string]value.Value{"x": value.Number(1), "y": value.Number(2)})
	b := value.Map(map[string]value.Value{"y": value.Number(2), "x": value.Number(1)})
	assert.Equal(t,
		Key("m", "f", []value.Value{a}),
		Key("m", "f", []value.Value{b}),
	)
	assert.NotEqual(t,
		Key("m", "f", []value.Value{a}),
		Key("m", "g", []value.Value{a}),
	)
}

func TestKeyDistinguishesArgKinds(t *testing.T) {
	assert.NotEqual(t,
		Key("m", "f", []value.Value{value.String("1")}),
		Key("m", "f", []value.Value{value.Number(1)}),
	)
}
