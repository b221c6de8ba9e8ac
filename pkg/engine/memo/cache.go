// Package memo provides the TTL-keyed memoization cache for host function
// calls. The cache is an injected dependency, shared across concurrent
// evaluations; entries are independently keyed so racing writers simply
// overwrite each other (last-writer-wins).
package memo

import (
	"strings"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/pkg/value"
)

// DefaultTTL applies when a memo annotation names no explicit duration.
const DefaultTTL = 300 * time.Second

// Cache is the contract the evaluator memoizes host calls through. Injected,
// never a package singleton, so servers can scope or mock it.
type Cache interface {
	Get(key string) (value.Value, bool)
	Set(key string, v value.Value, ttl time.Duration)
	Expire()
}

// TTLCache is the in-memory Cache used by the server. Safe for concurrent
// use.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	now        func() time.Time
	observe    func(hit bool)
	defaultTTL time.Duration
}

type entry struct {
	value    value.Value
	deadline time.Time
}

// Option configures a TTLCache.
type Option func(*TTLCache)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) { c.now = now }
}

// WithObserver registers a callback invoked on every lookup with its outcome.
// The server wires this to the cache hit/miss counters.
func WithObserver(observe func(hit bool)) Option {
	return func(c *TTLCache) { c.observe = observe }
}

// WithDefaultTTL overrides DefaultTTL for entries stored without an explicit
// duration. Non-positive values are ignored.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *TTLCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// NewTTLCache constructs an empty cache.
func NewTTLCache(opts ...Option) *TTLCache {
	c := &TTLCache{
		entries:    make(map[string]entry),
		now:        time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a live entry; expired entries read as misses.
func (c *TTLCache) Get(key string) (value.Value, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	live := ok && !c.now().After(e.deadline)
	if c.observe != nil {
		c.observe(live)
	}
	if !live {
		return value.Undefined, false
	}
	return e.value, true
}

// Set stores a value until now+ttl. A zero or negative ttl selects the
// cache's default (DefaultTTL unless WithDefaultTTL overrode it).
func (c *TTLCache) Set(key string, v value.Value, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: v, deadline: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Expire drops entries past their deadline. Reads already treat stale entries
// as misses; this only reclaims memory.
func (c *TTLCache) Expire() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if now.After(e.deadline) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of stored entries, live or stale.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Key builds a cache key from the callee identity and its canonicalized
// arguments.
func Key(module, fn string, args []value.Value) string {
	var b strings.Builder
	b.WriteString(module)
	b.WriteByte('.')
	b.WriteString(fn)
	for _, a := range args {
		b.WriteByte('\x00')
		writeCanonical(&b, a)
	}
	return b.String()
}

// writeCanonical renders a value deterministically: map keys are emitted in
// sorted order so two equal maps always share a key.
func writeCanonical(b *strings.Builder, v value.Value) {
	switch v.Kind() {
	case value.KindUndefined:
		b.WriteString("u:")
	case value.KindNull:
		b.WriteString("z:")
	case value.KindTrinary:
		b.WriteString("t:" + v.Tri().String())
	case value.KindNumber:
		b.WriteString("n:")
		b.WriteString(formatNumber(v.Num()))
	case value.KindString:
		b.WriteString("s:" + v.Str())
	case value.KindList, value.KindRecord:
		b.WriteString("l[")
		for _, e := range v.Elems() {
			writeCanonical(b, e)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case value.KindMap:
		b.WriteString("m{")
		for _, k := range sortedKeys(v.Fields()) {
			b.WriteString(k)
			b.WriteByte('=')
			writeCanonical(b, v.Fields()[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	default:
		b.WriteString("d:")
		b.WriteString(v.String())
	}
}
