// Package cache stores compiled programs keyed by a digest of their
// source, so unchanged scripts skip the compiler on later runs.
package cache

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mr-tron/base58"
	"github.com/tliron/commonlog"
	"github.com/zeebo/blake3"

	"github.com/chazu/bytevm/compiler"
	"github.com/chazu/bytevm/image"
	"github.com/chazu/bytevm/vm"
)

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("cache: entry not found")

// Key is the BLAKE3 digest of a program's source.
type Key [32]byte

// KeyOf returns the cache key for src compiled with opts. The runtime and
// image versions are mixed in so upgrades never load stale code.
func KeyOf(src string, opts ...compiler.Option) Key {
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00image/%d\x00%s\x00", vm.Version, image.Version, compiler.Fingerprint(opts...))
	h.Write([]byte(src))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// String renders the key in base58.
func (k Key) String() string {
	return base58.Encode(k[:])
}

// ParseKey parses a base58 key.
func ParseKey(s string) (Key, error) {
	var k Key
	data, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("cache: invalid key %q: %w", s, err)
	}
	if len(data) != len(k) {
		return k, fmt.Errorf("cache: invalid key length %d", len(data))
	}
	copy(k[:], data)
	return k, nil
}

// Store persists encoded images.
type Store interface {
	Get(key Key) ([]byte, error)
	Put(key Key, data []byte) error
	Close() error
}

// Open opens a store for the named backend: "sqlite", "bolt" or "badger".
// For badger, path is a directory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(path)
	case "bolt":
		return OpenBolt(path)
	case "badger":
		return OpenBadger(path)
	}
	return nil, fmt.Errorf("cache: unknown backend %q", backend)
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// Cache compiles source through a Store.
type Cache struct {
	store  Store
	log    commonlog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New wraps store.
func New(store Store) *Cache {
	return &Cache{store: store, log: commonlog.GetLogger("bytevm.cache")}
}

// Compile returns the compiled form of src, from the store when present.
// Store failures are logged and fall back to compiling; only syntax
// errors are returned.
func (c *Cache) Compile(src string, opts ...compiler.Option) ([]vm.Instruction, Key, error) {
	key := KeyOf(src, opts...)

	data, err := c.store.Get(key)
	switch {
	case err == nil:
		code, derr := image.Decode(data)
		if derr == nil {
			c.hits.Add(1)
			c.log.Debugf("cache hit %s", key)
			return code, key, nil
		}
		c.log.Warningf("discarding unreadable cache entry %s: %s", key, derr)
	case !errors.Is(err, ErrNotFound):
		c.log.Warningf("cache lookup %s: %s", key, err)
	}

	c.misses.Add(1)
	code, err := compiler.CompileSource(src, opts...)
	if err != nil {
		return nil, key, err
	}
	if data, err := image.Encode(code); err != nil {
		c.log.Warningf("cannot encode %s: %s", key, err)
	} else if err := c.store.Put(key, data); err != nil {
		c.log.Warningf("cache store %s: %s", key, err)
	}
	return code, key, nil
}

// Stats returns the number of hits and misses so far.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
