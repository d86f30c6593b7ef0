// Package cache provides bounded in-process caches with per-entry TTL.
//
// [LRU] evicts the least recently used entry; [FIFO] evicts in insertion
// order, which keeps eviction predictable for short-lived result caches such
// as the query bus result cache. Both serialize access through a background
// goroutine and are safe for concurrent use; call Close when done. [Nop]
// disables caching behind the same interface.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	defer c.Close()
//
//	c.Put("key", value, cache.WithTTL(5*time.Minute))
//	if val, ok := c.Get("key"); ok {
//	    // use val
//	}
//
// [NewTyped] wraps any Cache with a concrete value type, so call sites need
// no assertions. Expired entries are dropped lazily on access.
package cache
