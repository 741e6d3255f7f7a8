package docstore

import (
	"context"
	"sync"
)

// MemoryDatabase keeps collections in process memory.
type MemoryDatabase struct {
	mu          sync.Mutex
	collections map[string]*MemoryCollection
	closed      bool
}

// NewMemoryDatabase creates an empty in-memory database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{collections: make(map[string]*MemoryCollection)}
}

// Collection returns the named collection, creating it on first use.
func (db *MemoryDatabase) Collection(name string) Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		c = NewMemoryCollection(name)
		c.db = db
		db.collections[name] = c
	}
	return c
}

func (db *MemoryDatabase) Ping(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (db *MemoryDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

func (db *MemoryDatabase) isClosed() bool {
	if db == nil {
		return false
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

type memoryEntry struct {
	key string
	doc Document
}

// MemoryCollection is an insertion-ordered collection. Documents are cloned
// on the way in and out so callers never share state with the store.
type MemoryCollection struct {
	name string
	db   *MemoryDatabase

	mu      sync.RWMutex
	entries []memoryEntry
	index   map[string]int
}

// NewMemoryCollection creates a standalone collection.
func NewMemoryCollection(name string) *MemoryCollection {
	return &MemoryCollection{name: name, index: make(map[string]int)}
}

func (c *MemoryCollection) Name() string { return c.name }

func (c *MemoryCollection) check(ctx context.Context) error {
	if c.db.isClosed() {
		return ErrClosed
	}
	return ctx.Err()
}

func (c *MemoryCollection) Count(ctx context.Context) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.entries)), nil
}

func (c *MemoryCollection) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Document, 0)
	for _, e := range c.entries {
		if Matches(e.doc, q) {
			out = append(out, e.doc.Clone())
		}
	}
	return out, nil
}

func (c *MemoryCollection) FindOne(ctx context.Context, q Query) (Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.first(q); i >= 0 {
		return c.entries[i].doc.Clone(), nil
	}
	return nil, nil
}

func (c *MemoryCollection) Insert(ctx context.Context, key string, doc Document) (Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.index[key]; taken {
		return nil, ErrDuplicateKey
	}
	c.append(key, doc)
	return doc.Clone(), nil
}

func (c *MemoryCollection) FindOneAndReplace(ctx context.Context, q Query, key string, doc Document, opts ReplaceOptions) (ReplaceResult, error) {
	if err := c.check(ctx); err != nil {
		return ReplaceResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.first(q); i >= 0 {
		prev := c.entries[i].doc
		c.entries[i].doc = doc.Clone()
		return ReplaceResult{Previous: prev, Matched: true}, nil
	}
	if !opts.Upsert {
		return ReplaceResult{}, nil
	}
	if _, taken := c.index[key]; taken {
		return ReplaceResult{}, ErrDuplicateKey
	}
	c.append(key, doc)
	return ReplaceResult{Inserted: true}, nil
}

func (c *MemoryCollection) Delete(ctx context.Context, q Query) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	var deleted int64
	for _, e := range c.entries {
		if Matches(e.doc, q) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = memoryEntry{}
	}
	c.entries = kept
	c.index = make(map[string]int, len(kept))
	for i, e := range kept {
		c.index[e.key] = i
	}
	return deleted, nil
}

// first returns the index of the first matching entry, or -1. Callers hold
// the lock.
func (c *MemoryCollection) first(q Query) int {
	for i, e := range c.entries {
		if Matches(e.doc, q) {
			return i
		}
	}
	return -1
}

func (c *MemoryCollection) append(key string, doc Document) {
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, memoryEntry{key: key, doc: doc.Clone()})
}
