package provider

import (
	"context"
	"sync"

	"go-metronome/debug"
	"go-metronome/voice"
)

type entry struct {
	done    chan struct{}
	h       Handle
	err     error
	waiters []func(Handle)
}

// Cache memoizes voice loads. Each voice id is requested from the provider
// at most once; failures are remembered too, so a broken voice stays silent
// until Reset.
type Cache struct {
	prov Provider
	ctx  context.Context

	mu      sync.Mutex
	entries map[string]*entry
}

func NewCache(ctx context.Context, prov Provider) *Cache {
	return &Cache{
		prov:    prov,
		ctx:     ctx,
		entries: make(map[string]*entry),
	}
}

// Ensure starts loading v if it has never been requested.
func (c *Cache) Ensure(v voice.Voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLocked(v)
}

func (c *Cache) ensureLocked(v voice.Voice) *entry {
	if e, ok := c.entries[v.ID]; ok {
		return e
	}
	e := &entry{done: make(chan struct{})}
	c.entries[v.ID] = e
	go c.load(e, v)
	return e
}

func (c *Cache) load(e *entry, v voice.Voice) {
	h, err := c.prov.LoadVoice(c.ctx, v)

	c.mu.Lock()
	e.h, e.err = h, err
	waiters := e.waiters
	e.waiters = nil
	close(e.done)
	c.mu.Unlock()

	if err != nil {
		debug.Warn("voice", "load %s (%s) failed: %v", v.ID, v.Source, err)
		return
	}
	debug.Log("voice", "loaded %s", v.ID)
	for _, fn := range waiters {
		fn(h)
	}
}

// Get returns the handle for a voice that finished loading successfully.
func (c *Cache) Get(id string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.h, e.err == nil
	default:
		return nil, false
	}
}

// Err returns the load error for a finished voice, or nil.
func (c *Cache) Err(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Await ensures v is loading and runs fn with its handle once the load
// succeeds. fn never runs on failure, and never on the caller's goroutine.
func (c *Cache) Await(v voice.Voice, fn func(Handle)) {
	c.mu.Lock()
	e := c.ensureLocked(v)
	select {
	case <-e.done:
		c.mu.Unlock()
		if e.err == nil {
			go fn(e.h)
		}
	default:
		e.waiters = append(e.waiters, fn)
		c.mu.Unlock()
	}
}

// Wait blocks until v has loaded, or ctx is done.
func (c *Cache) Wait(ctx context.Context, v voice.Voice) (Handle, error) {
	c.mu.Lock()
	e := c.ensureLocked(v)
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.h, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset forgets every load. In-flight loads finish into the old entries and
// their waiters still run.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}
