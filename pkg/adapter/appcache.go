package adapter

import (
	"sync"

	"portico/pkg/kernel"
)

// AppCache memoizes the constructed application handler across invocations
// on a warm instance. Function platforms keep the process alive between
// events; rebuilding routing tables and database pools on every event would
// throw that warmth away.
type AppCache struct {
	mu    sync.Mutex
	h     kernel.Handler
	built bool
}

// Get returns the cached handler, building it on first use. cold reports
// whether this call performed the build. A failed build caches nothing, so
// the next invocation retries.
func (c *AppCache) Get(build func() (kernel.Handler, error)) (h kernel.Handler, cold bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built {
		return c.h, false, nil
	}
	h, err = build()
	if err != nil {
		return nil, true, err
	}
	c.h = h
	c.built = true
	return h, true, nil
}

// Reset drops the cached handler. The next Get builds fresh. Used by tests
// and by hosts that recycle instances in place.
func (c *AppCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h = nil
	c.built = false
}
