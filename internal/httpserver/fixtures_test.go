package httpserver

import (
	"io/fs"
	"sync"
	"testing/fstest"
	"time"
)

func staticFS() fs.FS {
	return fstest.MapFS{
		"style.css": {Data: []byte("body{}")},
	}
}

// testClock is a manually advanced clock for the limiter, safe to read from
// its cleanup goroutine
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
