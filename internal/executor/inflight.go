package executor

import (
	"sync"
	"time"
)

// InFlight tracks which sessions currently have an order submission running.
// It is safe for concurrent use.
type InFlight struct {
	mu      sync.Mutex
	holders map[string]time.Time // sessionID -> acquired at
}

// NewInFlight creates an empty InFlight set.
func NewInFlight() *InFlight {
	return &InFlight{holders: make(map[string]time.Time)}
}

// Acquire marks key as in flight. ok is false when another caller already
// holds it. The returned release is idempotent and must be called on every
// exit path, typically with defer.
func (f *InFlight) Acquire(key string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.holders[key]; held {
		return func() {}, false
	}
	f.holders[key] = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.holders, key)
			f.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently in flight.
func (f *InFlight) Held(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, held := f.holders[key]
	return held
}

// Len returns the number of in-flight keys.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.holders)
}
