// ABOUTME: Thread-safe in-flight guard that rejects double submissions
// ABOUTME: Keys are claimed for a bounded window and released once the submit settles

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// claim is a held key and its position in claim order.
type claim struct {
	at      time.Time
	element *list.Element
}

// Guard tracks submit keys that are in flight. A key stays claimed until it
// is released or its window elapses, whichever comes first, so a lost
// release can never block a key forever.
type Guard struct {
	mu      sync.Mutex
	held    map[string]*claim
	order   *list.List // keys in claim order, oldest at front
	window  time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a guard whose claims last at most window. At most maxSize keys
// are tracked; the oldest claim is dropped when the guard is full.
func New(window time.Duration, maxSize int) *Guard {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Guard{
		held:    make(map[string]*claim),
		order:   list.New(),
		window:  window,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Key derives a fixed-size guard key from a scope (e.g. a conversation id)
// and a payload.
func Key(scope, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return scope + ":" + hex.EncodeToString(sum[:12])
}

// Claim atomically claims key. It returns false if key is already held
// within its window, meaning the caller is submitting a duplicate.
func (g *Guard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if c, ok := g.held[key]; ok {
		if now.Sub(c.at) < g.window {
			return false
		}
		g.removeLocked(key, c)
	}

	if len(g.held) >= g.maxSize {
		g.expireLocked(now)
	}
	if len(g.held) >= g.maxSize {
		if front := g.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			g.removeLocked(oldest, g.held[oldest])
		}
	}

	g.held[key] = &claim{at: now, element: g.order.PushBack(key)}
	return true
}

// Release frees key so an identical payload may be submitted again.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.held[key]; ok {
		g.removeLocked(key, c)
	}
}

// Len returns the number of tracked claims, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

// removeLocked must be called with mu held.
func (g *Guard) removeLocked(key string, c *claim) {
	g.order.Remove(c.element)
	delete(g.held, key)
}

// expireLocked drops claims older than the window. Claims are ordered by
// time so it stops at the first live one. Must be called with mu held.
func (g *Guard) expireLocked(now time.Time) {
	for front := g.order.Front(); front != nil; front = g.order.Front() {
		key, _ := front.Value.(string)
		c := g.held[key]
		if now.Sub(c.at) < g.window {
			return
		}
		g.removeLocked(key, c)
	}
}
