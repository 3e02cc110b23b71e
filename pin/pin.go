// Package pin implements short-lived, operator-supplied facts that are
// re-injected into every packed prompt regardless of compaction.
package pin

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Pin is a single pinned fact with an optional expiry.
type Pin struct {
	ID        string
	Text      string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the pin has outlived its TTL as of now.
func (p Pin) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Manager holds the pin set for one session. It is safe for concurrent
// use; expired pins are purged lazily on every read. Insertion order is
// preserved via order, since Go maps have no stable iteration order.
type Manager struct {
	mu     sync.Mutex
	pins   map[string]Pin
	order  []string
	nextID int
	now    func() time.Time
}

// NewManager returns an empty pin manager using time.Now for expiry
// checks.
func NewManager() *Manager {
	return &Manager{pins: make(map[string]Pin), nextID: 1, now: time.Now}
}

// AddPin stores text as a new pin, optionally expiring after ttl. An
// empty (after trimming) text is rejected.
func (m *Manager) AddPin(text string, ttl time.Duration) (Pin, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Pin{}, fmt.Errorf("pin: text must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("pin-%d", m.nextID)
	m.nextID++
	created := m.now()
	p := Pin{ID: id, Text: trimmed, CreatedAt: created}
	if ttl > 0 {
		expires := created.Add(ttl)
		p.ExpiresAt = &expires
	}
	m.pins[id] = p
	m.order = append(m.order, id)
	return p, nil
}

// RemovePin deletes the pin with the given ID, reporting whether it
// existed.
func (m *Manager) RemovePin(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pins[id]; !ok {
		return false
	}
	delete(m.pins, id)
	m.removeFromOrderLocked(id)
	return true
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// clearExpiredLocked removes every pin whose TTL has elapsed. Callers
// must hold m.mu.
func (m *Manager) clearExpiredLocked() {
	now := m.now()
	for id, p := range m.pins {
		if p.Expired(now) {
			delete(m.pins, id)
			m.removeFromOrderLocked(id)
		}
	}
}

// ListPins purges expired pins and returns the remainder in insertion
// order.
func (m *Manager) ListPins() []Pin {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearExpiredLocked()
	out := make([]Pin, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.pins[id])
	}
	return out
}

// Size returns the current (unpurged) pin count.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pins)
}
