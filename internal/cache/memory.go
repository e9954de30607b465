package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carreto/dispatch/internal/models"
)

// MemoryPresence is the in-process PresenceStore used with the memory store.
type MemoryPresence struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]models.Presence
}

func NewMemoryPresence(ttl time.Duration, now func() time.Time) *MemoryPresence {
	if now == nil {
		now = time.Now
	}
	return &MemoryPresence{ttl: ttl, now: now, entries: map[string]models.Presence{}}
}

func (m *MemoryPresence) Heartbeat(ctx context.Context, p models.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.now()
	m.entries[p.DriverID] = p
	return nil
}

func (m *MemoryPresence) Get(ctx context.Context, driverID string) (*models.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[driverID]
	if !ok {
		return nil, nil
	}
	if m.now().Sub(p.UpdatedAt) >= m.ttl {
		delete(m.entries, driverID)
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryPresence) Remove(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, driverID)
	return nil
}

func (m *MemoryPresence) ListOnline(ctx context.Context, bairroID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	online := []string{}
	for id, p := range m.entries {
		if m.now().Sub(p.UpdatedAt) >= m.ttl {
			delete(m.entries, id)
			continue
		}
		if p.BairroID == bairroID {
			online = append(online, id)
		}
	}
	sort.Strings(online)
	return online, nil
}

// MemoryCooldown is the in-process CooldownStore used with the memory store.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]map[string]time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: map[string]map[string]time.Time{}}
}

func (m *MemoryCooldown) Add(ctx context.Context, driverID, rideID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.until[driverID] == nil {
		m.until[driverID] = map[string]time.Time{}
	}
	m.until[driverID][rideID] = until
	return nil
}

func (m *MemoryCooldown) Active(ctx context.Context, driverID string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := []string{}
	for rideID, until := range m.until[driverID] {
		if !now.Before(until) {
			delete(m.until[driverID], rideID)
			continue
		}
		active = append(active, rideID)
	}
	sort.Strings(active)
	return active, nil
}

var (
	_ PresenceStore = (*MemoryPresence)(nil)
	_ CooldownStore = (*MemoryCooldown)(nil)
)
