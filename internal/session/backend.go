package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"gatepro/portal/internal/model"
)

var ErrNoClientID = errors.New("missing_client_id")

// Snapshot is what the Token Store persists: the token and the cached user.
type Snapshot struct {
	Token string      `json:"token"`
	User  *model.User `json:"user,omitempty"`
}

// Empty reports whether nothing is stored.
func (s Snapshot) Empty() bool {
	return s.Token == "" && s.User == nil
}

// Backend is the persistent half of the Token Store. Load returns an empty
// Snapshot when nothing is stored or the entry expired.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// Backends hands out one Backend per browser client.
type Backends interface {
	For(clientID string) (Backend, error)
}

type record struct {
	Snapshot
	ExpiresAt time.Time `json:"expires_at"`
}

func (r record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type MemoryBackend struct {
	mu  sync.Mutex
	rec *record
	now func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{now: time.Now}
}

func (m *MemoryBackend) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return Snapshot{}, nil
	}
	if m.rec.expired(m.now()) {
		m.rec = nil
		return Snapshot{}, nil
	}
	return cloneSnapshot(m.rec.Snapshot), nil
}

func (m *MemoryBackend) Save(_ context.Context, snap Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &record{Snapshot: cloneSnapshot(snap)}
	if ttl > 0 {
		rec.ExpiresAt = m.now().Add(ttl)
	}
	m.rec = rec
	return nil
}

// live reports whether an unexpired entry is stored.
func (m *MemoryBackend) live(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec != nil && !m.rec.expired(now)
}

func (m *MemoryBackend) Delete(_ context.Context) error {
	m.mu.Lock()
	m.rec = nil
	m.mu.Unlock()
	return nil
}

// DefaultSlotIdle is how long an empty per-client slot survives without
// being looked up.
const DefaultSlotIdle = 5 * time.Minute

type memorySlot struct {
	backend    *MemoryBackend
	lastAccess time.Time
}

// MemoryBackends keeps per-client backends in process memory. Used when no
// Redis is configured. Slots that hold nothing, or only an expired entry,
// are evicted by Prune once idle for longer than DefaultSlotIdle.
type MemoryBackends struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
	idle  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewMemoryBackends() *MemoryBackends {
	return &MemoryBackends{
		slots:  make(map[string]*memorySlot),
		idle:   DefaultSlotIdle,
		stopCh: make(chan struct{}),
	}
}

func (m *MemoryBackends) For(clientID string) (Backend, error) {
	if clientID == "" {
		return nil, ErrNoClientID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[clientID]
	if !ok {
		slot = &memorySlot{backend: NewMemoryBackend()}
		m.slots[clientID] = slot
	}
	slot.lastAccess = time.Now()
	return slot.backend, nil
}

// Len reports how many client slots are held.
func (m *MemoryBackends) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Prune evicts idle slots with nothing live in them and returns how many
// were removed.
func (m *MemoryBackends) Prune() int {
	return m.prune(time.Now())
}

// StartCleanup prunes every interval until Stop is called.
func (m *MemoryBackends) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Prune()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *MemoryBackends) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *MemoryBackends) prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, slot := range m.slots {
		if now.Sub(slot.lastAccess) <= m.idle {
			continue
		}
		if slot.backend.live(now) {
			continue
		}
		delete(m.slots, id)
		removed++
	}
	return removed
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Token: s.Token}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
