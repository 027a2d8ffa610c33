package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/ticket"
)

// MemoryStore is an in-memory Store with the same atomicity semantics as
// the distributed backends. It backs tests and single-node deployments
// where Redis is unavailable; data does not survive a restart.
//
// Records are kept in serialized form so reads hand out independent
// copies, matching the aliasing behavior of the real backends. Update is
// strict: writing a vanished record fails with ticket.ErrTicketNotFound.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]byte
	useCount map[string]int
	parents  map[string]string
	children map[string]map[string]struct{}
	logger   *logrus.Logger
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]byte),
		useCount: make(map[string]int),
		parents:  make(map[string]string),
		children: make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

// Close implements Store. The memory store holds no external resources.
func (m *MemoryStore) Close() error { return nil }

// Ping implements Store; memory is always reachable.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, t *ticket.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[t.ID]; exists {
		return fmt.Errorf("%w: %s", ticket.ErrDuplicateTicket, t.ID)
	}
	m.records[t.ID] = data
	m.useCount[t.ID] = t.UseCount
	if t.ParentID != "" {
		m.parents[t.ID] = t.ParentID
		if m.children[t.ParentID] == nil {
			m.children[t.ParentID] = make(map[string]struct{})
		}
		m.children[t.ParentID][t.ID] = struct{}{}
	}

	m.logger.WithField("ticket_id", t.ID).Debug("Ticket stored in memory")
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*ticket.Ticket, error) {
	m.mu.RLock()
	data, exists := m.records[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ticket.ErrTicketNotFound, id)
	}

	var t ticket.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", id, err)
	}
	return &t, nil
}

// Update implements Store. Strict: a vanished record is reported, not
// recreated.
func (m *MemoryStore) Update(_ context.Context, t *ticket.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[t.ID]; !exists {
		return fmt.Errorf("%w: %s", ticket.ErrTicketNotFound, t.ID)
	}
	m.records[t.ID] = data
	m.useCount[t.ID] = t.UseCount
	return nil
}

// CompareAndDelete implements Store.
func (m *MemoryStore) CompareAndDelete(_ context.Context, id string, expectedUses int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.useCount[id]
	if !exists || current != expectedUses {
		return false, nil
	}
	m.removeLocked(id)
	return true, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		return false, nil
	}
	m.removeLocked(id)
	return true, nil
}

// removeLocked deletes a record and detaches it from the child index.
// Callers hold the write lock.
func (m *MemoryStore) removeLocked(id string) {
	delete(m.records, id)
	delete(m.useCount, id)
	if parent, ok := m.parents[id]; ok {
		delete(m.parents, id)
		if set := m.children[parent]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.children, parent)
			}
		}
	}
	delete(m.children, id)
}

// DeleteAll implements Store.
func (m *MemoryStore) DeleteAll(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.records)
	m.records = make(map[string][]byte)
	m.useCount = make(map[string]int)
	m.parents = make(map[string]string)
	m.children = make(map[string]map[string]struct{})

	m.logger.WithField("tickets_removed", count).Debug("Memory store flushed")
	return count, nil
}

// Children implements Store.
func (m *MemoryStore) Children(_ context.Context, parentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.children[parentID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

// Scan implements Store.
func (m *MemoryStore) Scan(_ context.Context, visit func(*ticket.Ticket) error) error {
	m.mu.RLock()
	snapshot := make([][]byte, 0, len(m.records))
	for _, data := range m.records {
		snapshot = append(snapshot, data)
	}
	m.mu.RUnlock()

	for _, data := range snapshot {
		var t ticket.Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("failed to unmarshal stored ticket: %w", err)
		}
		if err := visit(&t); err != nil {
			return err
		}
	}
	return nil
}
