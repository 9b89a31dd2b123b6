// Package ledger accumulates pending schedule edits before publishing.
// A ledger is session-scoped working state: it never touches persisted
// rows itself.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"daypartd/internal/model"
)

// Summary counts ledger entries by change type for display.
type Summary struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
	Total   int `json:"total"`
}

// Ledger is an ordered list of staged changes. It is not safe for
// concurrent use; the Manager serializes access per session.
type Ledger struct {
	entries []model.StagedChange
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Add validates and appends a change. A second update to the same
// (target_table, target_id) replaces the earlier update in place,
// keeping its original position. Creates and deletes always append.
func (l *Ledger) Add(c model.StagedChange) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("staged change rejected: %w", err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StagedAt.IsZero() {
		c.StagedAt = time.Now()
	}

	if c.Type == model.ChangeUpdate {
		for i, existing := range l.entries {
			if existing.Type == model.ChangeUpdate && existing.SameTarget(c) {
				c.ID = existing.ID
				l.entries[i] = c
				return nil
			}
		}
	}

	l.entries = append(l.entries, c)
	return nil
}

// Remove deletes the entry at the given position.
func (l *Ledger) Remove(index int) error {
	if index < 0 || index >= len(l.entries) {
		return fmt.Errorf("staged change index %d out of range (len %d)", index, len(l.entries))
	}
	l.entries = append(l.entries[:index], l.entries[index+1:]...)
	return nil
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.entries = nil
}

// Len returns the number of staged changes.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the staged changes in ledger order.
func (l *Ledger) Entries() []model.StagedChange {
	out := make([]model.StagedChange, len(l.entries))
	copy(out, l.entries)
	return out
}

// Summary recounts the live entries on every call so the numbers can
// never drift from the list itself.
func (l *Ledger) Summary() Summary {
	var s Summary
	for _, c := range l.entries {
		switch c.Type {
		case model.ChangeCreate:
			s.Creates++
		case model.ChangeUpdate:
			s.Updates++
		case model.ChangeDelete:
			s.Deletes++
		}
	}
	s.Total = len(l.entries)
	return s
}

// Manager hands out one ledger per operator session.
type Manager struct {
	mu      sync.Mutex
	ledgers map[string]*Ledger
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{ledgers: make(map[string]*Ledger)}
}

// Session returns the ledger for the session, creating it on first use.
// The returned function must be called to release the session lock.
func (m *Manager) Session(sessionID string) (*Ledger, func()) {
	m.mu.Lock()
	l, ok := m.ledgers[sessionID]
	if !ok {
		l = New()
		m.ledgers[sessionID] = l
	}
	return l, m.mu.Unlock
}

// Drop discards a session's ledger.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	delete(m.ledgers, sessionID)
	m.mu.Unlock()
}
