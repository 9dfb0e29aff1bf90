// Package session manages live conversation state per (user, session) pair.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nrudakov/tellerbot/internal/domain"
	"github.com/nrudakov/tellerbot/internal/store"
)

// Manager owns the live conversations and serializes access to each one.
// A host must never dispatch two concurrent turns against the same
// conversation; With enforces that with a per-session lock. Independent
// sessions proceed concurrently.
type Manager struct {
	mu   sync.Mutex
	repo store.Repository
	live map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	conv     *domain.Conversation
	lastUsed time.Time
}

// NewManager creates a session manager backed by the given repository.
func NewManager(repo store.Repository) *Manager {
	return &Manager{
		repo: repo,
		live: make(map[string]*entry),
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// With runs fn against the conversation for (userID, sessionID) under its
// session lock. The conversation is hydrated from the store on first use
// and a snapshot is persisted after fn returns successfully. If fn fails,
// nothing is persisted; the engine guarantees no state was mutated on its
// error paths.
func (m *Manager) With(ctx context.Context, userID, sessionID string, fn func(conv *domain.Conversation) error) error {
	e := m.entryFor(userID, sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conv == nil {
		conv, err := m.repo.GetConversation(ctx, userID, sessionID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil {
			conv = domain.NewConversation(userID, sessionID)
			slog.Info("Conversation started", "user_id", userID, "session_id", sessionID)
		}
		e.conv = conv
	}
	e.lastUsed = time.Now()

	if err := fn(e.conv); err != nil {
		return err
	}

	e.conv.UpdatedAt = time.Now()
	if err := m.repo.UpsertConversation(ctx, e.conv); err != nil {
		return fmt.Errorf("persist conversation: %w", err)
	}
	return nil
}

func (m *Manager) entryFor(userID, sessionID string) *entry {
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live[key]
	if !ok {
		e = &entry{}
		m.live[key] = e
	}
	return e
}

// Reset discards a conversation, both live and persisted. The next turn
// for the pair starts a fresh session in the initial state.
func (m *Manager) Reset(ctx context.Context, userID, sessionID string) error {
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	e, ok := m.live[key]
	m.mu.Unlock()

	if ok {
		// Wait out any in-flight turn; its post-turn persist must land
		// before the delete, not after it.
		e.mu.Lock()
		defer e.mu.Unlock()
		e.conv = nil

		m.mu.Lock()
		if cur, live := m.live[key]; live && cur == e {
			delete(m.live, key)
		}
		m.mu.Unlock()
	}

	if err := m.repo.DeleteConversation(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	slog.Info("Conversation reset", "user_id", userID, "session_id", sessionID)
	return nil
}

// EvictIdle drops live entries untouched for longer than ttl and returns
// the evicted (userID, sessionID) pairs. Persisted snapshots are left to
// the store-level cleanup.
func (m *Manager) EvictIdle(ttl time.Duration) [][2]string {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted [][2]string
	for key, e := range m.live {
		// Skip entries whose turn is currently in flight.
		if !e.mu.TryLock() {
			continue
		}
		idle := e.lastUsed.Before(cutoff)
		e.mu.Unlock()

		if idle {
			delete(m.live, key)
			if conv := e.conv; conv != nil {
				evicted = append(evicted, [2]string{conv.UserID, conv.SessionID})
			}
		}
	}
	return evicted
}

// LiveCount returns the number of live conversations.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
