package auth

import (
	"context"
	"sync"
	"time"

	"gatehouse.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a mutex-guarded in-process Store used by tests and for
// running the server without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // by id
	sessions map[string]*Session // by refresh token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
	}
}

func (m *MemoryStore) Users() UserStore       { return (*memUserStore)(m) }
func (m *MemoryStore) Sessions() SessionStore { return (*memSessionStore)(m) }

func copyUser(u *User) *User {
	c := *u
	return &c
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}

// User store ---------------------------------------------------------------

type memUserStore MemoryStore

func (m *memUserStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *memUserStore) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUserStore) UpdatePassword(_ context.Context, userID, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	at := changedAt
	u.PasswordChangedAt = &at
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUserStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	ts := at
	u.LastLoginAt = &ts
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Session store ------------------------------------------------------------

type memSessionStore MemoryStore

func (m *memSessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = ids.New()
	}
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.RefreshToken] = copySession(s)
	return nil
}

func (m *memSessionStore) FindByToken(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *memSessionStore) FindByTokenWithUser(_ context.Context, token string) (*Session, *User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, nil, ErrNotFound
	}
	u, ok := m.users[s.UserID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return copySession(s), copyUser(u), nil
}

func (m *memSessionStore) Revoke(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return ErrNotFound
	}
	if s.RevokedAt != nil {
		return ErrNotFound
	}
	ts := at
	s.RevokedAt = &ts
	return nil
}

func (m *memSessionStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active(at) {
			ts := at
			s.RevokedAt = &ts
		}
	}
	return nil
}

func (m *memSessionStore) IsValid(_ context.Context, token string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return false, nil
	}
	return s.Active(now), nil
}

func (m *memSessionStore) CleanupExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-30 * 24 * time.Hour)
	var removed int64
	for token, s := range m.sessions {
		if !s.ExpiresAt.After(now) || (s.RevokedAt != nil && !s.RevokedAt.After(cutoff)) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}
