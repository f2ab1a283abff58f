package auth

import (
	"context"
	"time"
)

// Store bundles the persistence surfaces the auth subsystem requires.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
}

// UserStore manages account records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SessionStore manages refresh-token sessions. Every validity check is a
// fresh read: revocation must be observed immediately by concurrent
// refresh attempts, so no implementation may cache rows in process.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByToken(ctx context.Context, token string) (*Session, error)
	FindByTokenWithUser(ctx context.Context, token string) (*Session, *User, error)
	Revoke(ctx context.Context, token string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
	IsValid(ctx context.Context, token string, now time.Time) (bool, error)
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}
