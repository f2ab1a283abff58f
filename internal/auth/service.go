package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/obs"
)

// Service implements the register/login/refresh/logout/change-password
// flows over a Store and a TokenIssuer.
type Service struct {
	store  Store
	issuer *TokenIssuer
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth orchestrator.
func NewService(store Store, issuer *TokenIssuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// AuthResult is returned by flows that establish a session.
type AuthResult struct {
	Tokens TokenPair `json:"tokens"`
	User   Profile   `json:"user"`
}

// Register creates a new account with role USER and an initial session.
//
// Uniqueness is enforced by two sequential existence checks before the
// insert. Two concurrent registrations with the same email can both pass
// the checks; the loser then fails at the database unique constraint and
// that storage error propagates as-is. This window is a known, accepted
// limitation.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	username := strings.TrimSpace(in.Username)

	users := s.store.Users()
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := users.FindByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username already taken", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		IsActive:     true,
		Role:         RoleUser,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}

	result, err := s.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}
	obs.LogEvent("info", "auth.registered", map[string]any{"user_id": user.ID, "email": email})
	return result, nil
}

// Login authenticates credentials and establishes a session.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.validateCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	result, err := s.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}
	obs.LogEvent("info", "auth.login", map[string]any{"user_id": user.ID})
	return result, nil
}

// validateCredentials looks up the user by email and checks the password.
// Absent user, inactive user, and password mismatch all yield (nil, nil);
// only lookup-layer failures surface as errors.
func (s *Service) validateCredentials(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, nil
	}
	return user, nil
}

// establishSession mints a token pair, persists the session row, and stamps
// last_login_at.
func (s *Service) establishSession(ctx context.Context, user *User) (*AuthResult, error) {
	pair, err := s.issuer.Pair(user)
	if err != nil {
		return nil, err
	}
	session := &Session{
		UserID:       user.ID,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.RefreshExpiresAt,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.store.Users().TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now
	return &AuthResult{Tokens: pair, User: user.Sanitize()}, nil
}

// Refresh exchanges a refresh token for a fresh pair. The presented token
// is one-time-use: its session is revoked before the replacement session is
// written, so replaying it fails. The revoke and create are two separate
// round trips; a crash between them forces a re-login (fail closed).
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if _, err := s.issuer.VerifyRefresh(refreshToken); err != nil {
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	sessions := s.store.Sessions()
	session, user, err := sessions.FindByTokenWithUser(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown refresh token", ErrUnauthorized)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account disabled", ErrUnauthorized)
	}

	now := s.now().UTC()
	// Re-check validity with a fresh read: the session may have been revoked
	// between the signature check and the row load.
	valid, err := sessions.IsValid(ctx, refreshToken, now)
	if err != nil {
		return nil, err
	}
	if !valid || !session.Active(now) {
		return nil, fmt.Errorf("%w: refresh token expired or revoked", ErrUnauthorized)
	}

	if err := sessions.Revoke(ctx, refreshToken, now); err != nil {
		return nil, err
	}

	pair, err := s.issuer.Pair(user)
	if err != nil {
		return nil, err
	}
	next := &Session{
		UserID:       user.ID,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.RefreshExpiresAt,
	}
	if err := sessions.Create(ctx, next); err != nil {
		return nil, err
	}
	obs.LogEvent("info", "auth.refreshed", map[string]any{"user_id": user.ID})
	return &AuthResult{Tokens: pair, User: user.Sanitize()}, nil
}

// Logout revokes the session behind the refresh token. Already-revoked and
// unknown tokens are swallowed so logout stays idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if err := s.store.Sessions().Revoke(ctx, refreshToken, s.now().UTC()); err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.LogEvent("warn", "auth.logout_revoke_failed", map[string]any{"error": err.Error()})
		}
		return
	}
	obs.LogEvent("info", "auth.logout", nil)
}

// LogoutAll revokes every active session for the user. Failures propagate.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.store.Sessions().RevokeAllForUser(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	obs.LogEvent("info", "auth.logout_all", map[string]any{"user_id": userID})
	return nil
}

// ChangePassword verifies the current password, stores a new hash, and
// revokes every outstanding session so all devices must re-authenticate.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return fmt.Errorf("%w: current password mismatch", ErrUnauthorized)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	if err := s.store.Users().UpdatePassword(ctx, userID, hash, now); err != nil {
		return err
	}
	if err := s.store.Sessions().RevokeAllForUser(ctx, userID, now); err != nil {
		return err
	}
	obs.LogEvent("info", "auth.password_changed", map[string]any{"user_id": userID})
	return nil
}

// Profile returns the sanitized user record.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := user.Sanitize()
	return &p, nil
}

// CleanupSessions removes expired sessions and sessions revoked more than
// 30 days ago. Intended to run on a background ticker.
func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions().CleanupExpired(ctx, s.now().UTC())
}

// VerifyAccess exposes access-token verification to the HTTP layer.
func (s *Service) VerifyAccess(token string) (*AccessClaims, error) {
	return s.issuer.VerifyAccess(token)
}
