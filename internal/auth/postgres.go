package auth

import (
	"context"
	"database/sql"
	"time"

	"gatehouse.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore       { return &pgUserStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore { return &pgSessionStore{db: s.db} }

// User store ---------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

const userColumns = `id, email, username, first_name, last_name, password_hash,
	is_active, role, email_verified, last_login_at, password_changed_at, created_at, updated_at`

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, username, first_name, last_name, password_hash, is_active, role, email_verified)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.Role, u.EmailVerified,
	)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.Role, &u.EmailVerified, &u.LastLoginAt, &u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (s *pgUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, password_changed_at=$3, updated_at=now() where id=$1`,
		userID, passwordHash, changedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUserStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2, updated_at=now() where id=$1`,
		userID, at,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Session store ------------------------------------------------------------

type pgSessionStore struct{ db *sql.DB }

const sessionColumns = `id, user_id, refresh_token, expires_at, revoked_at, created_at`

func (s *pgSessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, refresh_token, expires_at) values($1,$2,$3,$4)`,
		sess.ID, sess.UserID, sess.RefreshToken, sess.ExpiresAt,
	)
	return err
}

func (s *pgSessionStore) FindByToken(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where refresh_token=$1`, token)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshToken, &sess.ExpiresAt, &sess.RevokedAt, &sess.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessionStore) FindByTokenWithUser(ctx context.Context, token string) (*Session, *User, error) {
	row := s.db.QueryRowContext(ctx,
		`select s.id, s.user_id, s.refresh_token, s.expires_at, s.revoked_at, s.created_at,
		        u.id, u.email, u.username, u.first_name, u.last_name, u.password_hash,
		        u.is_active, u.role, u.email_verified, u.last_login_at, u.password_changed_at, u.created_at, u.updated_at
		 from sessions s join users u on u.id = s.user_id
		 where s.refresh_token=$1`, token)
	var (
		sess Session
		u    User
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshToken, &sess.ExpiresAt, &sess.RevokedAt, &sess.CreatedAt,
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.Role, &u.EmailVerified, &u.LastLoginAt, &u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return &sess, &u, nil
}

func (s *pgSessionStore) Revoke(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where refresh_token=$1 and revoked_at is null`,
		token, at,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgSessionStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where user_id=$1 and revoked_at is null and expires_at > $2`,
		userID, at,
	)
	return err
}

func (s *pgSessionStore) IsValid(ctx context.Context, token string, now time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select exists(select 1 from sessions where refresh_token=$1 and revoked_at is null and expires_at > $2)`,
		token, now,
	)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// CleanupExpired deletes sessions that expired, or were revoked more than
// 30 days ago.
func (s *pgSessionStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at <= $1 or (revoked_at is not null and revoked_at <= $2)`,
		now, now.Add(-30*24*time.Hour),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
