package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, email, phone, display_name, role, password_hash, pin_hash,
		granted_permissions, revoked_permissions, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	if err := row.Scan(
		&user.ID, &user.Email, &user.Phone, &user.DisplayName, &user.Role,
		&user.PasswordHash, &user.PinHash,
		&user.GrantedPermissions, &user.RevokedPermissions, &user.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// GetUserByContact looks the user up by email or phone depending on the
// contact's shape. contact must already be normalized.
func (s *Store) GetUserByContact(ctx context.Context, contact string) (*User, error) {
	if ChannelFor(contact) == ChannelEmail {
		return s.GetUserByEmail(ctx, contact)
	}
	return s.GetUserByPhone(ctx, contact)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return s.updateCredential(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
}

func (s *Store) UpdatePinHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return s.updateCredential(ctx, `UPDATE users SET pin_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
}

func (s *Store) updateCredential(ctx context.Context, query string, userID uuid.UUID, hash string) error {
	tag, err := s.pool.Exec(ctx, query, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateOneTimeCode(ctx context.Context, code *OneTimeCode) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO one_time_codes (user_id, target, channel, purpose, code_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, code.UserID, code.Target, string(code.Channel), string(code.Purpose), code.CodeHash, code.CreatedAt, code.ExpiresAt).Scan(&code.ID)
}

// LatestActiveCode returns the most recently created unconsumed, unexpired
// code for (target, purpose).
func (s *Store) LatestActiveCode(ctx context.Context, target string, purpose Purpose, now time.Time) (*OneTimeCode, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, target, channel, purpose, code_hash, created_at, expires_at, consumed_at, attempts
		FROM one_time_codes
		WHERE target = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, target, string(purpose), now)

	var code OneTimeCode
	var channel, codePurpose string
	if err := row.Scan(&code.ID, &code.UserID, &code.Target, &channel, &codePurpose, &code.CodeHash,
		&code.CreatedAt, &code.ExpiresAt, &code.ConsumedAt, &code.Attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	code.Channel = Channel(channel)
	code.Purpose = Purpose(codePurpose)
	return &code, nil
}

func (s *Store) IncrementCodeAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE one_time_codes SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts
	`, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// ConsumeCode marks the code consumed only if it is still unconsumed and
// unexpired. It reports false when another request got there first.
func (s *Store) ConsumeCode(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE one_time_codes SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CreateResetToken(ctx context.Context, token *ResetToken) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO reset_tokens (user_id, purpose, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, token.UserID, string(token.Purpose), token.TokenHash, token.CreatedAt, token.ExpiresAt).Scan(&token.ID)
}

// ConsumeResetToken redeems a token hash in one conditional update and returns
// the owning user.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, purpose Purpose, now time.Time) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		UPDATE reset_tokens SET consumed_at = $3
		WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		RETURNING user_id
	`, tokenHash, string(purpose), now).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return userID, nil
}
