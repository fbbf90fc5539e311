package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db *sql.DB
	q  queryer
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn against a store bound to a single transaction. Nested calls
// reuse the outer transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(*PostgresStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, role, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, strings.ToLower(email)))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.password_hash, u.role, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// requireAffected turns a zero-row write into sql.ErrNoRows.
func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, sql.ErrNoRows)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// placeholders renders "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	var state sqlStater
	if errors.As(err, &state) {
		return state.SQLState() == "23505"
	}
	return false
}
