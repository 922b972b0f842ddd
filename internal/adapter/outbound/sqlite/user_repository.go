package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/user"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const userColumns = `id, email, name, role, email_verified, password_hash, provider, provider_subject, created_at, updated_at`

// UserRepository implements user.Repository on a SQLite database.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository returns a repository using db. Open must have run the migrations.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the user with id, or user.ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByEmail returns the user with the normalized email, or user.ErrNotFound.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, user.NormalizeEmail(email))
}

// GetByProvider returns the user linked to provider/subject, or user.ErrNotFound.
func (r *UserRepository) GetByProvider(ctx context.Context, provider, subject string) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_subject = ?`, provider, subject)
}

// Create inserts u. The ID must be set by the caller.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, user.NormalizeEmail(u.Email), u.Name, string(u.Role), u.EmailVerified, u.PasswordHash,
		u.Provider, u.ProviderSubject, u.CreatedAt.UnixNano(), u.UpdatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return user.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Update saves all mutable fields of u.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, name = ?, role = ?, email_verified = ?, password_hash = ?,
			provider = ?, provider_subject = ?, updated_at = ?
		 WHERE id = ?`,
		user.NormalizeEmail(u.Email), u.Name, string(u.Role), u.EmailVerified, u.PasswordHash,
		u.Provider, u.ProviderSubject, u.UpdatedAt.UnixNano(), u.ID,
	)
	if isUniqueViolation(err) {
		return user.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*user.User, error) {
	var (
		u                user.User
		role             string
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.Name, &role, &u.EmailVerified, &u.PasswordHash,
		&u.Provider, &u.ProviderSubject, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Role = user.Role(role)
	u.CreatedAt = time.Unix(0, created).UTC()
	u.UpdatedAt = time.Unix(0, updated).UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// Compile-time interface verification.
var _ user.Repository = (*UserRepository)(nil)
