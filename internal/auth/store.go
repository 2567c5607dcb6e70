package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// User is a stored account. Password is a bcrypt hash.
type User struct {
	ID       string
	Password string
	IsAdmin  bool
}

// Store errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// UserStore is the persistence capability behind the Provider. Implementations
// must be safe for concurrent use.
type UserStore interface {
	Lookup(ctx context.Context, userID string) (*User, error)
	Insert(ctx context.Context, u User) error
	Delete(ctx context.Context, userID string) error
	Exists(ctx context.Context, userID string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// PostgresStore implements UserStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the users table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			is_admin   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// Lookup fetches a user by ID.
func (s *PostgresStore) Lookup(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password, is_admin FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.Password, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}

// Insert adds a new user; duplicate IDs fail with ErrUserExists.
func (s *PostgresStore) Insert(ctx context.Context, u User) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, password, is_admin) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Password, u.IsAdmin)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if rows == 0 {
		return ErrUserExists
	}
	return nil
}

// Delete removes a user by ID. Deleting an absent user is not an error.
func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// Exists reports whether a user ID is taken.
func (s *PostgresStore) Exists(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = $1`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return n > 0, nil
}

// Count returns the total number of users.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }
