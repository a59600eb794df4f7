// Package postgres implements storage.Store backed by PostgreSQL.
//
// The users and pairs tables mirror the key space used by the BBolt,
// SQLite, and in-memory backends, so the server can switch backends
// without a data-model change.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpetrov/twofad/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New returns a Store backed by the given pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a new Store.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return New(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateUser(ctx context.Context, u storage.User) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, pass_hash, salt) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		u.Username, u.PassHash, u.Salt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserExists
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (storage.User, error) {
	var u storage.User
	err := s.pool.QueryRow(ctx,
		`SELECT username, pass_hash, salt FROM users WHERE username = $1`,
		username,
	).Scan(&u.Username, &u.PassHash, &u.Salt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.User{}, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) CreatePairing(ctx context.Context, p storage.Pairing) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pairs (relying_username, app_id, app_username, totp_secret)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (relying_username, app_id) DO NOTHING`,
		p.RelyingUsername, p.AppID, p.AppUsername, p.Secret,
	)
	if err != nil {
		return fmt.Errorf("inserting pairing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrPairingExists
	}
	return nil
}

func (s *Store) GetPairing(ctx context.Context, relyingUsername, appID string) (storage.Pairing, error) {
	var p storage.Pairing
	err := s.pool.QueryRow(ctx,
		`SELECT relying_username, app_id, app_username, totp_secret
		 FROM pairs WHERE relying_username = $1 AND app_id = $2`,
		relyingUsername, appID,
	).Scan(&p.RelyingUsername, &p.AppID, &p.AppUsername, &p.Secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Pairing{}, fmt.Errorf("pairing %s/%s: %w", relyingUsername, appID, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Pairing{}, fmt.Errorf("querying pairing: %w", err)
	}
	return p, nil
}

func (s *Store) Pairings(ctx context.Context, appUsername string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT app_id, totp_secret FROM pairs WHERE app_username = $1`,
		appUsername,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pairings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var appID, secret string
		if err := rows.Scan(&appID, &secret); err != nil {
			return nil, err
		}
		out[appID] = secret
	}
	return out, rows.Err()
}
