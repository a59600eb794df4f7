// Package sqlite implements storage.Store backed by SQLite, using the
// pure-Go modernc.org/sqlite driver. The schema mirrors the users/pairs
// tables served by the other backends.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mpetrov/twofad/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username  TEXT PRIMARY KEY NOT NULL,
	pass_hash TEXT NOT NULL,
	salt      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pairs (
	relying_username TEXT NOT NULL,
	app_id           TEXT NOT NULL,
	app_username     TEXT NOT NULL,
	totp_secret      TEXT NOT NULL,
	PRIMARY KEY (relying_username, app_id),
	FOREIGN KEY (app_username) REFERENCES users(username) ON DELETE CASCADE
);
`

// Store implements storage.Store backed by a SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New wraps an open database handle, ensuring the schema exists.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromFile opens (or creates) a SQLite database at path.
func NewFromFile(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateUser(ctx context.Context, u storage.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, pass_hash, salt) VALUES (?, ?, ?)
		 ON CONFLICT (username) DO NOTHING`,
		u.Username, u.PassHash, u.Salt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrUserExists
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (storage.User, error) {
	var u storage.User
	err := s.db.QueryRowContext(ctx,
		`SELECT username, pass_hash, salt FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.PassHash, &u.Salt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, fmt.Errorf("user %s: %w", username, storage.ErrNotFound)
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username`)
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pairs (relying_username, app_id, app_username, totp_secret)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (relying_username, app_id) DO NOTHING`,
		p.RelyingUsername, p.AppID, p.AppUsername, p.Secret,
	)
	if err != nil {
		return fmt.Errorf("inserting pairing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrPairingExists
	}
	return nil
}

func (s *Store) GetPairing(ctx context.Context, relyingUsername, appID string) (storage.Pairing, error) {
	var p storage.Pairing
	err := s.db.QueryRowContext(ctx,
		`SELECT relying_username, app_id, app_username, totp_secret
		 FROM pairs WHERE relying_username = ? AND app_id = ?`,
		relyingUsername, appID,
	).Scan(&p.RelyingUsername, &p.AppID, &p.AppUsername, &p.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Pairing{}, fmt.Errorf("pairing %s/%s: %w", relyingUsername, appID, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Pairing{}, fmt.Errorf("querying pairing: %w", err)
	}
	return p, nil
}

func (s *Store) Pairings(ctx context.Context, appUsername string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app_id, totp_secret FROM pairs WHERE app_username = ?`,
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
