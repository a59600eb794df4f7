// Package storage provides the persistence abstraction consumed by the
// authentication authority: user credentials and long-term pairings.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a user or pairing does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUserExists is returned when creating a user whose name is taken.
var ErrUserExists = errors.New("user already exists")

// ErrPairingExists is returned when a pairing for the same
// (relying username, app id) key already exists.
var ErrPairingExists = errors.New("pairing already exists")

// User is a stored credential record. PassHash is the hex digest produced
// by the configured password hasher; Salt is the hex-encoded random salt
// mixed into it.
type User struct {
	Username string
	PassHash string
	Salt     string
}

// Pairing binds a relying-party user and application to an app-side user
// and the TOTP secret they share. The (RelyingUsername, AppID) pair is the
// primary key.
type Pairing struct {
	RelyingUsername string
	AppID           string
	AppUsername     string
	Secret          string
}

// Store defines the operations the authority needs from durable storage.
type Store interface {
	// CreateUser inserts a credential record. Returns ErrUserExists if the
	// username is taken.
	CreateUser(ctx context.Context, u User) error
	// GetUser fetches a credential record. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, username string) (User, error)
	// ListUsers returns all usernames, sorted.
	ListUsers(ctx context.Context) ([]string, error)

	// CreatePairing inserts a pairing. Returns ErrPairingExists if the
	// (relying username, app id) key is taken.
	CreatePairing(ctx context.Context, p Pairing) error
	// GetPairing fetches the pairing for (relyingUsername, appID).
	// Returns ErrNotFound if absent.
	GetPairing(ctx context.Context, relyingUsername, appID string) (Pairing, error)
	// Pairings returns every app-id -> secret mapping the app-side user
	// participates in. An unknown user yields an empty map.
	Pairings(ctx context.Context, appUsername string) (map[string]string, error)
}
