// Package auth implements credential checks, pairing establishment and
// push-notification request brokering on top of a storage backend. Pending
// pairing tokens and notification requests live in memory only and expire.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mpetrov/twofad/internal/util"
	"github.com/mpetrov/twofad/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPairingPending     = errors.New("a pairing request is already pending for this user and app")
	ErrUnknownToken       = errors.New("unknown or expired pairing token")
	ErrNotPaired          = errors.New("no pairing for relying user and app")
	ErrUserOffline        = errors.New("paired user has no live session")
	ErrUnknownRequest     = errors.New("unknown or expired notification request")
)

// Default lifetimes for in-memory pending state.
const (
	DefaultPairingTTL      = 5 * time.Minute
	DefaultNotificationTTL = 2 * time.Minute
)

type pendingPairing struct {
	relyingUsername string
	appID           string
	secret          string
	created         time.Time
}

type pendingNotification struct {
	requesterConn   int64
	relyingUsername string
	appID           string
	created         time.Time
}

// Authority owns the account and pairing workflows. All methods are safe
// for concurrent use.
type Authority struct {
	store  storage.Store
	hasher PasswordHasher
	log    *slog.Logger

	pairingTTL      time.Duration
	notificationTTL time.Duration
	now             func() time.Time

	mu            sync.Mutex
	pairings      map[string]pendingPairing      // token -> pending pairing
	notifications map[string]pendingNotification // request id -> pending request
}

// Option adjusts an Authority at construction time.
type Option func(*Authority)

// WithTTLs overrides the pending-entry lifetimes. Non-positive values keep
// the defaults.
func WithTTLs(pairing, notification time.Duration) Option {
	return func(a *Authority) {
		if pairing > 0 {
			a.pairingTTL = pairing
		}
		if notification > 0 {
			a.notificationTTL = notification
		}
	}
}

// NewAuthority creates an Authority over the given store. A nil hasher
// defaults to SHA256Hasher and a nil logger to slog.Default().
func NewAuthority(store storage.Store, hasher PasswordHasher, logger *slog.Logger, opts ...Option) *Authority {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authority{
		store:           store,
		hasher:          hasher,
		log:             logger.With("component", "auth"),
		pairingTTL:      DefaultPairingTTL,
		notificationTTL: DefaultNotificationTTL,
		now:             time.Now,
		pairings:        make(map[string]pendingPairing),
		notifications:   make(map[string]pendingNotification),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register creates an account. storage.ErrUserExists passes through so the
// caller can answer with the taken-username error.
func (a *Authority) Register(ctx context.Context, username, password string) error {
	digest, salt, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := a.store.CreateUser(ctx, storage.User{
		Username: username,
		PassHash: digest,
		Salt:     salt,
	}); err != nil {
		return err
	}
	a.log.Info("account created", "username", username)
	return nil
}

// Login verifies the credentials and returns the user's app-id -> secret
// pairings for the session cache. An unknown user and a wrong password are
// indistinguishable to the caller.
func (a *Authority) Login(ctx context.Context, username, password string) (map[string]string, error) {
	user, err := a.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !a.hasher.Verify(password, user.PassHash, user.Salt) {
		return nil, ErrInvalidCredentials
	}
	secrets, err := a.store.Pairings(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("loading pairings: %w", err)
	}
	a.log.Info("login succeeded", "username", username, "pairings", len(secrets))
	return secrets, nil
}

// StartPairing mints the shared secret and issues a one-shot pairing token
// for the relying user at the given app. A second request for the same pair
// is rejected with ErrPairingPending until the first token is redeemed or
// expires; storage.ErrPairingExists passes through when the pair is already
// established.
func (a *Authority) StartPairing(ctx context.Context, relyingUsername, appID string) (string, error) {
	if _, err := a.store.GetPairing(ctx, relyingUsername, appID); err == nil {
		return "", storage.ErrPairingExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("checking pairing: %w", err)
	}

	token, err := util.NewToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	secret, err := util.NewSecret()
	if err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}

	a.mu.Lock()
	a.expirePairingsLocked()
	for _, p := range a.pairings {
		if p.relyingUsername == relyingUsername && p.appID == appID {
			a.mu.Unlock()
			return "", ErrPairingPending
		}
	}
	a.pairings[token] = pendingPairing{
		relyingUsername: relyingUsername,
		appID:           appID,
		secret:          secret,
		created:         a.now(),
	}
	a.mu.Unlock()

	a.log.Info("pairing token issued", "relying_username", relyingUsername, "app_id", appID)
	return token, nil
}

// FinishPairing redeems a token for the logged-in account and persists the
// pairing under the secret minted at issuance. The token is consumed even
// when persistence fails.
func (a *Authority) FinishPairing(ctx context.Context, appUsername, token string) (appID, secret string, err error) {
	a.mu.Lock()
	a.expirePairingsLocked()
	pending, ok := a.pairings[token]
	if ok {
		delete(a.pairings, token)
	}
	a.mu.Unlock()
	if !ok {
		return "", "", ErrUnknownToken
	}

	if err := a.store.CreatePairing(ctx, storage.Pairing{
		RelyingUsername: pending.relyingUsername,
		AppID:           pending.appID,
		AppUsername:     appUsername,
		Secret:          pending.secret,
	}); err != nil {
		return "", "", err
	}
	a.log.Info("pairing established",
		"relying_username", pending.relyingUsername,
		"app_id", pending.appID,
		"app_username", appUsername)
	return pending.appID, pending.secret, nil
}

// StartNotification registers a pending approval request for a paired
// account. online resolves the authenticator username to a live connection;
// no request is created when the account is offline.
func (a *Authority) StartNotification(ctx context.Context, relyingUsername, appID string, requesterConn int64, online func(username string) (int64, bool)) (targetConn int64, requestID string, err error) {
	pairing, err := a.store.GetPairing(ctx, relyingUsername, appID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, "", ErrNotPaired
		}
		return 0, "", fmt.Errorf("loading pairing: %w", err)
	}
	targetConn, ok := online(pairing.AppUsername)
	if !ok {
		return 0, "", ErrUserOffline
	}

	requestID, err = util.NewRequestID()
	if err != nil {
		return 0, "", fmt.Errorf("generating request id: %w", err)
	}

	a.mu.Lock()
	a.expireNotificationsLocked()
	a.notifications[requestID] = pendingNotification{
		requesterConn:   requesterConn,
		relyingUsername: relyingUsername,
		appID:           appID,
		created:         a.now(),
	}
	a.mu.Unlock()

	a.log.Info("notification request issued",
		"request_id", requestID,
		"relying_username", relyingUsername,
		"app_id", appID)
	return targetConn, requestID, nil
}

// FinishNotification consumes a pending request and returns who asked for
// it. The approval decision itself travels with the caller.
func (a *Authority) FinishNotification(requestID string) (requesterConn int64, relyingUsername string, err error) {
	a.mu.Lock()
	a.expireNotificationsLocked()
	pending, ok := a.notifications[requestID]
	if ok {
		delete(a.notifications, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return 0, "", ErrUnknownRequest
	}
	return pending.requesterConn, pending.relyingUsername, nil
}

// PairedSecret returns the shared secret for one established pairing, used
// to check codes submitted by a relying party.
func (a *Authority) PairedSecret(ctx context.Context, relyingUsername, appID string) (string, error) {
	pairing, err := a.store.GetPairing(ctx, relyingUsername, appID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotPaired
		}
		return "", fmt.Errorf("loading pairing: %w", err)
	}
	return pairing.Secret, nil
}

// Sweep drops expired pending entries. Expiry is also applied lazily on
// every lookup, so the sweeper only bounds memory for ids nobody touches.
func (a *Authority) Sweep() {
	a.mu.Lock()
	a.expirePairingsLocked()
	a.expireNotificationsLocked()
	a.mu.Unlock()
}

// RunSweeper calls Sweep on the given interval until ctx is cancelled.
func (a *Authority) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

func (a *Authority) expirePairingsLocked() {
	cutoff := a.now().Add(-a.pairingTTL)
	for token, p := range a.pairings {
		if p.created.Before(cutoff) {
			delete(a.pairings, token)
			a.log.Debug("pairing token expired", "relying_username", p.relyingUsername, "app_id", p.appID)
		}
	}
}

func (a *Authority) expireNotificationsLocked() {
	cutoff := a.now().Add(-a.notificationTTL)
	for id, n := range a.notifications {
		if n.created.Before(cutoff) {
			delete(a.notifications, id)
			a.log.Debug("notification request expired", "request_id", id)
		}
	}
}
