package totp

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mpetrov/twofad/session"
)

// Payload delimiters for multi-app code pushes: app:code|app:code.
const (
	pairDelimiter = "|"
	codeDelimiter = ":"
)

// PushFunc delivers one code push to a connection. Implementations must
// treat a dead connection as a no-op.
type PushFunc func(conn int64, remaining uint32, payload string)

// Scheduler wakes on every 30-second boundary and pushes a fresh code set
// to every session currently viewing codes.
type Scheduler struct {
	dir  *session.Directory
	push PushFunc
	log  *slog.Logger
	now  func() time.Time
}

// NewScheduler creates a Scheduler over the given directory. A nil logger
// defaults to slog.Default().
func NewScheduler(dir *session.Directory, push PushFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dir:  dir,
		push: push,
		log:  logger.With("component", "scheduler"),
		now:  time.Now,
	}
}

// Run loops until ctx is cancelled, sleeping to the next step boundary and
// then pushing to every viewing session. The sleep aborts promptly on
// shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("code push scheduler started")
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		timer.Reset(time.Duration(RemainingSeconds(s.now())) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("code push scheduler stopped")
			return
		case <-timer.C:
		}
		s.pushAll()
	}
}

func (s *Scheduler) pushAll() {
	// One shared reference time so every code in a wave lands on the
	// same step.
	now := s.now()
	for _, sess := range s.dir.SnapshotViewing() {
		s.pushSession(sess, now)
	}
}

// PushNow sends one immediate code set to a single session, used when a
// client first enters the code view.
func (s *Scheduler) PushNow(sess *session.Session) {
	s.pushSession(sess, s.now())
}

func (s *Scheduler) pushSession(sess *session.Session, now time.Time) {
	// The session may have been torn down between snapshot and send.
	if sess == nil || !sess.Valid() || !sess.LoggedIn() || !sess.Viewing() {
		return
	}
	secrets := sess.PairedSecrets()
	if len(secrets) == 0 {
		return
	}

	appIDs := make([]string, 0, len(secrets))
	for appID := range secrets {
		appIDs = append(appIDs, appID)
	}
	sort.Strings(appIDs)

	parts := make([]string, 0, len(appIDs))
	for _, appID := range appIDs {
		code, err := Generate(secrets[appID], now)
		if err != nil {
			s.log.Warn("skipping undecodable secret", "conn", sess.ID(), "app_id", appID, "err", err)
			continue
		}
		parts = append(parts, appID+codeDelimiter+code)
	}
	if len(parts) == 0 {
		return
	}
	s.push(sess.ID(), RemainingSeconds(now), strings.Join(parts, pairDelimiter))
}
