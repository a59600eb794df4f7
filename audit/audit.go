// Package audit writes structured security-relevant events. Every entry
// carries a unique event id and the originating connection so approvals and
// failures can be correlated across log streams.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	LoginSuccess         Event = "login_success"
	LoginFailure         Event = "login_failure"
	Register             Event = "register"
	RegisterFailure      Event = "register_failure"
	Logout               Event = "logout"
	PairingRequested     Event = "pairing_requested"
	PairingEstablished   Event = "pairing_established"
	PairingFailure       Event = "pairing_failure"
	NotificationSent     Event = "notification_sent"
	NotificationAnswered Event = "notification_answered"
	NotificationFailure  Event = "notification_failure"
	CodeChecked          Event = "code_checked"
	CodeViewEntered      Event = "code_view_entered"
	CodeViewExited       Event = "code_view_exited"
	SessionOpened        Event = "session_opened"
	SessionClosed        Event = "session_closed"
)

// Logger wraps slog.Logger for structured audit logging.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates an audit logger. A nil base defaults to slog.Default().
func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{logger: base.With("component", "audit")}
}

// Log writes one audit entry for the given connection.
func (l *Logger) Log(event Event, conn int64, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("event_id", uuid.NewString()),
		slog.Int64("conn", conn),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", base...)
}

// Account is a convenience for events tied to a username.
func (l *Logger) Account(event Event, conn int64, username string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("username", username)}
	attrs = append(attrs, extra...)
	l.Log(event, conn, attrs...)
}

// Failure is a convenience for rejected operations.
func (l *Logger) Failure(event Event, conn int64, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("reason", reason)}
	attrs = append(attrs, extra...)
	l.Log(event, conn, attrs...)
}
