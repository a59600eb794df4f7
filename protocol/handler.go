package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mpetrov/twofad/audit"
	"github.com/mpetrov/twofad/auth"
	"github.com/mpetrov/twofad/session"
	"github.com/mpetrov/twofad/storage"
	"github.com/mpetrov/twofad/totp"
)

// Rejection texts carried by Error messages.
const (
	textAlreadyLoggedIn     = "User already logged in!"
	textInvalidCredentials  = "Invalid username or password!"
	textUsernameTaken       = "Username already taken!"
	textNotLoggedIn         = "User not logged in!"
	textUnknownNotification = "Unknown notification request!"
)

// Sender is the outbound side of the connection layer. Send to a dead
// connection must be a safe no-op.
type Sender interface {
	Send(conn int64, msg Message)
	Broadcast(msg Message)
}

// CodePusher delivers an immediate code wave to one session.
type CodePusher interface {
	PushNow(sess *session.Session)
}

// Env is the shared context every transition runs against.
type Env struct {
	Sessions *session.Directory
	Auth     *auth.Authority
	Out      Sender
	Codes    CodePusher
	Log      *slog.Logger
	Audit    *audit.Logger
}

// NewEnv wires a transition environment. A nil logger defaults to
// slog.Default() and a nil audit logger is derived from it.
func NewEnv(sessions *session.Directory, authority *auth.Authority, out Sender, codes CodePusher, logger *slog.Logger, auditor *audit.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	if auditor == nil {
		auditor = audit.NewLogger(logger)
	}
	return &Env{
		Sessions: sessions,
		Auth:     authority,
		Out:      out,
		Codes:    codes,
		Log:      logger.With("component", "protocol"),
		Audit:    auditor,
	}
}

// Handle runs one message's transition for the originating connection.
// Transitions never block beyond synchronous store calls, and may emit
// messages to the sender or to a connection resolved by identity lookup.
func (e *Env) Handle(ctx context.Context, conn int64, msg Message) {
	switch m := msg.(type) {
	case Handshake:
		e.Sessions.Handshake(conn, session.RoleFromInt(m.Role), m.AppID)

	case Ping:
		e.Out.Send(conn, Ping{})

	case CredentialRequest:
		e.handleCredentials(ctx, conn, m)

	case Logout:
		e.handleLogout(conn)

	case PairingRequest:
		e.handlePairing(ctx, conn, m)

	case NotificationLogin:
		e.handleNotificationLogin(ctx, conn, m)

	case Response:
		e.handleResponse(conn, m)

	case CodeViewStart:
		e.handleCodeViewStart(conn)

	case CodeViewExit:
		e.Sessions.SetViewing(conn, false)
		e.Audit.Log(audit.CodeViewExited, conn)

	case CodeSubmit:
		e.handleCodeSubmit(ctx, conn, m)

	case CodeValidate:
		e.handleCodeValidate(ctx, conn, m)

	case Error:
		e.Log.Warn("peer reported error", "conn", conn, "code", m.Code, "text", m.Text)

	default:
		// Client-bound records (code pushes, prompts) have no server-side
		// transition.
		e.Log.Debug("ignoring client-bound message", "conn", conn)
	}
}

func (e *Env) handleCredentials(ctx context.Context, conn int64, m CredentialRequest) {
	sess, ok := e.Sessions.Get(conn)
	if !ok {
		return
	}
	if sess.LoggedIn() {
		e.Out.Send(conn, Error{Code: CodeAlreadyLoggedIn, Text: textAlreadyLoggedIn})
		return
	}

	switch m.Action {
	case ActionLogin:
		secrets, err := e.Auth.Login(ctx, m.Username, m.Password)
		if err != nil {
			e.Audit.Failure(audit.LoginFailure, conn, err.Error(), slog.String("username", m.Username))
			e.Out.Send(conn, Error{Code: CodeInvalidCredentials, Text: textInvalidCredentials})
			return
		}
		e.Sessions.SetIdentity(conn, m.Username)
		e.Sessions.SetPairedSecrets(conn, secrets)
		e.Sessions.SetLoggedIn(conn, true)
		e.Audit.Account(audit.LoginSuccess, conn, m.Username)
		e.Out.Send(conn, Response{Subtype: SubtypeLogin, OK: true, Extra: m.Username})

	case ActionRegister:
		if err := e.Auth.Register(ctx, m.Username, m.Password); err != nil {
			e.Audit.Failure(audit.RegisterFailure, conn, err.Error(), slog.String("username", m.Username))
			if errors.Is(err, storage.ErrUserExists) {
				e.Out.Send(conn, Error{Code: CodeUsernameTaken, Text: textUsernameTaken})
			}
			return
		}
		e.Audit.Account(audit.Register, conn, m.Username)
		e.Out.Send(conn, Response{Subtype: SubtypeRegister, OK: true, Extra: m.Username})
	}
}

func (e *Env) handleLogout(conn int64) {
	sess, ok := e.Sessions.Get(conn)
	if !ok || !sess.LoggedIn() {
		e.Out.Send(conn, Error{Code: CodeNotLoggedIn, Text: textNotLoggedIn})
		return
	}
	username := sess.Identity()
	e.Sessions.SetViewing(conn, false)
	e.Sessions.Logout(conn)
	e.Audit.Account(audit.Logout, conn, username)
}

// handlePairing serves a relying server's token request. The application
// id was bound as the sender's identity at handshake.
func (e *Env) handlePairing(ctx context.Context, conn int64, m PairingRequest) {
	sess, ok := e.Sessions.Get(conn)
	if !ok || sess.Role() != session.RoleRelyingServer {
		return
	}
	appID := sess.Identity()

	token, err := e.Auth.StartPairing(ctx, m.RelyingUsername, appID)
	if err != nil {
		e.Audit.Failure(audit.PairingFailure, conn, err.Error(),
			slog.String("relying_username", m.RelyingUsername), slog.String("app_id", appID))
		e.Out.Send(conn, Response{Subtype: SubtypePairing, OK: false, Extra: m.RelyingUsername})
		return
	}
	e.Audit.Log(audit.PairingRequested, conn,
		slog.String("relying_username", m.RelyingUsername), slog.String("app_id", appID))
	e.Out.Send(conn, Response{Subtype: SubtypePairing, OK: true, Text: token, Extra: m.RelyingUsername})
}

func (e *Env) handleNotificationLogin(ctx context.Context, conn int64, m NotificationLogin) {
	sess, ok := e.Sessions.Get(conn)
	if !ok || sess.Role() != session.RoleRelyingServer {
		return
	}
	appID := m.AppID
	if appID == "" {
		appID = sess.Identity()
	}

	targetConn, requestID, err := e.Auth.StartNotification(ctx, m.Username, appID, conn, func(username string) (int64, bool) {
		return e.Sessions.FindByIdentity(username)
	})
	if err != nil {
		e.Audit.Failure(audit.NotificationFailure, conn, err.Error(),
			slog.String("relying_username", m.Username), slog.String("app_id", appID))
		e.Out.Send(conn, Response{Subtype: SubtypeNotificationLogin, OK: false, Extra: m.Username})
		return
	}
	e.Audit.Log(audit.NotificationSent, conn,
		slog.String("request_id", requestID), slog.String("app_id", appID))
	e.Out.Send(targetConn, PushNotification{RequestID: requestID, AppID: appID})
}

// handleResponse consumes the one response subtype addressed to the
// server: the authenticator's answer to an approval prompt. The request id
// rides in Text and the decision in OK.
func (e *Env) handleResponse(conn int64, m Response) {
	if m.Subtype != SubtypeNotificationAnswer {
		e.Log.Debug("ignoring response subtype", "conn", conn, "subtype", m.Subtype)
		return
	}
	requesterConn, relyingUsername, err := e.Auth.FinishNotification(m.Text)
	if err != nil {
		e.Out.Send(conn, Error{Code: CodeUnknownNotification, Text: textUnknownNotification})
		return
	}
	e.Audit.Log(audit.NotificationAnswered, conn,
		slog.String("request_id", m.Text), slog.Bool("approved", m.OK))
	e.Out.Send(requesterConn, Response{
		Subtype: SubtypeNotificationLogin,
		OK:      m.OK,
		Text:    m.Text,
		Extra:   relyingUsername,
	})
}

func (e *Env) handleCodeViewStart(conn int64) {
	sess, ok := e.Sessions.Get(conn)
	if !ok || !sess.LoggedIn() {
		e.Out.Send(conn, Error{Code: CodeNotLoggedIn, Text: textNotLoggedIn})
		return
	}
	e.Sessions.SetViewing(conn, true)
	e.Audit.Log(audit.CodeViewEntered, conn)
	if e.Codes != nil {
		e.Codes.PushNow(sess)
	}
}

// handleCodeSubmit redeems pairing tokens typed into an authenticator.
// Six-digit numeric values are codes, which only relying parties check, so
// they carry no server-side transition here.
func (e *Env) handleCodeSubmit(ctx context.Context, conn int64, m CodeSubmit) {
	if isCode(m.Value) {
		e.Log.Debug("ignoring code submission from authenticator", "conn", conn)
		return
	}
	sess, ok := e.Sessions.Get(conn)
	if !ok || !sess.LoggedIn() {
		e.Out.Send(conn, Error{Code: CodeNotLoggedIn, Text: textNotLoggedIn})
		return
	}

	appID, secret, err := e.Auth.FinishPairing(ctx, sess.Identity(), m.Value)
	if err != nil {
		e.Audit.Failure(audit.PairingFailure, conn, err.Error())
		e.Out.Send(conn, Response{Subtype: SubtypePairing, OK: false, Text: "Invalid token!"})
		return
	}
	sess.SetPairedSecret(appID, secret)
	e.Audit.Account(audit.PairingEstablished, conn, sess.Identity(), slog.String("app_id", appID))
	e.Out.Send(conn, Response{Subtype: SubtypePairing, OK: true, Extra: appID})
}

func (e *Env) handleCodeValidate(ctx context.Context, conn int64, m CodeValidate) {
	secret, err := e.Auth.PairedSecret(ctx, m.RelyingUsername, m.AppID)
	ok := err == nil && totp.Verify(secret, m.Code, time.Now())
	e.Audit.Log(audit.CodeChecked, conn,
		slog.String("relying_username", m.RelyingUsername),
		slog.String("app_id", m.AppID),
		slog.Bool("ok", ok))
	e.Out.Send(conn, Response{Subtype: SubtypeCodeCheck, OK: ok, Extra: m.RelyingUsername})
}

// isCode reports whether the value looks like a 6-digit one-time code
// rather than a pairing token.
func isCode(v string) bool {
	if len(v) != 6 {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
