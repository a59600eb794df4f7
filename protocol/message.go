// Package protocol implements the delimited text protocol spoken between
// the authentication server and its clients: message types, the line codec
// and the per-message transition logic.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates fields within one line-framed record.
const Delimiter = ";"

// Wire type codes. Stable; a compatible peer must not renumber them.
const (
	TypeHandshake      = 1
	TypePing           = 2
	TypeError          = 3
	TypeResponse       = 4
	TypePairingRequest = 5

	TypeCredentialRequest = 11
	ActionLogin           = 12
	TypeLogout            = 13
	ActionRegister        = 14

	TypeNotificationLogin = 21
	TypePushNotification  = 22

	TypeCodeViewStart = 31
	TypeCodeResponse  = 32
	TypeCodeSubmit    = 33
	TypeCodeValidate  = 34

	TypeCodeViewExit = 51
)

// Response subtypes.
const (
	SubtypeLogin              = 41
	SubtypeRegister           = 42
	SubtypePairing            = 43
	SubtypeCodeCheck          = 44
	SubtypeNotificationAnswer = 45
	SubtypeNotificationLogin  = 46
)

// Error codes carried by Error messages.
const (
	CodeAlreadyLoggedIn     = 300
	CodeInvalidCredentials  = 301
	CodeUsernameTaken       = 302
	CodeNotLoggedIn         = 303
	CodeUnknownNotification = 304
)

// ErrMalformed reports a line that does not decode to any known message.
// The connection layer drops such lines without replying.
var ErrMalformed = errors.New("malformed protocol message")

// Message is one decoded protocol record.
type Message interface {
	Encode() string
}

// Handshake binds a role to a fresh connection; relying servers also
// declare their application id.
type Handshake struct {
	Role  int
	AppID string
}

func (m Handshake) Encode() string {
	if m.AppID == "" {
		return join(TypeHandshake, strconv.Itoa(m.Role))
	}
	return join(TypeHandshake, strconv.Itoa(m.Role), m.AppID)
}

// Ping is an application-level liveness probe; the server echoes it.
type Ping struct{}

func (Ping) Encode() string { return strconv.Itoa(TypePing) }

// Error reports a rejected operation without closing the connection.
type Error struct {
	Code int
	Text string
}

func (m Error) Encode() string {
	return join(TypeError, strconv.Itoa(m.Code), m.Text)
}

// Response is the generic subtyped result record. Text and Extra are
// subtype-specific: the pairing response carries the token in Text and the
// relying username in Extra, the notification answer carries the request id
// in Text.
type Response struct {
	Subtype int
	OK      bool
	Text    string
	Extra   string
}

func (m Response) Encode() string {
	return join(TypeResponse, strconv.Itoa(m.Subtype), boolField(m.OK), m.Text, m.Extra)
}

// PairingRequest asks the server to issue a pairing token for a relying
// user; the application id comes from the sender's handshake.
type PairingRequest struct {
	RelyingUsername string
}

func (m PairingRequest) Encode() string {
	return join(TypePairingRequest, m.RelyingUsername)
}

// CredentialRequest carries a login or registration attempt.
type CredentialRequest struct {
	Action   int
	Username string
	Password string
}

func (m CredentialRequest) Encode() string {
	return join(TypeCredentialRequest, strconv.Itoa(m.Action), m.Username, m.Password)
}

// Logout ends the authenticated state of the sending connection.
type Logout struct{}

func (Logout) Encode() string { return strconv.Itoa(TypeLogout) }

// NotificationLogin asks the server to push an approval prompt to the
// authenticator paired with the given relying user.
type NotificationLogin struct {
	Username string
	AppID    string
}

func (m NotificationLogin) Encode() string {
	if m.AppID == "" {
		return join(TypeNotificationLogin, m.Username)
	}
	return join(TypeNotificationLogin, m.Username, m.AppID)
}

// PushNotification is the approval prompt delivered to an authenticator.
type PushNotification struct {
	RequestID string
	AppID     string
}

func (m PushNotification) Encode() string {
	return join(TypePushNotification, m.RequestID, m.AppID)
}

// CodeViewStart asks the server to start pushing rotating codes.
type CodeViewStart struct{}

func (CodeViewStart) Encode() string { return strconv.Itoa(TypeCodeViewStart) }

// CodeResponse carries one wave of rotating codes: seconds left in the
// current step and app:code pairs joined with "|".
type CodeResponse struct {
	Remaining uint32
	Payload   string
}

func (m CodeResponse) Encode() string {
	return join(TypeCodeResponse, strconv.FormatUint(uint64(m.Remaining), 10), m.Payload)
}

// CodeSubmit carries a value typed into an authenticator client: a 6-digit
// code, or a pairing token to redeem.
type CodeSubmit struct {
	Value string
}

func (m CodeSubmit) Encode() string { return join(TypeCodeSubmit, m.Value) }

// CodeValidate asks the server to check a code for a relying user at an
// app.
type CodeValidate struct {
	Code            string
	RelyingUsername string
	AppID           string
}

func (m CodeValidate) Encode() string {
	return join(TypeCodeValidate, m.Code, m.RelyingUsername, m.AppID)
}

// CodeViewExit stops the rotating code pushes for the sender.
type CodeViewExit struct{}

func (CodeViewExit) Encode() string { return strconv.Itoa(TypeCodeViewExit) }

// Decode parses one delimited record. Unknown type codes, wrong field
// counts and non-numeric numeric fields all return ErrMalformed.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, ErrMalformed
	}
	fields := strings.Split(line, Delimiter)
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad type code %q", ErrMalformed, fields[0])
	}

	switch code {
	case TypeHandshake:
		if len(fields) != 2 && len(fields) != 3 {
			break
		}
		role, err := strconv.Atoi(fields[1])
		if err != nil {
			break
		}
		m := Handshake{Role: role}
		if len(fields) == 3 {
			m.AppID = fields[2]
		}
		return m, nil

	case TypePing:
		if len(fields) == 1 {
			return Ping{}, nil
		}

	case TypeError:
		if len(fields) != 3 {
			break
		}
		errCode, err := strconv.Atoi(fields[1])
		if err != nil {
			break
		}
		return Error{Code: errCode, Text: fields[2]}, nil

	case TypeResponse:
		if len(fields) != 4 && len(fields) != 5 {
			break
		}
		subtype, err := strconv.Atoi(fields[1])
		if err != nil || subtype < SubtypeLogin || subtype > SubtypeNotificationLogin {
			break
		}
		m := Response{Subtype: subtype, OK: fields[2] == "1", Text: fields[3]}
		if len(fields) == 5 {
			m.Extra = fields[4]
		}
		return m, nil

	case TypePairingRequest:
		if len(fields) == 2 {
			return PairingRequest{RelyingUsername: fields[1]}, nil
		}

	case TypeCredentialRequest:
		if len(fields) != 4 {
			break
		}
		action, err := strconv.Atoi(fields[1])
		if err != nil || (action != ActionLogin && action != ActionRegister) {
			break
		}
		return CredentialRequest{Action: action, Username: fields[2], Password: fields[3]}, nil

	case TypeLogout:
		if len(fields) == 1 {
			return Logout{}, nil
		}

	case TypeNotificationLogin:
		if len(fields) == 2 {
			return NotificationLogin{Username: fields[1]}, nil
		}
		if len(fields) == 3 {
			return NotificationLogin{Username: fields[1], AppID: fields[2]}, nil
		}

	case TypePushNotification:
		if len(fields) == 3 {
			return PushNotification{RequestID: fields[1], AppID: fields[2]}, nil
		}

	case TypeCodeViewStart:
		if len(fields) == 1 {
			return CodeViewStart{}, nil
		}

	case TypeCodeResponse:
		if len(fields) != 3 {
			break
		}
		remaining, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			break
		}
		return CodeResponse{Remaining: uint32(remaining), Payload: fields[2]}, nil

	case TypeCodeSubmit:
		if len(fields) == 2 {
			return CodeSubmit{Value: fields[1]}, nil
		}

	case TypeCodeValidate:
		if len(fields) == 4 {
			return CodeValidate{Code: fields[1], RelyingUsername: fields[2], AppID: fields[3]}, nil
		}

	case TypeCodeViewExit:
		if len(fields) == 1 {
			return CodeViewExit{}, nil
		}

	default:
		return nil, fmt.Errorf("%w: unknown type code %d", ErrMalformed, code)
	}
	return nil, fmt.Errorf("%w: wrong field count for type %d", ErrMalformed, code)
}

func join(code int, fields ...string) string {
	return strconv.Itoa(code) + Delimiter + strings.Join(fields, Delimiter)
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
