// Package totp implements the time-based one-time password engine and the
// background scheduler that pushes rotating codes to viewing sessions.
//
// Codes follow RFC 6238: HMAC-SHA1 over the big-endian 30-second step
// counter, dynamic truncation, six digits.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// Digits is the length of a generated code.
	Digits = 6
	// Period is the code rotation interval in seconds.
	Period = 30
	// window is the verification tolerance in steps on either side of now.
	window = 1
)

// Generate computes the code for the base32-encoded secret at time t.
func Generate(secret string, t time.Time) (string, error) {
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).
		DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil {
		return "", fmt.Errorf("decoding secret: %w", err)
	}

	counter := uint64(t.Unix() / Period)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	return fmt.Sprintf("%06d", binCode%1000000), nil
}

// RemainingSeconds reports how long the current step's codes stay valid.
func RemainingSeconds(t time.Time) uint32 {
	return uint32(Period - t.Unix()%Period)
}

func validCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Verify reports whether code matches the secret at now, tolerating one
// step of clock skew in either direction.
func Verify(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
	if secret == "" || !validCode(code) {
		return false
	}
	for i := -window; i <= window; i++ {
		at := now.Add(time.Duration(i*Period) * time.Second)
		expected, err := Generate(secret, at)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}
