package util

import (
	"strings"
	"testing"
)

func TestRandomStringAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		s, err := RandomString(Base32Alphabet, 16)
		if err != nil {
			t.Fatalf("RandomString failed: %v", err)
		}
		if len(s) != 16 {
			t.Fatalf("expected 16 symbols, got %d", len(s))
		}
		for _, r := range s {
			if !strings.ContainsRune(Base32Alphabet, r) {
				t.Fatalf("symbol %q outside alphabet", r)
			}
		}
	}
}

func TestIdentifierLengths(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	if len(secret) != SecretLen {
		t.Errorf("secret length = %d, want %d", len(secret), SecretLen)
	}

	token, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}
	if len(token) != TokenLen {
		t.Errorf("token length = %d, want %d", len(token), TokenLen)
	}

	reqID, err := NewRequestID()
	if err != nil {
		t.Fatalf("NewRequestID failed: %v", err)
	}
	if len(reqID) != RequestIDLen {
		t.Errorf("request id length = %d, want %d", len(reqID), RequestIDLen)
	}
}

func TestRandomStringsDiffer(t *testing.T) {
	a, _ := NewToken()
	b, _ := NewToken()
	if a == b {
		t.Errorf("two tokens identical: %s", a)
	}
}
