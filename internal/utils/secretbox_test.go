package utils

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	sealed, err := s.Seal("portal-api-key")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "portal-api-key") {
		t.Fatal("sealed value leaks plaintext")
	}
	again, _ := s.Seal("portal-api-key")
	if again == sealed {
		t.Fatal("nonces must differ between seals")
	}
	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "portal-api-key" {
		t.Fatalf("Open = %q", plain)
	}
}

func TestSealerRejects(t *testing.T) {
	if _, err := NewSealer("abcd"); !errors.Is(err, ErrSealKey) {
		t.Fatalf("short key: %v", err)
	}
	s, _ := NewSealer(testKey)
	other, _ := NewSealer(strings.Repeat("ff", 32))
	sealed, _ := s.Seal("k")

	for name, in := range map[string]string{
		"not base64": "%%%",
		"too short":  "AAAA",
	} {
		if _, err := s.Open(in); !errors.Is(err, ErrSealedValue) {
			t.Errorf("%s: expected ErrSealedValue, got %v", name, err)
		}
	}
	if _, err := other.Open(sealed); !errors.Is(err, ErrSealedValue) {
		t.Fatalf("wrong key: expected ErrSealedValue, got %v", err)
	}
}

func TestNewIDIsValid(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("ids must be unique")
	}
	if !ValidID(a) || ValidID("nope") {
		t.Fatal("ValidID misclassified")
	}
}
