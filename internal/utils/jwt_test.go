package utils

import (
	"errors"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-for-tests"
	testRefreshSecret = "refresh-secret-for-tests"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken(testAccessSecret, "01HZX", AccessClaims{Role: "student", Email: "a@b.c", Roll: "R1"}, time.Minute)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	claims, err := ParseAccessToken(testAccessSecret, tok.Token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "01HZX" || claims.Role != "student" || claims.Email != "a@b.c" || claims.Roll != "R1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	good, _ := NewAccessToken(testAccessSecret, "acc", AccessClaims{Role: "faculty"}, time.Minute)
	expired, _ := NewAccessToken(testAccessSecret, "acc", AccessClaims{Role: "faculty"}, -time.Minute)
	refresh, _ := NewRefreshToken(testAccessSecret, "acc", time.Minute)

	tests := []struct {
		name   string
		secret string
		raw    string
	}{
		{"empty", testAccessSecret, ""},
		{"garbage", testAccessSecret, "not.a.jwt"},
		{"wrong secret", "other", good.Token},
		{"expired", testAccessSecret, expired.Token},
		{"refresh audience", testAccessSecret, refresh.Raw},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAccessToken(tc.secret, tc.raw); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("expected ErrTokenInvalid, got %v", err)
			}
		})
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	a, err := NewRefreshToken(testRefreshSecret, "acc", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRefreshToken(testRefreshSecret, "acc", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if a.Raw == b.Raw {
		t.Fatal("two refresh tokens minted in the same second must differ")
	}
	if HashRefreshRaw(a.Raw) == HashRefreshRaw(b.Raw) {
		t.Fatal("hashes must differ")
	}
	claims, err := ParseRefreshToken(testRefreshSecret, a.Raw)
	if err != nil {
		t.Fatalf("ParseRefreshToken: %v", err)
	}
	if claims.Subject != "acc" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestHashRefreshRawIsHex(t *testing.T) {
	h := HashRefreshRaw("abc")
	if len(h) != 64 {
		t.Fatalf("len = %d, want 64", len(h))
	}
	if h != HashRefreshRaw("abc") {
		t.Fatal("hash must be deterministic")
	}
}
