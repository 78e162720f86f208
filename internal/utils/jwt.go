package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer     = "eduvault"
	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

// ErrTokenInvalid wraps every parse or validation failure.
var ErrTokenInvalid = errors.New("token invalid")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken represents a signed long-lived JWT used to obtain a new
// token pair.  Only its SHA-256 hash is stored on the account.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// AccessClaims are the non-secret claims carried by an access token.  Which
// of Email/Name/Roll are filled depends on the role.
type AccessClaims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Roll  string `json:"roll,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims carry only the subject and registered claims.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

func registered(subject, audience string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		// unique per token so two pairs issued in the same second differ
		ID: uuid.NewString(),
	}, exp
}

// NewAccessToken builds and signs an HS256 access token for subject.  The
// role specific fields of claims are copied; registered claims are set here.
func NewAccessToken(secret, subject string, claims AccessClaims, ttl time.Duration) (AccessToken, error) {
	rc, exp := registered(subject, audienceAccess, ttl)
	claims.RegisteredClaims = rc
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewRefreshToken builds and signs an HS256 refresh token for subject.
func NewRefreshToken(secret, subject string, ttl time.Duration) (RefreshToken, error) {
	rc, exp := registered(subject, audienceRefresh, ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{RegisteredClaims: rc}).SignedString([]byte(secret))
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature, expiry, issuer and audience.
func ParseAccessToken(secret, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := parse(secret, raw, audienceAccess, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefreshToken verifies signature, expiry, issuer and audience.
func ParseRefreshToken(secret, raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := parse(secret, raw, audienceRefresh, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func parse(secret, raw, audience string, claims jwt.Claims) error {
	if raw == "" {
		return ErrTokenInvalid
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
	)
	if err != nil {
		return errors.Join(ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return ErrTokenInvalid
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return ErrTokenInvalid
	}
	return nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string.  Only the hash is persisted.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
