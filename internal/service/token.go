package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/eduvault/internal/metrics"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/repository"
	"github.com/iliyamo/eduvault/internal/utils"
)

// TokenConfig carries the signing secrets and lifetimes of the two tokens.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Session is one issued access/refresh pair.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	AccessExp    time.Time `json:"-"`
	RefreshToken string    `json:"refreshToken"`
	RefreshExp   time.Time `json:"-"`
}

// Claims is the identity proven by a valid access token.
type Claims struct {
	AccountID string
	Role      model.Role
	Email     string
	Name      string
	Roll      string
}

// TokenService issues, rotates and verifies sessions.  Each account holds
// the hash of at most one refresh token; issuing a new session replaces it.
type TokenService struct {
	accounts *repository.AccountRepo
	tokens   *repository.TokenRepo
	cfg      TokenConfig
	log      *slog.Logger
}

func NewTokenService(accounts *repository.AccountRepo, tokens *repository.TokenRepo, cfg TokenConfig, log *slog.Logger) *TokenService {
	if accounts == nil || tokens == nil {
		panic("NewTokenService: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &TokenService{accounts: accounts, tokens: tokens, cfg: cfg, log: log}
}

// NormalizeEmail is the login key form of an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// InstitutionLoginKey is the login key of an institution: its name and
// location, trimmed and lowercased, joined by '|'.
func InstitutionLoginKey(name, location string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(location))
}

func (s *TokenService) mint(a model.Account) (Session, error) {
	claims := utils.AccessClaims{Role: string(a.Role)}
	switch a.Role {
	case model.RoleStudent:
		claims.Email, claims.Roll = a.Student.Email, a.Student.Roll
	case model.RoleFaculty:
		claims.Email, claims.Name = a.Faculty.Email, a.Name
	case model.RoleInstitution:
		claims.Name = a.Name
	}
	at, err := utils.NewAccessToken(s.cfg.AccessSecret, a.ID, claims, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	rt, err := utils.NewRefreshToken(s.cfg.RefreshSecret, a.ID, s.cfg.RefreshTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: at.Token, AccessExp: at.Exp, RefreshToken: rt.Raw, RefreshExp: rt.Exp}, nil
}

// IssueSession mints a new pair for a and stores the refresh hash,
// invalidating any previous refresh token.
func (s *TokenService) IssueSession(ctx context.Context, a model.Account) (Session, error) {
	sess, err := s.mint(a)
	if err != nil {
		return Session{}, fmt.Errorf("%w: sign tokens: %v", ErrInternal, err)
	}
	if err := s.tokens.StoreRefresh(ctx, a.ID, utils.HashRefreshRaw(sess.RefreshToken)); err != nil {
		return Session{}, fmt.Errorf("%w: store refresh token: %v", ErrInternal, err)
	}
	return sess, nil
}

// Login verifies the password of the role's account under loginKey and
// issues a session.
func (s *TokenService) Login(ctx context.Context, role model.Role, loginKey, password string) (Session, model.Account, error) {
	sess, a, err := s.login(ctx, role, loginKey, password)
	metrics.SessionOps.WithLabelValues("login", string(role), outcome(err)).Inc()
	return sess, a, err
}

func (s *TokenService) login(ctx context.Context, role model.Role, loginKey, password string) (Session, model.Account, error) {
	if strings.TrimSpace(loginKey) == "" || password == "" {
		return Session{}, model.Account{}, invalid("credentials")
	}
	a, err := s.accounts.GetByLoginKey(ctx, role, loginKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, model.Account{}, fmt.Errorf("%w: %s does not exist", ErrNotFound, role)
	}
	if err != nil {
		return Session{}, model.Account{}, fmt.Errorf("%w: load account: %v", ErrInternal, err)
	}
	if !utils.VerifyPassword(a.PasswordHash, password) {
		return Session{}, model.Account{}, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	sess, err := s.IssueSession(ctx, a)
	if err != nil {
		return Session{}, model.Account{}, err
	}
	return sess, a, nil
}

// Refresh rotates the pair behind refreshToken.  The presented token must
// be the one most recently issued to a role account; the swap of the stored
// hash is conditional, so of two concurrent refreshes with the same token
// only one succeeds.
func (s *TokenService) Refresh(ctx context.Context, role model.Role, refreshToken string) (Session, error) {
	sess, err := s.refresh(ctx, role, refreshToken)
	metrics.SessionOps.WithLabelValues("refresh", string(role), outcome(err)).Inc()
	return sess, err
}

func (s *TokenService) refresh(ctx context.Context, role model.Role, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, fmt.Errorf("%w: refresh token missing", ErrUnauthorized)
	}
	claims, err := utils.ParseRefreshToken(s.cfg.RefreshSecret, refreshToken)
	if err != nil {
		return Session{}, fmt.Errorf("%w: refresh token invalid", ErrUnauthorized)
	}
	a, err := s.accounts.GetByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: refresh token invalid", ErrUnauthorized)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: load account: %v", ErrInternal, err)
	}
	presented := utils.HashRefreshRaw(refreshToken)
	if a.Role != role || a.RefreshTokenHash == nil || *a.RefreshTokenHash != presented {
		return Session{}, fmt.Errorf("%w: refresh token expired or used", ErrUnauthorized)
	}

	sess, err := s.mint(a)
	if err != nil {
		return Session{}, fmt.Errorf("%w: sign tokens: %v", ErrInternal, err)
	}
	swapped, err := s.tokens.SwapRefresh(ctx, a.ID, presented, utils.HashRefreshRaw(sess.RefreshToken))
	if err != nil {
		return Session{}, fmt.Errorf("%w: rotate refresh token: %v", ErrInternal, err)
	}
	if !swapped {
		return Session{}, fmt.Errorf("%w: refresh token expired or used", ErrUnauthorized)
	}
	return sess, nil
}

// Logout clears the stored refresh hash.  It never fails the caller;
// storage errors are logged.
func (s *TokenService) Logout(ctx context.Context, accountID string) {
	err := s.tokens.RevokeForAccount(ctx, accountID)
	if err != nil {
		s.log.WarnContext(ctx, "logout: clear refresh token", "account_id", accountID, "err", err)
	}
	metrics.SessionOps.WithLabelValues("logout", "", outcome(err)).Inc()
}

// Authenticate verifies an access token's signature and expiry.
func (s *TokenService) Authenticate(accessToken string) (Claims, error) {
	c, err := utils.ParseAccessToken(s.cfg.AccessSecret, accessToken)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: access token invalid", ErrUnauthorized)
	}
	role := model.Role(c.Role)
	if !role.Valid() {
		return Claims{}, fmt.Errorf("%w: access token invalid", ErrUnauthorized)
	}
	return Claims{AccountID: c.Subject, Role: role, Email: c.Email, Name: c.Name, Roll: c.Roll}, nil
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrDependency):
		return "dependency"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	}
	return "error"
}
