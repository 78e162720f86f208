package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/middleware"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/service"
)

// RefreshCookie is the cookie the refresh token is delivered in.
const RefreshCookie = "refreshToken"

// CookieConfig controls the session cookies.
type CookieConfig struct {
	Secure bool
}

// AccountHandler serves the session and profile endpoints of one role.
// The three roles mount the same handler type under /student, /faculty and
// /institution.
type AccountHandler struct {
	Role      model.Role
	Tokens    *service.TokenService
	Directory *service.Directory
	Cookies   CookieConfig
	Timeout   time.Duration
}

func NewAccountHandler(role model.Role, tokens *service.TokenService, dir *service.Directory, cookies CookieConfig, timeout time.Duration) *AccountHandler {
	if tokens == nil || dir == nil {
		panic("NewAccountHandler: nil dependency")
	}
	if !role.Valid() {
		panic("NewAccountHandler: invalid role " + string(role))
	}
	return &AccountHandler{Role: role, Tokens: tokens, Directory: dir, Cookies: cookies, Timeout: timeout}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Name     string `json:"name"`     // institutions only
	Location string `json:"location"` // institutions only
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type loginResp struct {
	User         model.Account `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

func (h *AccountHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// Register creates an account of the handler's role.
func (h *AccountHandler) Register(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	var (
		a   model.Account
		err error
	)
	switch h.Role {
	case model.RoleStudent:
		var req service.StudentRegistration
		if err := c.Bind(&req); err != nil {
			return failWith(c, http.StatusBadRequest, "Invalid request body")
		}
		a, err = h.Directory.RegisterStudent(ctx, req)
	case model.RoleFaculty:
		var req service.FacultyRegistration
		if err := c.Bind(&req); err != nil {
			return failWith(c, http.StatusBadRequest, "Invalid request body")
		}
		a, err = h.Directory.RegisterFaculty(ctx, req)
	case model.RoleInstitution:
		var req service.InstitutionRegistration
		if err := c.Bind(&req); err != nil {
			return failWith(c, http.StatusBadRequest, "Invalid request body")
		}
		a, err = h.Directory.RegisterInstitution(ctx, req)
	}
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusCreated, a, string(h.Role)+" registered successfully")
}

// Login verifies credentials and starts a session.  Tokens are returned in
// the body and set as httpOnly cookies.
func (h *AccountHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "Invalid request body")
	}
	key := service.NormalizeEmail(req.Email)
	if h.Role == model.RoleInstitution {
		if req.Name == "" || req.Location == "" {
			key = ""
		} else {
			key = service.InstitutionLoginKey(req.Name, req.Location)
		}
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	sess, a, err := h.Tokens.Login(ctx, h.Role, key, req.Password)
	if err != nil {
		return fail(c, err)
	}
	h.setSessionCookies(c, sess)
	return respond(c, http.StatusOK, loginResp{User: a, AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken},
		string(h.Role)+" logged in successfully")
}

// Refresh rotates the session.  The refresh token comes from the cookie or
// the request body.
func (h *AccountHandler) Refresh(c echo.Context) error {
	raw := ""
	if ck, err := c.Cookie(RefreshCookie); err == nil {
		raw = ck.Value
	}
	if raw == "" {
		var req refreshReq
		_ = c.Bind(&req)
		raw = req.RefreshToken
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	sess, err := h.Tokens.Refresh(ctx, h.Role, raw)
	if err != nil {
		return fail(c, err)
	}
	h.setSessionCookies(c, sess)
	return respond(c, http.StatusOK, sess, "Access token refreshed")
}

// Logout ends the caller's session.  It always succeeds.
func (h *AccountHandler) Logout(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	h.Tokens.Logout(ctx, middleware.AccountID(c))
	h.clearSessionCookies(c)
	return respond(c, http.StatusOK, nil, string(h.Role)+" logged out")
}

// ChangePassword replaces the caller's password.
func (h *AccountHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return failWith(c, http.StatusBadRequest, "Invalid request body")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.Directory.ChangePassword(ctx, middleware.AccountID(c), req.OldPassword, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, nil, "Password changed successfully")
}

// Me returns the caller's own profile.
func (h *AccountHandler) Me(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	a, err := h.Directory.Current(ctx, middleware.AccountID(c), h.Role)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, a, string(h.Role)+" fetched successfully")
}

func (h *AccountHandler) cookie(name, value string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	}
	if h.Cookies.Secure {
		ck.SameSite = http.SameSiteNoneMode
	}
	return ck
}

func (h *AccountHandler) setSessionCookies(c echo.Context, s service.Session) {
	c.SetCookie(h.cookie(middleware.AccessCookie, s.AccessToken, s.AccessExp))
	c.SetCookie(h.cookie(RefreshCookie, s.RefreshToken, s.RefreshExp))
}

func (h *AccountHandler) clearSessionCookies(c echo.Context) {
	for _, name := range []string{middleware.AccessCookie, RefreshCookie} {
		ck := h.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}
