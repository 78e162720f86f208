package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/eduvault/internal/config"
	"github.com/iliyamo/eduvault/internal/handler"
	"github.com/iliyamo/eduvault/internal/metrics"
	"github.com/iliyamo/eduvault/internal/middleware"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/service"
)

// Deps is everything the HTTP layer needs.  Redis may be nil, which turns
// the rate limiter and the response cache into pass-throughs.
type Deps struct {
	Config    config.Config
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client
	DB        *sql.DB
	Tokens    *service.TokenService
	Directory *service.Directory
	Ledger    *service.Ledger
	Logger    *slog.Logger
}

// New builds the echo instance with global middleware and every route.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(d.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(middleware.Metrics())
	// multipart overhead on top of the largest accepted certificate
	e.Use(echomw.BodyLimit(strconv.FormatInt(d.Config.MaxUploadBytes+1<<20, 10)))

	e.GET("/healthz", handler.Health(d.DB))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group(d.Config.APIPrefix)
	api.Static("/uploads", d.Config.UploadDir)

	RegisterAccounts(api, d)
	RegisterCertifications(api, d)
	return e
}

// session returns the middleware chain of an endpoint restricted to role.
func session(d Deps, role model.Role) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{middleware.JWTAuth(d.Tokens), middleware.RequireRole(role)}
}

// RegisterAccounts mounts the per-role session and profile endpoints, faculty
// search and the portal endpoints.  Register, login and refresh are public
// and rate limited.
func RegisterAccounts(api *echo.Group, d Deps) {
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger)
	cookies := handler.CookieConfig{Secure: d.Config.CookieSecure}
	dir := handler.NewDirectoryHandler(d.Directory, d.Config.DBTimeout)

	for _, role := range []model.Role{model.RoleStudent, model.RoleFaculty, model.RoleInstitution} {
		h := handler.NewAccountHandler(role, d.Tokens, d.Directory, cookies, d.Config.DBTimeout)
		g := api.Group("/" + string(role))
		auth := session(d, role)

		g.POST("/register", h.Register, limit)
		g.POST("/login", h.Login, limit)
		g.POST("/refresh", h.Refresh, limit)
		g.POST("/logout", h.Logout, auth...)
		g.POST("/change-password", h.ChangePassword, auth...)
		g.GET("/", h.Me, auth...)
		g.GET("", h.Me, auth...)
	}

	search := append(session(d, model.RoleStudent), middleware.NewRedisCache(d.Cache, d.Redis))
	api.GET("/faculty/search", dir.SearchFaculty, search...)
	api.POST("/student/sync-portal", dir.SyncPortal, session(d, model.RoleStudent)...)
	api.PUT("/institution/portal", dir.ConfigurePortal, session(d, model.RoleInstitution)...)
}

// RegisterCertifications mounts the certification endpoints.  Students
// upload, read and delete; faculty approve and list.
func RegisterCertifications(api *echo.Group, d Deps) {
	upload := d.Config.DBTimeout + d.Config.BlobTimeout
	h := handler.NewCertificationHandler(d.Ledger, d.Config.MaxUploadBytes, d.Config.DBTimeout, upload)
	g := api.Group("/certification")
	student := session(d, model.RoleStudent)
	faculty := session(d, model.RoleFaculty)

	g.POST("/upload", h.Upload, student...)
	g.DELETE("/delete", h.Delete, student...)
	g.GET("/", h.Get, student...)
	g.GET("", h.Get, student...)
	g.POST("/approve", h.Approve, faculty...)
	g.GET("/pending", h.Pending, faculty...)
	g.GET("/approved", h.Approved, faculty...)
}
