// Package httpapi exposes the weather, location, auth and admin endpoints
// over Fiber.
package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/ratelimit"
	"github.com/i474232898/weather-api/internal/weather"
)

const (
	adminCookie    = "adminSession"
	frontendCookie = "frontendSession"
)

// Options are the transport settings of the server.
type Options struct {
	KeyHeader            string
	AdminCookieSecure    bool
	FrontendCookieSecure bool
	FrontendSameSite     string
	CORSOrigins          []string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	RequestLogging       bool
}

// Deps are the services the handlers call. Admin and Frontend are nil when
// their surface is disabled.
type Deps struct {
	Clients      *admission.ClientService
	Tracker      *admission.Tracker
	Weather      *weather.Service
	Locations    *locations.Directory
	Config       *appconfig.Store
	Users        *identity.UserAdmin
	Admin        *identity.MagicLinkFlow
	Frontend     *identity.MagicLinkFlow
	AdminLimiter *ratelimit.Limiter
}

// Server owns the Fiber app.
type Server struct {
	deps Deps
	opts Options
	app  *fiber.App
}

// New builds the app with every route registered.
func New(deps Deps, opts Options) *Server {
	if opts.KeyHeader == "" {
		opts.KeyHeader = "x-api-key"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Server{deps: deps, opts: opts}

	s.app = fiber.New(fiber.Config{
		AppName:               "weather-api",
		DisableStartupMessage: true,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		ErrorHandler:          errorHandler,
	})

	if opts.RequestLogging {
		s.app.Use(logger.New())
	}
	s.app.Use(recover.New())
	if len(opts.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(opts.CORSOrigins, ","),
			AllowCredentials: true,
			AllowHeaders:     "Origin, Content-Type, Accept, Authorization, " + opts.KeyHeader,
		}))
	}

	s.registerRoutes()
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) registerRoutes() {
	app := s.app

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Welcome")
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "weather-api"})
	})

	if s.deps.Frontend != nil {
		auth := app.Group("/auth")
		auth.Post("/request-link", s.requestLink(s.deps.Frontend))
		auth.Get("/verify", s.frontendVerify)
		auth.Post("/verify-token", s.frontendVerifyToken)
		auth.Post("/refresh", s.frontendRefresh)
		auth.Get("/session", s.frontendSession)
		auth.Post("/logout", s.frontendLogout)
	}

	metered := s.requireClient
	app.Get("/locations", metered, s.searchLocations)
	app.Get("/locations/nearest", metered, s.nearestLocation)
	app.Get("/locations/lookup", metered, s.lookupLocation)

	w := app.Group("/weather", metered)
	w.Get("/hourly", s.hourly)
	w.Get("/hourly/by-coords", s.hourlyByCoords)
	w.Get("/daily/overview", s.dailyOverview)
	w.Get("/daily/overview/by-coords", s.dailyOverviewByCoords)
	w.Get("/daily/segments", s.dailySegments)
	w.Get("/daily/segments/by-coords", s.dailySegmentsByCoords)

	if s.deps.Admin != nil {
		s.registerAdminRoutes()
	}

	app.Use(func(c *fiber.Ctx) error {
		return apperr.NotFound("Not available")
	})
}

func (s *Server) registerAdminRoutes() {
	app := s.app
	write := s.requireAdmin(true)
	read := s.requireAdmin(false)

	app.Post("/locations", write, s.createLocation)
	app.Put("/locations/:id", write, s.updateLocation)
	app.Delete("/locations/:id", write, s.deleteLocation)

	admin := app.Group("/admin", s.adminRateLimit)
	admin.Post("/auth/request-link", s.requestLink(s.deps.Admin))
	admin.Get("/auth/verify", s.adminVerify)
	admin.Get("/auth/session", s.adminSession)
	admin.Post("/auth/logout", s.adminLogout)

	admin.Get("/config", read, s.listConfig)
	admin.Put("/config/:key", write, s.updateConfig)

	admin.Get("/api-clients", read, s.listClients)
	admin.Post("/api-clients", write, s.createClient)
	admin.Put("/api-clients/:id", write, s.updateClient)
	admin.Delete("/api-clients/:id", write, s.deleteClient)
	admin.Post("/api-clients/:id/toggle", write, s.toggleClient)
	admin.Get("/api-clients/:id/access", read, s.clientAccess)

	admin.Get("/users", read, s.listUsers)
	admin.Post("/users", write, s.createUser)
	admin.Put("/users/:id", write, s.updateUser)
	admin.Delete("/users/:id", write, s.deleteUser)
}

type errorBody struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler renders every failure as JSON. Messages of internal kinds are
// logged and replaced by a generic text.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody{Error: true, Code: codeForStatus(fe.Code), Message: fe.Message})
	}

	status := apperr.Status(err)
	body := errorBody{Error: true, Code: string(apperr.KindOf(err)), Message: "internal server error"}
	if e, ok := apperr.As(err); ok && apperr.Public(err) {
		body.Message = e.Message
		if e.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
		}
	} else {
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(body)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperr.KindValidation)
	case http.StatusUnauthorized:
		return string(apperr.KindAuthentication)
	case http.StatusForbidden:
		return string(apperr.KindAuthorization)
	case http.StatusNotFound:
		return string(apperr.KindNotFound)
	case http.StatusTooManyRequests:
		return string(apperr.KindRateLimit)
	default:
		if status >= 500 {
			return string(apperr.KindInternal)
		}
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}
