package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/identity"
)

const (
	localsAdmin  = "adminUser"
	localsClient = "apiClient"
	localsUsage  = "apiUsage"
)

// requireClient admits a request carrying an admin session without metering.
// Anything else needs an active client key and is tracked against its budgets.
func (s *Server) requireClient(c *fiber.Ctx) error {
	if user := s.adminFromCookie(c); user != nil {
		c.Locals(localsAdmin, user)
		return c.Next()
	}

	client, err := s.deps.Clients.Authenticate(c.UserContext(), c.Get(s.opts.KeyHeader))
	if err != nil {
		return err
	}
	usage, err := s.deps.Tracker.Track(c.UserContext(), client, admission.RequestMeta{
		IP:        remoteIP(c),
		Host:      c.Hostname(),
		Origin:    c.Get(fiber.HeaderOrigin),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return err
	}
	c.Locals(localsClient, client)
	c.Locals(localsUsage, usage)
	return c.Next()
}

// requireAdmin gates admin routes. Writes additionally need a writer role.
func (s *Server) requireAdmin(write bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := s.deps.Admin.SessionUser(c.UserContext(), c.Cookies(adminCookie))
		if err != nil {
			if apperr.KindOf(err) == apperr.KindAuthentication {
				c.ClearCookie(adminCookie)
				return apperr.Authorization("Forbidden")
			}
			return err
		}
		if write && !user.Role.CanWrite() {
			return apperr.Authorization("Insufficient role")
		}
		c.Locals(localsAdmin, user)
		return c.Next()
	}
}

// adminRateLimit throttles the admin surface per caller IP.
func (s *Server) adminRateLimit(c *fiber.Ctx) error {
	if s.deps.AdminLimiter == nil {
		return c.Next()
	}
	d, err := s.deps.AdminLimiter.Allow(c.UserContext(), c.IP())
	if err != nil {
		log.Warn().Err(err).Msg("admin rate limiter unavailable")
		return c.Next()
	}
	if !d.Allowed {
		return apperr.RateLimited("Too Many Requests", d.RetryAfter)
	}
	return c.Next()
}

func (s *Server) adminFromCookie(c *fiber.Ctx) *identity.User {
	if s.deps.Admin == nil {
		return nil
	}
	token := c.Cookies(adminCookie)
	if token == "" {
		return nil
	}
	user, err := s.deps.Admin.SessionUser(c.UserContext(), token)
	if err != nil {
		return nil
	}
	return user
}

func adminUser(c *fiber.Ctx) *identity.User {
	u, _ := c.Locals(localsAdmin).(*identity.User)
	return u
}

func clientMeta(c *fiber.Ctx) identity.ClientMeta {
	return identity.ClientMeta{IP: remoteIP(c), UserAgent: c.Get(fiber.HeaderUserAgent)}
}

// remoteIP prefers the first X-Forwarded-For entry over the peer address.
func remoteIP(c *fiber.Ctx) string {
	if ips := c.IPs(); len(ips) > 0 && ips[0] != "" {
		return ips[0]
	}
	return c.IP()
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
