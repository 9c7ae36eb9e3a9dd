package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-api/internal/identity"
)

type linkRequestBody struct {
	Email    string `json:"email"`
	Redirect string `json:"redirect"`
	Mode     string `json:"mode"`
}

type tokenBody struct {
	Token string `json:"token"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionView struct {
	Email          string                  `json:"email"`
	Name           string                  `json:"name,omitempty"`
	Role           identity.Role           `json:"role"`
	LocationAccess identity.LocationAccess `json:"locationAccess"`
	AdminAccess    bool                    `json:"adminAccess"`
}

func viewOf(u *identity.User) sessionView {
	return sessionView{Email: u.Email, Name: u.Name, Role: u.Role, LocationAccess: u.LocationAccess, AdminAccess: u.AdminAccess}
}

func (s *Server) requestLink(flow *identity.MagicLinkFlow) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body linkRequestBody
		if err := bindJSON(c, &body); err != nil {
			return err
		}
		err := flow.RequestLink(c.UserContext(), identity.LinkRequest{
			Email:        body.Email,
			RedirectPath: body.Redirect,
			Mode:         identity.ParseLinkMode(body.Mode),
			Meta:         clientMeta(c),
		})
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"ok": true})
	}
}

func (s *Server) setSession(c *fiber.Ctx, name, token string, ttl time.Duration, secure bool, sameSite string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		Secure:   secure,
		HTTPOnly: true,
		SameSite: sameSite,
	})
}

func (s *Server) clearSession(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
	})
}

// verifyCookie consumes the token, sets the session cookie and redirects.
func (s *Server) verifyCookie(c *fiber.Ctx, flow *identity.MagicLinkFlow, cookie string, secure bool, sameSite string) error {
	user, err := flow.Verify(c.UserContext(), c.Query("token"), clientMeta(c))
	if err != nil {
		return err
	}
	token, err := flow.StartSession(user)
	if err != nil {
		return err
	}
	s.setSession(c, cookie, token, flow.SessionTTL(), secure, sameSite)
	return c.Redirect(flow.RedirectTarget(c.Query("redirect")), fiber.StatusFound)
}

func (s *Server) frontendVerify(c *fiber.Ctx) error {
	flow := s.deps.Frontend
	if identity.ParseLinkMode(c.Query("mode")) == identity.ModeToken {
		token := c.Query("token")
		if _, err := flow.Check(c.UserContext(), token); err != nil {
			return err
		}
		return c.Redirect(flow.TokenRedirectTarget(c.Query("redirect"), token), fiber.StatusFound)
	}
	return s.verifyCookie(c, flow, frontendCookie, s.opts.FrontendCookieSecure, s.opts.FrontendSameSite)
}

func (s *Server) frontendVerifyToken(c *fiber.Ctx) error {
	var body tokenBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	pair, err := s.deps.Frontend.VerifyForTokens(c.UserContext(), body.Token, clientMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

func (s *Server) frontendRefresh(c *fiber.Ctx) error {
	var body refreshBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	pair, err := s.deps.Frontend.Refresh(c.UserContext(), body.RefreshToken, clientMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

// frontendSession accepts a bearer access token before the session cookie.
func (s *Server) frontendSession(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		token = c.Cookies(frontendCookie)
	}
	user, err := s.deps.Frontend.SessionUser(c.UserContext(), token)
	if err != nil {
		s.clearSession(c, frontendCookie)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"authenticated": false})
	}
	return c.JSON(fiber.Map{"authenticated": true, "user": viewOf(user)})
}

func (s *Server) frontendLogout(c *fiber.Ctx) error {
	var body refreshBody
	_ = c.BodyParser(&body)
	s.clearSession(c, frontendCookie)
	if err := s.deps.Frontend.Logout(c.UserContext(), body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) adminVerify(c *fiber.Ctx) error {
	return s.verifyCookie(c, s.deps.Admin, adminCookie, s.opts.AdminCookieSecure, fiber.CookieSameSiteLaxMode)
}

func (s *Server) adminSession(c *fiber.Ctx) error {
	user, err := s.deps.Admin.SessionUser(c.UserContext(), c.Cookies(adminCookie))
	if err != nil {
		s.clearSession(c, adminCookie)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"authenticated": false})
	}
	return c.JSON(fiber.Map{"authenticated": true, "user": viewOf(user)})
}

func (s *Server) adminLogout(c *fiber.Ctx) error {
	s.clearSession(c, adminCookie)
	return c.JSON(fiber.Map{"ok": true})
}
