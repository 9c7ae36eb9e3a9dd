package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/identity"
)

type configBody struct {
	Value any `json:"value"`
}

func (s *Server) listConfig(c *fiber.Ctx) error {
	return c.JSON(s.deps.Config.Entries())
}

func (s *Server) updateConfig(c *fiber.Ctx) error {
	key := c.Params("key")
	if _, ok := appconfig.Lookup(key); !ok {
		return apperr.NotFound("Unknown config key")
	}
	var body configBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	entry, err := s.deps.Config.Set(c.UserContext(), key, body.Value)
	switch {
	case errors.Is(err, appconfig.ErrValueRequired):
		return apperr.Validation("value is required")
	case errors.Is(err, appconfig.ErrInvalidValue):
		return apperr.Validation("value must be numeric")
	case err != nil:
		return apperr.Internal("failed to update config", err)
	}

	by := "unknown"
	if u := adminUser(c); u != nil {
		by = u.Email
	}
	log.Info().Str("event", "config_updated").Str("key", key).Interface("value", entry.Value).Str("user", by).Msg("config updated")
	return c.JSON(entry)
}

func (s *Server) listClients(c *fiber.Ctx) error {
	all, err := s.deps.Clients.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(all)
}

func (s *Server) createClient(c *fiber.Ctx) error {
	var in admission.CreateInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	issued, err := s.deps.Clients.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(issued)
}

func (s *Server) updateClient(c *fiber.Ctx) error {
	var in admission.UpdateInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	issued, err := s.deps.Clients.Update(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(issued)
}

func (s *Server) toggleClient(c *fiber.Ctx) error {
	client, err := s.deps.Clients.Toggle(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(client)
}

func (s *Server) deleteClient(c *fiber.Ctx) error {
	if err := s.deps.Clients.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) clientAccess(c *fiber.Ctx) error {
	report, err := s.deps.Clients.Access(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	all, err := s.deps.Users.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(all)
}

func (s *Server) createUser(c *fiber.Ctx) error {
	var in identity.NewUser
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	user, err := s.deps.Users.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

func (s *Server) updateUser(c *fiber.Ctx) error {
	var patch identity.UserPatch
	if err := bindJSON(c, &patch); err != nil {
		return err
	}
	user, err := s.deps.Users.Update(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) deleteUser(c *fiber.Ctx) error {
	if err := s.deps.Users.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}
