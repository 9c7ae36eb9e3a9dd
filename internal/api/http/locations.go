package httpapi

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/locations"
)

func (s *Server) searchLocations(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	found, err := s.deps.Locations.Search(c.UserContext(), locations.SearchFilter{
		Query:       c.Query("q"),
		IsSkiResort: locations.ParseBool(c.Query("isSkiResort")),
		Limit:       limit,
	})
	if err != nil {
		return err
	}
	views := make([]locations.View, len(found))
	for i, l := range found {
		views[i] = l.View()
	}
	return c.JSON(views)
}

func (s *Server) nearestLocation(c *fiber.Ctx) error {
	lat, lon, err := queryCoords(c)
	if err != nil {
		return err
	}
	maxKm, ok, err := queryFloat(c, "maxDistanceKm")
	if err != nil {
		return err
	}
	if !ok || maxKm <= 0 {
		maxKm = s.deps.Locations.DefaultSearchRadiusKm()
	}
	loc, dist, err := s.deps.Locations.Nearest(lat, lon, maxKm)
	if errors.Is(err, locations.ErrNoneNear) {
		return apperr.NotFound("No location found within maxDistanceKm")
	}
	if err != nil {
		return err
	}
	view := loc.View()
	view.DistanceKm = &dist
	return c.JSON(view)
}

func (s *Server) lookupLocation(c *fiber.Ctx) error {
	lat, lon, err := queryCoords(c)
	if err != nil {
		return err
	}
	place := s.deps.Locations.Lookup(c.UserContext(), lat, lon)
	return c.JSON(fiber.Map{
		"lat":     lat,
		"lon":     lon,
		"country": place.Country,
		"region":  place.Region,
	})
}

func (s *Server) createLocation(c *fiber.Ctx) error {
	var in locations.Input
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	loc, err := s.deps.Locations.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(loc.View())
}

func (s *Server) updateLocation(c *fiber.Ctx) error {
	var in locations.Input
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	loc, err := s.deps.Locations.Update(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(loc.View())
}

func (s *Server) deleteLocation(c *fiber.Ctx) error {
	if _, err := s.deps.Locations.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendString("Location deleted")
}
