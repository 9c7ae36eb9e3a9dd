package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-api/internal/weather"
)

func weatherQuery(c *fiber.Ctx) (weather.Query, error) {
	q := weather.Query{
		LocationID:  c.Query("locationId"),
		DaysBack:    c.Query("daysBack"),
		DaysForward: c.Query("daysForward"),
		Sort:        c.Query("sort"),
	}
	var err error
	if q.StartEpoch, err = queryEpoch(c, "startDateEpoch"); err != nil {
		return q, err
	}
	if q.EndEpoch, err = queryEpoch(c, "endDateEpoch"); err != nil {
		return q, err
	}
	return q, nil
}

func coordsQuery(c *fiber.Ctx) (weather.CoordsQuery, error) {
	base, err := weatherQuery(c)
	if err != nil {
		return weather.CoordsQuery{}, err
	}
	lat, lon, err := queryCoords(c)
	if err != nil {
		return weather.CoordsQuery{}, err
	}
	maxKm, _, err := queryFloat(c, "maxDistanceKm")
	if err != nil {
		return weather.CoordsQuery{}, err
	}
	return weather.CoordsQuery{Query: base, Lat: lat, Lon: lon, MaxKm: maxKm}, nil
}

func (s *Server) hourly(c *fiber.Ctx) error {
	q, err := weatherQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.deps.Weather.Hourly(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) hourlyByCoords(c *fiber.Ctx) error {
	q, err := coordsQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.deps.Weather.HourlyByCoords(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) dailyOverview(c *fiber.Ctx) error {
	q, err := weatherQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.deps.Weather.DailyOverview(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) dailyOverviewByCoords(c *fiber.Ctx) error {
	q, err := coordsQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.deps.Weather.DailyOverviewByCoords(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) dailySegments(c *fiber.Ctx) error {
	q, err := weatherQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.deps.Weather.DailySegments(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) dailySegmentsByCoords(c *fiber.Ctx) error {
	q, err := coordsQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.deps.Weather.DailySegmentsByCoords(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
