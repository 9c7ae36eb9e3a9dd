package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-api/internal/apperr"
)

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// bindJSON parses the body into dst and validates its tags.
func bindJSON(c *fiber.Ctx, dst any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return apperr.Validation("invalid request body")
		}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation(err.Error())
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return apperr.Validation(fe.Field() + " is required")
	}
	return apperr.Validation(fmt.Sprintf("%s is not a valid %s", fe.Field(), fe.Tag()))
}

// queryFloat parses a numeric query parameter. Missing values report ok=false.
func queryFloat(c *fiber.Ctx, key string) (float64, bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperr.Validation(key + " must be numeric")
	}
	return v, true, nil
}

func queryEpoch(c *fiber.Ctx, key string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.Validation(key + " must be an epoch in milliseconds")
	}
	return &v, nil
}

// queryCoords reads the required lat and lon parameters.
func queryCoords(c *fiber.Ctx) (float64, float64, error) {
	lat, okLat, err := queryFloat(c, "lat")
	if err != nil {
		return 0, 0, apperr.Validation("lat and lon are required numeric query params")
	}
	lon, okLon, err := queryFloat(c, "lon")
	if err != nil || !okLat || !okLon {
		return 0, 0, apperr.Validation("lat and lon are required numeric query params")
	}
	return lat, lon, nil
}
