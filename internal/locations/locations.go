// Package locations owns the named geo-points weather is collected for.
package locations

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("location not found")
	ErrDuplicate = errors.New("location already exists")
	ErrNoneNear  = errors.New("no location found within range")
)

const (
	earthRadiusKm = 6371.0
	// KmPerMile converts miles to kilometres.
	KmPerMile = 1.60934
)

// Location is a named point with an IANA time zone.
type Location struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Country     string    `json:"country"`
	Region      string    `json:"region"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	TimeZone    string    `json:"tz_iana"`
	IsSkiResort bool      `json:"isSkiResort"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DisplayName renders "name - region, country", dropping empty locality parts.
func (l Location) DisplayName() string {
	var locality []string
	for _, part := range []string{l.Region, l.Country} {
		if part != "" {
			locality = append(locality, part)
		}
	}
	if len(locality) == 0 {
		return l.Name
	}
	return l.Name + " - " + strings.Join(locality, ", ")
}

// View is the API shape of a location.
type View struct {
	Location
	DisplayName string   `json:"displayName"`
	DistanceKm  *float64 `json:"distanceKm,omitempty"`
}

func (l Location) View() View {
	return View{Location: l, DisplayName: l.DisplayName()}
}

// Input is a create or update request body.
type Input struct {
	Name        string   `json:"name" validate:"required"`
	Country     string   `json:"country" validate:"required"`
	Region      string   `json:"region"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Lon         *float64 `json:"lon" validate:"required,longitude"`
	TimeZone    string   `json:"tz_iana" validate:"required"`
	IsSkiResort *bool    `json:"isSkiResort"`
}

// SearchFilter narrows a listing. An empty Query matches every name.
type SearchFilter struct {
	Query       string
	IsSkiResort *bool
	Limit       int
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ParseBool accepts "true"/"false" in any case; anything else is unset.
func ParseBool(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}
