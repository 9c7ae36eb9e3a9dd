// Package geo resolves coordinates to a country and region.
package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// UnknownCountry is reported when no backend could resolve a point.
const UnknownCountry = "Unknown"

// Place is the administrative area containing a point.
type Place struct {
	Country string `json:"country"`
	Region  string `json:"region"`
}

// Geocoder reverse-geocodes a coordinate pair.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Place, error)
}

// LookupOrUnknown never fails: backend errors degrade to an unknown place.
func LookupOrUnknown(ctx context.Context, g Geocoder, lat, lon float64) Place {
	if g == nil {
		return Place{Country: UnknownCountry}
	}
	p, err := g.Reverse(ctx, lat, lon)
	if err != nil {
		log.Warn().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("reverse geocode failed")
		return Place{Country: UnknownCountry}
	}
	if p.Country == "" {
		p.Country = UnknownCountry
	}
	return p
}

// Cached memoizes successful lookups keyed by coordinates rounded to ~100m.
type Cached struct {
	next  Geocoder
	cache *cache.Cache
}

func NewCached(next Geocoder, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, ttl*2)}
}

func (c *Cached) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	key := fmt.Sprintf("%.3f,%.3f", lat, lon)
	if v, ok := c.cache.Get(key); ok {
		return v.(Place), nil
	}
	p, err := c.next.Reverse(ctx, lat, lon)
	if err != nil {
		return Place{}, err
	}
	c.cache.SetDefault(key, p)
	return p, nil
}
