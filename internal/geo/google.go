package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/kelvins/geocoder"
)

// Google reverse-geocodes through the Google Maps Geocoding API.
type Google struct{}

// NewGoogle configures the geocoder package's API key. The key is process-wide.
func NewGoogle(apiKey string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google geocoder requires an API key")
	}
	geocoder.ApiKey = apiKey
	return &Google{}, nil
}

func (g *Google) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	type result struct {
		addresses []geocoder.Address
		err       error
	}
	done := make(chan result, 1)
	go func() {
		addresses, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
		done <- result{addresses, err}
	}()

	select {
	case <-ctx.Done():
		return Place{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Place{}, fmt.Errorf("google reverse: %w", r.err)
		}
		if len(r.addresses) == 0 {
			return Place{Country: UnknownCountry}, nil
		}
		a := r.addresses[0]
		place := Place{Country: a.Country, Region: firstNonEmpty(a.State, a.County)}
		if place.Country == "" {
			place.Country = UnknownCountry
		}
		return place, nil
	}
}
