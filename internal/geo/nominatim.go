package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/i474232898/weather-api/internal/resilience"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"
	nominatimUserAgent  = "weather-backend/1.0"
)

// Nominatim queries an OpenStreetMap Nominatim reverse endpoint.
type Nominatim struct {
	baseURL string
	client  *resilience.Client
}

func NewNominatim(httpClient *http.Client, baseURL string) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &Nominatim{
		baseURL: baseURL,
		client:  resilience.NewClient("nominatim", httpClient, resilience.DefaultRetry),
	}
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("format", "jsonv2")
		values.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("zoom", "5")
		values.Set("addressdetails", "1")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", nominatimUserAgent)
		return req, nil
	}

	resp, err := n.client.Do(ctx, build)
	if err != nil {
		return Place{}, fmt.Errorf("nominatim reverse: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Address struct {
			Country     string `json:"country"`
			CountryCode string `json:"country_code"`
			State       string `json:"state"`
			Region      string `json:"region"`
			County      string `json:"county"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Place{}, fmt.Errorf("nominatim decode: %w", err)
	}

	a := payload.Address
	place := Place{Country: a.Country, Region: firstNonEmpty(a.State, a.Region, a.County)}
	if place.Country == "" && a.CountryCode != "" {
		place.Country = strings.ToUpper(a.CountryCode)
	}
	if place.Country == "" {
		place.Country = UnknownCountry
	}
	return place, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
