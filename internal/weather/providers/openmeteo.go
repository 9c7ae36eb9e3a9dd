package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/resilience"
	"github.com/i474232898/weather-api/internal/timezone"
	"github.com/i474232898/weather-api/internal/weather"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"

	forecastDays = 16
)

var hourlyFields = strings.Join([]string{
	"temperature_2m",
	"apparent_temperature",
	"precipitation",
	"precipitation_probability",
	"snowfall",
	"windspeed_10m",
	"cloudcover",
	"visibility",
	"weathercode",
}, ",")

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	name     string
	forecast string
	archive  string
	client   *resilience.Client
	tz       *timezone.Resolver
}

// NewOpenMeteoProvider builds a provider. Empty URLs select the public endpoints.
func NewOpenMeteoProvider(httpClient *http.Client, forecastURL, archiveURL string, tz *timezone.Resolver) *OpenMeteoProvider {
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	if archiveURL == "" {
		archiveURL = DefaultArchiveURL
	}
	return &OpenMeteoProvider{
		name:     "openmeteo",
		forecast: forecastURL,
		archive:  archiveURL,
		client:   resilience.NewClient("openmeteo", httpClient, resilience.DefaultRetry),
		tz:       tz,
	}
}

// WithRetry overrides the retry policy.
func (p *OpenMeteoProvider) WithRetry(policy resilience.RetryPolicy, httpClient *http.Client) *OpenMeteoProvider {
	p.client = resilience.NewClient(p.name, httpClient, policy)
	return p
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type hourlyPayload struct {
	UTCOffsetSeconds int `json:"utc_offset_seconds"`
	Hourly           struct {
		Time                []string   `json:"time"`
		Temperature         []*float64 `json:"temperature_2m"`
		ApparentTemperature []*float64 `json:"apparent_temperature"`
		Precipitation       []*float64 `json:"precipitation"`
		PrecipProbability   []*float64 `json:"precipitation_probability"`
		Snowfall            []*float64 `json:"snowfall"`
		Windspeed           []*float64 `json:"windspeed_10m"`
		CloudCover          []*float64 `json:"cloudcover"`
		Visibility          []*float64 `json:"visibility"`
		WeatherCode         []*int     `json:"weathercode"`
	} `json:"hourly"`
}

// FetchHourly requests the forecast window, or the archive when req names a
// date range, and normalizes every returned hour.
func (p *OpenMeteoProvider) FetchHourly(ctx context.Context, loc locations.Location, req weather.FetchRequest) ([]weather.HourlyRecord, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
		values.Set("hourly", hourlyFields)
		values.Set("timezone", zoneParam(loc.TimeZone))

		base := p.forecast
		if req.StartDate != "" && req.EndDate != "" {
			base = p.archive
			values.Set("start_date", req.StartDate)
			values.Set("end_date", req.EndDate)
		} else {
			values.Set("forecast_days", strconv.Itoa(forecastDays))
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+values.Encode(), nil)
	}

	resp, err := p.client.Do(ctx, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload hourlyPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("openmeteo decode: %w", err)
	}
	return p.normalize(loc, payload)
}

func (p *OpenMeteoProvider) normalize(loc locations.Location, payload hourlyPayload) ([]weather.HourlyRecord, error) {
	h := payload.Hourly
	records := make([]weather.HourlyRecord, 0, len(h.Time))
	for i, stamp := range h.Time {
		epoch, err := p.tz.ParseLocal(stamp, loc.TimeZone, payload.UTCOffsetSeconds)
		if err != nil {
			return nil, fmt.Errorf("openmeteo time %q: %w", stamp, err)
		}
		utc := time.UnixMilli(epoch).UTC()
		code := mapWeatherCode(intAt(h.WeatherCode, i))
		snowCm := at(h.Snowfall, i)

		precipType := []string{"rain"}
		if snowCm != nil && *snowCm > 0 {
			precipType = []string{"snow"}
		}

		records = append(records, weather.HourlyRecord{
			Key:           weather.RecordKey(loc.ID, epoch),
			LocationID:    loc.ID,
			Resort:        loc.Name,
			DateTimeEpoch: epoch,
			DateTime:      stamp,
			DayOfWeek:     int(utc.Weekday()),
			Date:          utc.Day(),
			Month:         int(utc.Month()),
			Year:          utc.Year(),
			Hour:          utc.Hour(),
			Min:           utc.Minute(),
			PrecipProb:    at(h.PrecipProbability, i),
			PrecipType:    precipType,
			Precip:        convert(at(h.Precipitation, i), mmToIn),
			Snow:          convert(snowCm, cmToIn),
			Windspeed:     at(h.Windspeed, i),
			CloudCover:    at(h.CloudCover, i),
			Visibility:    convert(at(h.Visibility, i), metersToMiles),
			Conditions:    code.Conditions,
			Icon:          code.Icon,
			Temp:          convert(at(h.Temperature, i), celsiusToF),
			FeelsLike:     convert(at(h.ApparentTemperature, i), celsiusToF),
		})
	}
	return records, nil
}

// zoneParam asks Open-Meteo to return timestamps in the location's zone.
func zoneParam(zone string) string {
	if zone == "" {
		return "GMT"
	}
	return zone
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

func intAt(values []*int, i int) *int {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
