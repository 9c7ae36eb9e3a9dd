package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/timezone"
)

const (
	ContextForecast = "forecast"
	ContextBackfill = "backfill"

	dateLayout    = "2006-01-02"
	fetchParallel = 4
	millisPerDay  = int64(24 * time.Hour / time.Millisecond)
)

// Store persists hourly records keyed by HourlyRecord.Key.
type Store interface {
	UpsertHourly(ctx context.Context, records []HourlyRecord) error
	QueryHourly(ctx context.Context, q HourlyQuery) ([]HourlyRecord, error)
	DeleteHourlyBefore(ctx context.Context, cutoffEpochMs int64) (int64, error)
	// DeleteHourlyNotIn removes records whose location id is not in keep.
	DeleteHourlyNotIn(ctx context.Context, keep []string) (int64, error)
}

// FetchRequest selects what a provider returns. An empty date range means
// the provider's forecast window.
type FetchRequest struct {
	StartDate string
	EndDate   string
	Context   string
}

// Provider fetches hourly weather from an upstream source.
type Provider interface {
	Name() string
	FetchHourly(ctx context.Context, loc locations.Location, req FetchRequest) ([]HourlyRecord, error)
}

// LocationSource is the part of the location directory the weather service reads.
type LocationSource interface {
	Get(ctx context.Context, id string) (*locations.Location, error)
	Cached() []locations.Location
	CachedIDs() []string
	Refresh(ctx context.Context) ([]locations.Location, error)
	Nearest(lat, lon, maxKm float64) (locations.Location, float64, error)
}

// Query is a read request for one location. Days are the raw query string
// values; StartEpoch and EndEpoch optionally narrow the computed window.
type Query struct {
	LocationID  string
	DaysBack    string
	DaysForward string
	Sort        string
	StartEpoch  *int64
	EndEpoch    *int64
}

// CoordsQuery is a Query that resolves its location from coordinates.
type CoordsQuery struct {
	Query
	Lat   float64
	Lon   float64
	MaxKm float64
}

// Service answers weather queries and runs ingestion.
type Service struct {
	store     Store
	provider  Provider
	locations LocationSource
	settings  appconfig.Provider
	tz        *timezone.Resolver
	agg       *Aggregator
	now       func() time.Time
}

// NewService creates a new Service.
func NewService(store Store, provider Provider, locs LocationSource, settings appconfig.Provider, tz *timezone.Resolver) *Service {
	return &Service{
		store:     store,
		provider:  provider,
		locations: locs,
		settings:  settings,
		tz:        tz,
		agg:       NewAggregator(tz),
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type dayLimits struct {
	maxBack    string
	maxForward string
}

var (
	hourlyLimits  = dayLimits{maxBack: appconfig.KeyWeatherMaxDaysBack, maxForward: appconfig.KeyWeatherMaxDaysForward}
	segmentLimits = dayLimits{maxBack: appconfig.KeySegmentMaxDaysBack, maxForward: appconfig.KeySegmentMaxDaysForward}
)

// Hourly returns stored hourly records for the query window.
func (s *Service) Hourly(ctx context.Context, q Query) (HourlyResponse, error) {
	loc, records, err := s.load(ctx, q, hourlyLimits)
	if err != nil {
		return HourlyResponse{}, err
	}
	return HourlyResponse{Count: len(records), Location: detail(loc), Data: records}, nil
}

func (s *Service) HourlyByCoords(ctx context.Context, q CoordsQuery) (HourlyResponse, error) {
	loc, dist, err := s.nearest(q)
	if err != nil {
		return HourlyResponse{}, err
	}
	q.LocationID = loc.ID
	resp, err := s.Hourly(ctx, q.Query)
	if err != nil {
		return HourlyResponse{}, err
	}
	resp.Location.DistanceKm = &dist
	return resp, nil
}

// DailyOverview aggregates the query window into local calendar days.
func (s *Service) DailyOverview(ctx context.Context, q Query) (OverviewResponse, error) {
	loc, records, err := s.load(ctx, q, segmentLimits)
	if err != nil {
		return OverviewResponse{}, err
	}
	return OverviewResponse{Location: detail(loc), Days: s.agg.DailyOverview(records, loc.TimeZone)}, nil
}

func (s *Service) DailyOverviewByCoords(ctx context.Context, q CoordsQuery) (OverviewResponse, error) {
	loc, dist, err := s.nearest(q)
	if err != nil {
		return OverviewResponse{}, err
	}
	q.LocationID = loc.ID
	resp, err := s.DailyOverview(ctx, q.Query)
	if err != nil {
		return OverviewResponse{}, err
	}
	resp.Location.DistanceKm = &dist
	return resp, nil
}

// DailySegments aggregates the query window into four day parts per day.
func (s *Service) DailySegments(ctx context.Context, q Query) (SegmentsResponse, error) {
	loc, records, err := s.load(ctx, q, segmentLimits)
	if err != nil {
		return SegmentsResponse{}, err
	}
	return SegmentsResponse{Location: detail(loc), Days: s.agg.DailySegments(records, loc.TimeZone)}, nil
}

func (s *Service) DailySegmentsByCoords(ctx context.Context, q CoordsQuery) (SegmentsResponse, error) {
	loc, dist, err := s.nearest(q)
	if err != nil {
		return SegmentsResponse{}, err
	}
	q.LocationID = loc.ID
	resp, err := s.DailySegments(ctx, q.Query)
	if err != nil {
		return SegmentsResponse{}, err
	}
	resp.Location.DistanceKm = &dist
	return resp, nil
}

func (s *Service) nearest(q CoordsQuery) (locations.Location, float64, error) {
	maxKm := q.MaxKm
	if maxKm <= 0 {
		maxKm = float64(s.settings.Int(appconfig.KeyLocationFetchRadiusMi)) * locations.KmPerMile
	}
	loc, dist, err := s.locations.Nearest(q.Lat, q.Lon, maxKm)
	if errors.Is(err, locations.ErrNoneNear) {
		return locations.Location{}, 0, apperr.NotFound("No nearby location found for supplied lat/lon")
	}
	return loc, dist, err
}

func (s *Service) load(ctx context.Context, q Query, limits dayLimits) (*locations.Location, []HourlyRecord, error) {
	if q.LocationID == "" {
		return nil, nil, apperr.Validation("locationId query param is required")
	}
	loc, err := s.locations.Get(ctx, q.LocationID)
	if err != nil {
		return nil, nil, err
	}

	from, to := s.Window(loc.TimeZone,
		ClampDays(q.DaysBack, s.settings.Int(appconfig.KeyWeatherDefaultDaysBack), s.settings.Int(limits.maxBack)),
		ClampDays(q.DaysForward, s.settings.Int(appconfig.KeyWeatherDefaultDaysFwd), s.settings.Int(limits.maxForward)),
	)
	if q.StartEpoch != nil && *q.StartEpoch > from {
		from = *q.StartEpoch
	}
	if q.EndEpoch != nil && *q.EndEpoch < to {
		to = *q.EndEpoch
	}

	records, err := s.store.QueryHourly(ctx, HourlyQuery{
		LocationID: loc.ID,
		FromEpoch:  from,
		ToEpoch:    to,
		Descending: q.Sort == "desc",
	})
	if err != nil {
		return nil, nil, apperr.Internal("failed to query hourly weather", err)
	}
	if records == nil {
		records = []HourlyRecord{}
	}
	return loc, records, nil
}

// Window returns the inclusive epoch range covering local midnight of
// today−back through the last millisecond of today+forward in zone.
func (s *Service) Window(zone string, back, forward int) (int64, int64) {
	today := s.tz.FromUTC(s.now().UnixMilli(), zone)
	start := timezone.ShiftDate(today, -back)
	end := timezone.ShiftDate(today, forward+1)
	return s.tz.DayStart(start.Year, start.Month, start.Day, zone),
		s.tz.DayStart(end.Year, end.Month, end.Day, zone) - 1
}

func detail(l *locations.Location) LocationDetail {
	return LocationDetail{
		ID:          l.ID,
		Name:        l.Name,
		Country:     l.Country,
		Region:      l.Region,
		Lat:         l.Lat,
		Lon:         l.Lon,
		TimeZone:    l.TimeZone,
		IsSkiResort: l.IsSkiResort,
	}
}

// FetchLocation pulls one location from the provider and upserts the result.
func (s *Service) FetchLocation(ctx context.Context, loc locations.Location, req FetchRequest) (int, error) {
	records, err := s.provider.FetchHourly(ctx, loc, req)
	if err != nil {
		return 0, apperr.Upstream(fmt.Sprintf("%s fetch failed for %s", s.provider.Name(), loc.Name), err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.store.UpsertHourly(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to store hourly weather for %s: %w", loc.Name, err)
	}
	return len(records), nil
}

// FetchAll fetches every cached location with bounded concurrency. A failing
// location is logged and skipped.
func (s *Service) FetchAll(ctx context.Context, req FetchRequest) int {
	if req.Context == "" {
		req.Context = ContextForecast
	}
	locs := s.locations.Cached()
	if len(locs) == 0 {
		var err error
		if locs, err = s.locations.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("failed to refresh locations before fetch")
			return 0
		}
	}

	var g errgroup.Group
	g.SetLimit(fetchParallel)
	stored := make([]int, len(locs))
	for i, loc := range locs {
		g.Go(func() error {
			n, err := s.FetchLocation(ctx, loc, req)
			if err != nil {
				log.Warn().Str("event", "weather_fetch_error").
					Str("locationId", loc.ID).Str("name", loc.Name).
					Str("context", req.Context).Err(err).Msg("weather fetch failed")
				return nil
			}
			stored[i] = n
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range stored {
		total += n
	}
	log.Info().Str("event", "weather_fetch_all").Str("context", req.Context).
		Int("locations", len(locs)).Int("records", total).Msg("weather fetch complete")
	return total
}

// Backfill fetches the last daysBack days from the archive, then optionally
// the forecast window.
func (s *Service) Backfill(ctx context.Context, daysBack int, includeFuture bool) int {
	now := s.now().UTC()
	total := s.FetchAll(ctx, FetchRequest{
		StartDate: now.AddDate(0, 0, -daysBack).Format(dateLayout),
		EndDate:   now.Format(dateLayout),
		Context:   ContextBackfill,
	})
	if includeFuture {
		total += s.FetchAll(ctx, FetchRequest{Context: ContextForecast})
	}
	return total
}

// RemoveOld deletes records older than DB_DAYS_TO_KEEP days.
func (s *Service) RemoveOld(ctx context.Context) (int64, error) {
	days := int64(s.settings.Int(appconfig.KeyDaysToKeep))
	cutoff := s.now().UnixMilli() - days*millisPerDay
	n, err := s.store.DeleteHourlyBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to remove old hourly weather: %w", err)
	}
	log.Info().Str("event", "hourly_weather_pruned").Int64("deleted", n).Msg("removed old hourly weather")
	return n, nil
}

// RemoveOrphans deletes records tied to locations that no longer exist. It
// does nothing when no locations are known, so an empty cache cannot wipe
// the table.
func (s *Service) RemoveOrphans(ctx context.Context) (int64, error) {
	ids := s.locations.CachedIDs()
	if len(ids) == 0 {
		if _, err := s.locations.Refresh(ctx); err != nil {
			return 0, err
		}
		ids = s.locations.CachedIDs()
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.store.DeleteHourlyNotIn(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to remove orphan hourly weather: %w", err)
	}
	log.Info().Str("event", "hourly_weather_orphans_removed").Int64("deleted", n).Msg("removed orphan hourly weather")
	return n, nil
}
