package locations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/geo"
	"github.com/i474232898/weather-api/internal/timezone"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// Store persists locations. Implementations return ErrNotFound for unknown
// ids and ErrDuplicate for name/country/region or coordinate collisions.
type Store interface {
	CreateLocation(ctx context.Context, loc *Location) error
	UpdateLocation(ctx context.Context, loc *Location) error
	DeleteLocation(ctx context.Context, id string) (*Location, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	SearchLocations(ctx context.Context, filter SearchFilter) ([]Location, error)
	// InsertLocationIfAbsent adds loc unless one already exists at the same coordinates.
	InsertLocationIfAbsent(ctx context.Context, loc *Location) (bool, error)
}

// Directory is the location service. Reads through Cached and Nearest use an
// in-memory snapshot that is replaced wholesale on Refresh.
type Directory struct {
	store    Store
	settings appconfig.Provider
	geocoder geo.Geocoder
	tz       *timezone.Resolver
	snapshot atomic.Pointer[[]Location]
}

func NewDirectory(store Store, settings appconfig.Provider, geocoder geo.Geocoder, tz *timezone.Resolver) *Directory {
	d := &Directory{store: store, settings: settings, geocoder: geocoder, tz: tz}
	empty := []Location{}
	d.snapshot.Store(&empty)
	return d
}

// Refresh reloads every location from the store into the read snapshot.
func (d *Directory) Refresh(ctx context.Context) ([]Location, error) {
	all, err := d.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	d.snapshot.Store(&all)
	log.Info().Str("event", "locations_cache_refreshed").Int("count", len(all)).Msg("locations cache refreshed")
	return all, nil
}

// Cached returns the current snapshot. Callers must not modify it.
func (d *Directory) Cached() []Location {
	return *d.snapshot.Load()
}

// CachedIDs lists the ids in the current snapshot.
func (d *Directory) CachedIDs() []string {
	cur := d.Cached()
	ids := make([]string, len(cur))
	for i, l := range cur {
		ids[i] = l.ID
	}
	return ids
}

func (d *Directory) Get(ctx context.Context, id string) (*Location, error) {
	loc, err := d.store.GetLocation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Location not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load location", err)
	}
	return loc, nil
}

// Search matches names case-insensitively. Limit defaults to 20 and is capped at 50.
func (d *Directory) Search(ctx context.Context, filter SearchFilter) ([]Location, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultSearchLimit
	}
	if filter.Limit > maxSearchLimit {
		filter.Limit = maxSearchLimit
	}
	found, err := d.store.SearchLocations(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("failed to search locations", err)
	}
	return found, nil
}

// Nearest returns the closest cached location within maxKm of (lat, lon).
func (d *Directory) Nearest(lat, lon, maxKm float64) (Location, float64, error) {
	deltaLat := maxKm / 111
	deltaLon := deltaLat / math.Max(math.Cos(lat*math.Pi/180), 0.1)

	var (
		best     Location
		bestDist = math.Inf(1)
	)
	for _, l := range d.Cached() {
		if math.Abs(l.Lat-lat) > deltaLat || math.Abs(l.Lon-lon) > deltaLon {
			continue
		}
		if dist := HaversineKm(lat, lon, l.Lat, l.Lon); dist < bestDist {
			best, bestDist = l, dist
		}
	}
	if math.IsInf(bestDist, 1) || bestDist > maxKm {
		return Location{}, 0, ErrNoneNear
	}
	return best, bestDist, nil
}

// DefaultSearchRadiusKm is LOCATION_FETCH_RADIUS_MI in kilometres.
func (d *Directory) DefaultSearchRadiusKm() float64 {
	return float64(d.settings.Int(appconfig.KeyLocationFetchRadiusMi)) * KmPerMile
}

// Lookup reverse-geocodes a point. Failures yield an unknown country.
func (d *Directory) Lookup(ctx context.Context, lat, lon float64) geo.Place {
	return geo.LookupOrUnknown(ctx, d.geocoder, lat, lon)
}

func (d *Directory) Create(ctx context.Context, in Input) (*Location, error) {
	loc, err := d.fromInput(in)
	if err != nil {
		return nil, err
	}
	if err := d.guardProximity(ctx, loc); err != nil {
		return nil, err
	}

	loc.ID = uuid.NewString()
	if err := d.store.CreateLocation(ctx, loc); err != nil {
		return nil, d.storeError("failed to create location", err)
	}
	d.refreshAfterWrite(ctx)

	log.Info().Str("event", "location_created").Str("locationId", loc.ID).Str("name", loc.Name).Msg("location created")
	return loc, nil
}

func (d *Directory) Update(ctx context.Context, id string, in Input) (*Location, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("Location id is required")
	}
	loc, err := d.fromInput(in)
	if err != nil {
		return nil, err
	}
	loc.ID = id
	if err := d.guardProximity(ctx, loc); err != nil {
		return nil, err
	}

	if err := d.store.UpdateLocation(ctx, loc); err != nil {
		return nil, d.storeError("failed to update location", err)
	}
	d.refreshAfterWrite(ctx)

	log.Info().Str("event", "location_updated").Str("locationId", loc.ID).Str("name", loc.Name).Msg("location updated")
	return loc, nil
}

func (d *Directory) Delete(ctx context.Context, id string) (*Location, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("Location id is required")
	}
	deleted, err := d.store.DeleteLocation(ctx, id)
	if err != nil {
		return nil, d.storeError("failed to delete location", err)
	}
	d.refreshAfterWrite(ctx)

	log.Info().Str("event", "location_deleted").Str("locationId", deleted.ID).Str("name", deleted.Name).Msg("location deleted")
	return deleted, nil
}

// Seed inserts locations that are not yet present, matching on coordinates.
// The proximity guard does not apply.
func (d *Directory) Seed(ctx context.Context, seeds []Location) (int, error) {
	inserted := 0
	for i := range seeds {
		loc := seeds[i]
		if loc.ID == "" {
			loc.ID = uuid.NewString()
		}
		ok, err := d.store.InsertLocationIfAbsent(ctx, &loc)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed %s: %w", loc.Name, err)
		}
		if ok {
			inserted++
		}
	}
	if _, err := d.Refresh(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (d *Directory) fromInput(in Input) (*Location, error) {
	name := strings.TrimSpace(in.Name)
	country := strings.TrimSpace(in.Country)
	zone := strings.TrimSpace(in.TimeZone)
	if name == "" || country == "" || in.Lat == nil || in.Lon == nil || zone == "" {
		return nil, apperr.Validation("name, country, lat, lon, and tz_iana are required")
	}
	if *in.Lat < -90 || *in.Lat > 90 || *in.Lon < -180 || *in.Lon > 180 {
		return nil, apperr.Validation("lat must be within [-90, 90] and lon within [-180, 180]")
	}
	if !d.tz.Valid(zone) {
		return nil, apperr.Validation(fmt.Sprintf("tz_iana %q is not a valid IANA time zone", zone))
	}
	return &Location{
		Name:        name,
		Country:     country,
		Region:      strings.TrimSpace(in.Region),
		Lat:         *in.Lat,
		Lon:         *in.Lon,
		TimeZone:    zone,
		IsSkiResort: in.IsSkiResort != nil && *in.IsSkiResort,
	}, nil
}

// guardProximity rejects a location closer than LOCATION_STORE_RADIUS_MI to
// any other stored location. A radius of zero or less disables the check.
func (d *Directory) guardProximity(ctx context.Context, loc *Location) error {
	radiusMi := d.settings.Int(appconfig.KeyLocationStoreRadiusMi)
	if radiusMi <= 0 {
		return nil
	}
	radiusKm := float64(radiusMi) * KmPerMile

	all, err := d.store.ListLocations(ctx)
	if err != nil {
		return apperr.Internal("failed to list locations", err)
	}

	type hit struct {
		loc  Location
		dist float64
	}
	var hits []hit
	for _, other := range all {
		if other.ID == loc.ID {
			continue
		}
		if dist := HaversineKm(loc.Lat, loc.Lon, other.Lat, other.Lon); dist < radiusKm {
			hits = append(hits, hit{other, dist})
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	closest := hits[0]
	return apperr.Conflict(fmt.Sprintf(
		"Location is within %d mi of existing location %q (%.2f mi away)",
		radiusMi, closest.loc.DisplayName(), closest.dist/KmPerMile,
	))
}

func (d *Directory) storeError(msg string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("Location not found")
	case errors.Is(err, ErrDuplicate):
		return apperr.Conflict("Location already exists (name/country/region or lat/lon conflict)")
	default:
		return apperr.Internal(msg, err)
	}
}

func (d *Directory) refreshAfterWrite(ctx context.Context) {
	if _, err := d.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("failed to refresh locations cache")
	}
}
