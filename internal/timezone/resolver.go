// Package timezone converts between UTC instants and civil date/time parts in
// IANA time zones without depending on the process's own zone.
package timezone

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// maxIterations caps the fixed-point search used by ToUTC.
const maxIterations = 3

var (
	explicitOffset = regexp.MustCompile(`(?i)(Z|[+-]\d{2}:?\d{2})$`)
	localPattern   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[T\s](\d{2}):(\d{2})(?::(\d{2}))?$`)

	absoluteLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04Z0700",
	}
)

// Parts is a civil date/time in some zone plus the UTC offset in effect.
type Parts struct {
	Year     int          `json:"year"`
	Month    int          `json:"month"`
	Day      int          `json:"day"`
	Hour     int          `json:"hour"`
	Minute   int          `json:"minute"`
	Second   int          `json:"second"`
	OffsetMs int64        `json:"offsetMs"`
	Weekday  time.Weekday `json:"weekdayIndex"`
}

// DayInfo describes the local calendar day an instant falls on.
type DayInfo struct {
	DateKey       string
	DayStartEpoch int64
	Weekday       string
	LocalHour     int
}

// Resolver caches zone lookups and local→UTC conversions. It is safe for
// concurrent use.
type Resolver struct {
	zones    *cache.Cache
	instants *cache.Cache
}

// NewResolver returns a Resolver with empty caches.
func NewResolver() *Resolver {
	return &Resolver{
		zones:    cache.New(cache.NoExpiration, 0),
		instants: cache.New(6*time.Hour, 30*time.Minute),
	}
}

// Location resolves an IANA zone name. The second result is false for
// empty or unknown names.
func (r *Resolver) Location(zone string) (*time.Location, bool) {
	if zone == "" {
		return nil, false
	}
	if v, ok := r.zones.Get(zone); ok {
		loc, _ := v.(*time.Location)
		return loc, loc != nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		r.zones.Set(zone, (*time.Location)(nil), cache.NoExpiration)
		return nil, false
	}
	r.zones.Set(zone, loc, cache.NoExpiration)
	return loc, true
}

// Valid reports whether zone names a loadable IANA zone.
func (r *Resolver) Valid(zone string) bool {
	_, ok := r.Location(zone)
	return ok
}

// FromUTC returns the civil parts of epochMs in zone. Unknown zones fall back to UTC.
func (r *Resolver) FromUTC(epochMs int64, zone string) Parts {
	loc, ok := r.Location(zone)
	if !ok {
		loc = time.UTC
	}
	t := time.UnixMilli(epochMs).In(loc)
	_, offsetSec := t.Zone()
	return Parts{
		Year:     t.Year(),
		Month:    int(t.Month()),
		Day:      t.Day(),
		Hour:     normalizeHour(t.Hour()),
		Minute:   t.Minute(),
		Second:   t.Second(),
		OffsetMs: int64(offsetSec) * 1000,
		Weekday:  t.Weekday(),
	}
}

// ToUTC converts civil parts in zone to a UTC epoch in milliseconds.
//
// The zone offset depends on the instant being searched for, so the candidate
// is refined until the offset at the candidate stops moving it. Near a DST gap
// the search may stop at the iteration cap on one side of the transition.
// When zone cannot be resolved the civil time is shifted by fallbackOffsetSeconds.
func (r *Resolver) ToUTC(p Parts, zone string, fallbackOffsetSeconds int) int64 {
	base := naiveEpoch(p)
	loc, ok := r.Location(zone)
	if !ok {
		return base - int64(fallbackOffsetSeconds)*1000
	}

	key := fmt.Sprintf("%s|%04d-%02d-%02dT%02d:%02d:%02d", zone, p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second)
	if v, found := r.instants.Get(key); found {
		return v.(int64)
	}

	epoch := base
	for i := 0; i < maxIterations; i++ {
		adjusted := base - offsetAt(epoch, loc)
		if adjusted == epoch {
			break
		}
		epoch = adjusted
	}

	r.instants.Set(key, epoch, cache.DefaultExpiration)
	return epoch
}

// ParseLocal parses a timestamp string. Strings ending in Z or a numeric offset
// are absolute; "YYYY-MM-DD[T ]HH:MM[:SS]" is interpreted as civil time in zone.
func (r *Resolver) ParseLocal(s, zone string, fallbackOffsetSeconds int) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if explicitOffset.MatchString(s) {
		for _, layout := range absoluteLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli(), nil
			}
		}
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	m := localPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	p := Parts{
		Year:   atoi(m[1]),
		Month:  atoi(m[2]),
		Day:    atoi(m[3]),
		Hour:   normalizeHour(atoi(m[4])),
		Minute: atoi(m[5]),
		Second: atoi(m[6]),
	}
	return r.ToUTC(p, zone, fallbackOffsetSeconds), nil
}

// DayStart returns the UTC epoch of local midnight for the given civil date.
func (r *Resolver) DayStart(year, month, day int, zone string) int64 {
	return r.ToUTC(Parts{Year: year, Month: month, Day: day}, zone, 0)
}

// DayInfo returns the local calendar day containing epochMs.
func (r *Resolver) DayInfo(epochMs int64, zone string) DayInfo {
	if zone == "" {
		zone = "UTC"
	}
	p := r.FromUTC(epochMs, zone)
	return DayInfo{
		DateKey:       fmt.Sprintf("%04d-%02d-%02d", p.Year, p.Month, p.Day),
		DayStartEpoch: r.DayStart(p.Year, p.Month, p.Day, zone),
		Weekday:       p.Weekday.String(),
		LocalHour:     p.Hour,
	}
}

// ShiftDate moves a civil date by deltaDays, returning a date-only Parts.
func ShiftDate(p Parts, deltaDays int) Parts {
	t := time.Date(p.Year, time.Month(p.Month), p.Day+deltaDays, 0, 0, 0, 0, time.UTC)
	return Parts{Year: t.Year(), Month: int(t.Month()), Day: t.Day(), Weekday: t.Weekday()}
}

func naiveEpoch(p Parts) int64 {
	month := p.Month
	if month == 0 {
		month = 1
	}
	day := p.Day
	if day == 0 {
		day = 1
	}
	return time.Date(p.Year, time.Month(month), day, p.Hour, p.Minute, p.Second, 0, time.UTC).UnixMilli()
}

func offsetAt(epochMs int64, loc *time.Location) int64 {
	_, offsetSec := time.UnixMilli(epochMs).In(loc).Zone()
	return int64(offsetSec) * 1000
}

// normalizeHour folds the "24:00" spelling of midnight onto hour 0 of the same date.
func normalizeHour(h int) int {
	if h == 24 {
		return 0
	}
	return h
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
