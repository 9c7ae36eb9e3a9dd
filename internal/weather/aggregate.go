package weather

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/i474232898/weather-api/internal/timezone"
)

// RepresentativeHour is the hour chosen to stand for a day or day part.
type RepresentativeHour struct {
	DateTimeEpoch int64    `json:"dateTimeEpoch"`
	Conditions    *string  `json:"conditions"`
	Icon          *string  `json:"icon"`
	Temp          *float64 `json:"temp"`
	FeelsLike     *float64 `json:"feelsLike"`
	LocalHour     int      `json:"localHour"`
}

// Summary holds the statistics shared by day overviews and segments. Every
// pointer is nil when no record in the group carried that field.
type Summary struct {
	Hours              int                 `json:"hours"`
	MinTemp            *float64            `json:"minTemp"`
	MaxTemp            *float64            `json:"maxTemp"`
	PrecipTotal        *float64            `json:"precipTotal"`
	SnowTotal          *float64            `json:"snowTotal"`
	AvgWindspeed       *float64            `json:"avgWindspeed"`
	AvgPrecipProb      *float64            `json:"avgPrecipProb"`
	AvgCloudCover      *float64            `json:"avgCloudCover"`
	AvgVisibility      *float64            `json:"avgVisibility"`
	RepresentativeHour *RepresentativeHour `json:"representativeHour"`
}

// DayOverview summarizes one local calendar day.
type DayOverview struct {
	Date          string `json:"date"`
	Weekday       string `json:"weekday"`
	DayStartEpoch int64  `json:"dayStartEpoch"`
	Summary
}

// Segment summarizes one day part.
type Segment struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	StartHour int    `json:"startHour"`
	EndHour   int    `json:"endHour"`
	Summary
}

// DaySegments is one local day split into the fixed day parts.
type DaySegments struct {
	Date          string    `json:"date"`
	Weekday       string    `json:"weekday"`
	DayStartEpoch int64     `json:"dayStartEpoch"`
	Segments      []Segment `json:"segments"`
}

// SegmentDef is a half-open local hour band [StartHour, EndHour).
type SegmentDef struct {
	ID        string
	Label     string
	StartHour int
	EndHour   int
}

// Segments are the day parts in output order.
var Segments = []SegmentDef{
	{ID: "overnight", Label: "Overnight", StartHour: 0, EndHour: 6},
	{ID: "morning", Label: "Morning", StartHour: 6, EndHour: 12},
	{ID: "afternoon", Label: "Afternoon", StartHour: 12, EndHour: 18},
	{ID: "evening", Label: "Evening", StartHour: 18, EndHour: 24},
}

const overviewTargetHour = 12

// ClampDays parses a user supplied day count. Empty, non-numeric or negative
// input yields fallback; anything else is capped at max.
func ClampDays(raw string, fallback, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

// Aggregator groups hourly records into local calendar days.
type Aggregator struct {
	tz *timezone.Resolver
}

func NewAggregator(tz *timezone.Resolver) *Aggregator {
	return &Aggregator{tz: tz}
}

// DailyOverview buckets records by local day in zone. Input order does not
// matter; days are returned by ascending day start.
func (a *Aggregator) DailyOverview(records []HourlyRecord, zone string) []DayOverview {
	type bucket struct {
		info timezone.DayInfo
		acc  accumulator
	}
	buckets := make(map[string]*bucket)

	for i := range records {
		rec := &records[i]
		info := a.tz.DayInfo(rec.DateTimeEpoch, zone)
		b, ok := buckets[info.DateKey]
		if !ok {
			b = &bucket{info: info}
			buckets[info.DateKey] = b
		}
		b.acc.add(rec, info.LocalHour, overviewTargetHour)
	}

	days := make([]DayOverview, 0, len(buckets))
	for _, b := range buckets {
		days = append(days, DayOverview{
			Date:          b.info.DateKey,
			Weekday:       b.info.Weekday,
			DayStartEpoch: b.info.DayStartEpoch,
			Summary:       b.acc.summary(),
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].DayStartEpoch < days[j].DayStartEpoch })
	return days
}

// DailySegments buckets records by local day and day part. Every day that has
// at least one record reports all four segments.
func (a *Aggregator) DailySegments(records []HourlyRecord, zone string) []DaySegments {
	type bucket struct {
		info timezone.DayInfo
		accs [4]accumulator
	}
	buckets := make(map[string]*bucket)

	for i := range records {
		rec := &records[i]
		info := a.tz.DayInfo(rec.DateTimeEpoch, zone)
		idx := segmentIndex(info.LocalHour)
		if idx < 0 {
			continue
		}
		b, ok := buckets[info.DateKey]
		if !ok {
			b = &bucket{info: info}
			buckets[info.DateKey] = b
		}
		def := Segments[idx]
		b.accs[idx].add(rec, info.LocalHour, float64(def.StartHour+def.EndHour)/2)
	}

	days := make([]DaySegments, 0, len(buckets))
	for _, b := range buckets {
		segs := make([]Segment, len(Segments))
		for i, def := range Segments {
			segs[i] = Segment{
				ID:        def.ID,
				Label:     def.Label,
				StartHour: def.StartHour,
				EndHour:   def.EndHour,
				Summary:   b.accs[i].summary(),
			}
		}
		days = append(days, DaySegments{
			Date:          b.info.DateKey,
			Weekday:       b.info.Weekday,
			DayStartEpoch: b.info.DayStartEpoch,
			Segments:      segs,
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].DayStartEpoch < days[j].DayStartEpoch })
	return days
}

func segmentIndex(hour int) int {
	for i, def := range Segments {
		if hour >= def.StartHour && hour < def.EndHour {
			return i
		}
	}
	return -1
}

type runningSum struct {
	total float64
	n     int
}

func (s *runningSum) add(v *float64) {
	if v == nil {
		return
	}
	s.total += *v
	s.n++
}

func (s runningSum) sum() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.total
	return &v
}

func (s runningSum) mean() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.total / float64(s.n)
	return &v
}

type accumulator struct {
	hours      int
	minTemp    *float64
	maxTemp    *float64
	precip     runningSum
	snow       runningSum
	wind       runningSum
	precipProb runningSum
	cloud      runningSum
	visibility runningSum
	rep        *RepresentativeHour
	repScore   float64
}

func (a *accumulator) add(rec *HourlyRecord, localHour int, target float64) {
	a.hours++

	if rec.Temp != nil {
		t := *rec.Temp
		if a.minTemp == nil || t < *a.minTemp {
			a.minTemp = &t
		}
		if a.maxTemp == nil || t > *a.maxTemp {
			v := t
			a.maxTemp = &v
		}
	}
	a.precip.add(rec.Precip)
	a.snow.add(rec.Snow)
	a.wind.add(rec.Windspeed)
	a.precipProb.add(rec.PrecipProb)
	a.cloud.add(rec.CloudCover)
	a.visibility.add(rec.Visibility)

	// Ties keep the first record seen.
	score := math.Abs(float64(localHour) - target)
	if a.rep == nil || score < a.repScore {
		a.rep = &RepresentativeHour{
			DateTimeEpoch: rec.DateTimeEpoch,
			Conditions:    nonEmpty(rec.Conditions),
			Icon:          nonEmpty(rec.Icon),
			Temp:          rec.Temp,
			FeelsLike:     rec.FeelsLike,
			LocalHour:     localHour,
		}
		a.repScore = score
	}
}

func (a *accumulator) summary() Summary {
	return Summary{
		Hours:              a.hours,
		MinTemp:            a.minTemp,
		MaxTemp:            a.maxTemp,
		PrecipTotal:        a.precip.sum(),
		SnowTotal:          a.snow.sum(),
		AvgWindspeed:       a.wind.mean(),
		AvgPrecipProb:      a.precipProb.mean(),
		AvgCloudCover:      a.cloud.mean(),
		AvgVisibility:      a.visibility.mean(),
		RepresentativeHour: a.rep,
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
