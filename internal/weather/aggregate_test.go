package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-api/internal/timezone"
)

const denver = "America/Denver"

func f(v float64) *float64 { return &v }

// denverHour builds a record at a local July hour in Denver (UTC-6).
func denverHour(day, hour int) HourlyRecord {
	ts := time.Date(2024, 7, day, hour+6, 0, 0, 0, time.UTC)
	return HourlyRecord{LocationID: "loc-1", DateTimeEpoch: ts.UnixMilli()}
}

func TestDailyOverviewGroupsByLocalDay(t *testing.T) {
	agg := NewAggregator(timezone.NewResolver())

	late := denverHour(1, 23) // 2024-07-02T05:00Z
	late.Temp = f(60)
	noon := denverHour(1, 12)
	noon.Temp = f(80)
	next := denverHour(2, 9)
	next.Temp = f(70)

	days := agg.DailyOverview([]HourlyRecord{next, late, noon}, denver)
	require.Len(t, days, 2)

	assert.Equal(t, "2024-07-01", days[0].Date)
	assert.Equal(t, "Monday", days[0].Weekday)
	assert.Equal(t, time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC).UnixMilli(), days[0].DayStartEpoch)
	assert.Equal(t, 2, days[0].Hours)
	assert.Equal(t, 60.0, *days[0].MinTemp)
	assert.Equal(t, 80.0, *days[0].MaxTemp)

	assert.Equal(t, "2024-07-02", days[1].Date)
	assert.Equal(t, 1, days[1].Hours)
}

func TestDailyOverviewDistinguishesMissingFromZero(t *testing.T) {
	agg := NewAggregator(timezone.NewResolver())

	a := denverHour(1, 8)
	b := denverHour(1, 9)
	b.Precip = f(0)
	b.Windspeed = f(10)
	c := denverHour(1, 10)
	c.Windspeed = f(20)

	days := agg.DailyOverview([]HourlyRecord{a, b, c}, denver)
	require.Len(t, days, 1)
	d := days[0]

	require.NotNil(t, d.PrecipTotal)
	assert.Equal(t, 0.0, *d.PrecipTotal)
	assert.Nil(t, d.SnowTotal)
	assert.Nil(t, d.MinTemp)
	assert.Nil(t, d.AvgCloudCover)
	require.NotNil(t, d.AvgWindspeed)
	assert.InDelta(t, 15.0, *d.AvgWindspeed, 1e-9)
}

func TestRepresentativeHourPrefersClosestAndFirstOnTie(t *testing.T) {
	agg := NewAggregator(timezone.NewResolver())

	h13 := denverHour(1, 13)
	h13.Conditions = "Cloudy"
	h11 := denverHour(1, 11)
	h11.Conditions = "Clear"
	h10 := denverHour(1, 10)

	days := agg.DailyOverview([]HourlyRecord{h10, h13, h11}, denver)
	require.Len(t, days, 1)
	rep := days[0].RepresentativeHour
	require.NotNil(t, rep)
	assert.Equal(t, 13, rep.LocalHour)
	require.NotNil(t, rep.Conditions)
	assert.Equal(t, "Cloudy", *rep.Conditions)
	assert.Nil(t, rep.Icon)

	h12 := denverHour(1, 12)
	days = agg.DailyOverview([]HourlyRecord{h10, h13, h11, h12}, denver)
	assert.Equal(t, 12, days[0].RepresentativeHour.LocalHour)
}

func TestDailySegmentsEmitsEveryBand(t *testing.T) {
	agg := NewAggregator(timezone.NewResolver())

	night := denverHour(1, 5)
	night.Snow = f(1.5)
	afternoon := denverHour(1, 14)
	afternoon.Temp = f(75)
	afternoon2 := denverHour(1, 16)
	afternoon2.Temp = f(78)

	days := agg.DailySegments([]HourlyRecord{night, afternoon, afternoon2}, denver)
	require.Len(t, days, 1)
	segs := days[0].Segments
	require.Len(t, segs, 4)

	assert.Equal(t, "overnight", segs[0].ID)
	assert.Equal(t, 1, segs[0].Hours)
	assert.Equal(t, 1.5, *segs[0].SnowTotal)
	assert.Equal(t, 5, segs[0].RepresentativeHour.LocalHour)

	assert.Equal(t, "morning", segs[1].ID)
	assert.Equal(t, 0, segs[1].Hours)
	assert.Nil(t, segs[1].RepresentativeHour)
	assert.Nil(t, segs[1].MinTemp)

	assert.Equal(t, "afternoon", segs[2].ID)
	assert.Equal(t, 2, segs[2].Hours)
	assert.Equal(t, 75.0, *segs[2].MinTemp)
	assert.Equal(t, 78.0, *segs[2].MaxTemp)
	// 14 and 16 are equidistant from 15; the first seen wins.
	assert.Equal(t, 14, segs[2].RepresentativeHour.LocalHour)

	assert.Equal(t, "evening", segs[3].ID)
	assert.Equal(t, 18, segs[3].StartHour)
	assert.Equal(t, 24, segs[3].EndHour)
}

func TestAggregationWithEmptyZoneUsesUTC(t *testing.T) {
	agg := NewAggregator(timezone.NewResolver())
	rec := HourlyRecord{DateTimeEpoch: time.Date(2024, 7, 1, 23, 0, 0, 0, time.UTC).UnixMilli()}

	days := agg.DailyOverview([]HourlyRecord{rec}, "")
	require.Len(t, days, 1)
	assert.Equal(t, "2024-07-01", days[0].Date)
	assert.Equal(t, 23, days[0].RepresentativeHour.LocalHour)
}

func TestClampDays(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 3},
		{"abc", 3},
		{"-1", 3},
		{"0", 0},
		{"5", 5},
		{"100", 14},
		{" 7 ", 7},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClampDays(tc.raw, 3, 14), "raw=%q", tc.raw)
	}
}
