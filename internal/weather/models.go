package weather

import "strconv"

// HourlyRecord is one hour of normalized weather for a location. Temperatures
// are Fahrenheit, precipitation and snow are inches, visibility is miles and
// wind speed is km/h. Nil fields were not reported by the provider.
type HourlyRecord struct {
	Key           string   `json:"key"`
	LocationID    string   `json:"locationId"`
	Resort        string   `json:"resort"`
	DateTimeEpoch int64    `json:"dateTimeEpoch"`
	DateTime      string   `json:"dateTime"`
	DayOfWeek     int      `json:"dayOfWeek"`
	Date          int      `json:"date"`
	Month         int      `json:"month"`
	Year          int      `json:"year"`
	Hour          int      `json:"hour"`
	Min           int      `json:"min"`
	PrecipProb    *float64 `json:"precipProb"`
	PrecipType    []string `json:"precipType"`
	Precip        *float64 `json:"precip"`
	Snow          *float64 `json:"snow"`
	Windspeed     *float64 `json:"windspeed"`
	CloudCover    *float64 `json:"cloudCover"`
	Visibility    *float64 `json:"visibility"`
	Conditions    string   `json:"conditions"`
	Icon          string   `json:"icon"`
	Temp          *float64 `json:"temp"`
	FeelsLike     *float64 `json:"feelsLike"`
}

// RecordKey is the upsert identity of an hourly record.
func RecordKey(locationID string, epochMs int64) string {
	return locationID + "-" + strconv.FormatInt(epochMs, 10)
}

// HourlyQuery selects stored records for one location in [FromEpoch, ToEpoch].
type HourlyQuery struct {
	LocationID string
	FromEpoch  int64
	ToEpoch    int64
	Descending bool
}

// LocationDetail is the location block embedded in weather responses.
type LocationDetail struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Country     string   `json:"country"`
	Region      string   `json:"region"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	TimeZone    string   `json:"tz_iana"`
	IsSkiResort bool     `json:"isSkiResort"`
	DistanceKm  *float64 `json:"distanceKm,omitempty"`
}

// HourlyResponse is the payload of the hourly endpoints.
type HourlyResponse struct {
	Count    int            `json:"count"`
	Location LocationDetail `json:"location"`
	Data     []HourlyRecord `json:"data"`
}

// OverviewResponse is the payload of the daily overview endpoints.
type OverviewResponse struct {
	Location LocationDetail `json:"location"`
	Days     []DayOverview  `json:"days"`
}

// SegmentsResponse is the payload of the daily segments endpoints.
type SegmentsResponse struct {
	Location LocationDetail `json:"location"`
	Days     []DaySegments  `json:"days"`
}
