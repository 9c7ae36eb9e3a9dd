package postgres

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/weather"
)

type hourlyRow struct {
	Key           string `gorm:"primaryKey;type:varchar(128)"`
	LocationID    string `gorm:"index:idx_hourly_location_time,priority:1;type:varchar(64);not null"`
	Resort        string
	DateTimeEpoch int64 `gorm:"index:idx_hourly_location_time,priority:2;index;not null"`
	DateTime      string
	DayOfWeek     int
	Date          int
	Month         int
	Year          int
	Hour          int
	Min           int
	PrecipProb    *float64
	PrecipType    datatypes.JSON `gorm:"type:jsonb"`
	Precip        *float64
	Snow          *float64
	Windspeed     *float64
	CloudCover    *float64
	Visibility    *float64
	Conditions    string
	Icon          string
	Temp          *float64
	FeelsLike     *float64
}

func (hourlyRow) TableName() string { return "hourly_weather" }

func toHourlyRow(r weather.HourlyRecord) hourlyRow {
	precipType, _ := json.Marshal(r.PrecipType)
	return hourlyRow{
		Key:           r.Key,
		LocationID:    r.LocationID,
		Resort:        r.Resort,
		DateTimeEpoch: r.DateTimeEpoch,
		DateTime:      r.DateTime,
		DayOfWeek:     r.DayOfWeek,
		Date:          r.Date,
		Month:         r.Month,
		Year:          r.Year,
		Hour:          r.Hour,
		Min:           r.Min,
		PrecipProb:    r.PrecipProb,
		PrecipType:    datatypes.JSON(precipType),
		Precip:        r.Precip,
		Snow:          r.Snow,
		Windspeed:     r.Windspeed,
		CloudCover:    r.CloudCover,
		Visibility:    r.Visibility,
		Conditions:    r.Conditions,
		Icon:          r.Icon,
		Temp:          r.Temp,
		FeelsLike:     r.FeelsLike,
	}
}

func (r hourlyRow) record() weather.HourlyRecord {
	var precipType []string
	if len(r.PrecipType) > 0 {
		_ = json.Unmarshal(r.PrecipType, &precipType)
	}
	return weather.HourlyRecord{
		Key:           r.Key,
		LocationID:    r.LocationID,
		Resort:        r.Resort,
		DateTimeEpoch: r.DateTimeEpoch,
		DateTime:      r.DateTime,
		DayOfWeek:     r.DayOfWeek,
		Date:          r.Date,
		Month:         r.Month,
		Year:          r.Year,
		Hour:          r.Hour,
		Min:           r.Min,
		PrecipProb:    r.PrecipProb,
		PrecipType:    precipType,
		Precip:        r.Precip,
		Snow:          r.Snow,
		Windspeed:     r.Windspeed,
		CloudCover:    r.CloudCover,
		Visibility:    r.Visibility,
		Conditions:    r.Conditions,
		Icon:          r.Icon,
		Temp:          r.Temp,
		FeelsLike:     r.FeelsLike,
	}
}

type locationRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	Name        string `gorm:"not null"`
	Country     string `gorm:"not null"`
	Region      string `gorm:"not null;default:''"`
	Lat         float64
	Lon         float64
	TimeZone    string `gorm:"column:tz_iana;not null"`
	IsSkiResort bool   `gorm:"index;not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (locationRow) TableName() string { return "locations" }

func toLocationRow(l *locations.Location) locationRow {
	return locationRow{
		ID:          l.ID,
		Name:        l.Name,
		Country:     l.Country,
		Region:      l.Region,
		Lat:         l.Lat,
		Lon:         l.Lon,
		TimeZone:    l.TimeZone,
		IsSkiResort: l.IsSkiResort,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func (r locationRow) location() locations.Location {
	return locations.Location{
		ID:          r.ID,
		Name:        r.Name,
		Country:     r.Country,
		Region:      r.Region,
		Lat:         r.Lat,
		Lon:         r.Lon,
		TimeZone:    r.TimeZone,
		IsSkiResort: r.IsSkiResort,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type configRow struct {
	Key         string         `gorm:"primaryKey;type:varchar(128)"`
	Value       datatypes.JSON `gorm:"type:jsonb"`
	Description string
	UpdatedAt   time.Time
}

func (configRow) TableName() string { return "app_config" }

func toConfigRow(e appconfig.Entry) (configRow, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return configRow{}, err
	}
	return configRow{Key: e.Key, Value: datatypes.JSON(value), Description: e.Description, UpdatedAt: e.UpdatedAt}, nil
}

func (r configRow) entry() appconfig.Entry {
	var value any
	if len(r.Value) > 0 {
		_ = json.Unmarshal(r.Value, &value)
	}
	return appconfig.Entry{Key: r.Key, Value: value, Description: r.Description, UpdatedAt: r.UpdatedAt}
}

type clientRow struct {
	ID                string `gorm:"primaryKey;type:varchar(64)"`
	Name              string `gorm:"not null"`
	ContactEmail      string
	KeyHash           string `gorm:"uniqueIndex;type:varchar(128);not null"`
	Status            string `gorm:"index;type:varchar(16);not null"`
	Plan              string `gorm:"type:varchar(64)"`
	RateLimitPerMin   *int
	DailyQuota        *int
	TotalUsage        int64 `gorm:"not null;default:0"`
	LastUsedAt        *time.Time
	LastAccessAlertAt *time.Time
	LatestPlainAPIKey string         `gorm:"column:latest_plain_api_key"`
	Metadata          datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time      `gorm:"index"`
	UpdatedAt         time.Time
}

func (clientRow) TableName() string { return "api_clients" }

func toClientRow(c *admission.Client) clientRow {
	var metadata datatypes.JSON
	if c.Metadata != nil {
		raw, _ := json.Marshal(c.Metadata)
		metadata = datatypes.JSON(raw)
	}
	return clientRow{
		ID:                c.ID,
		Name:              c.Name,
		ContactEmail:      c.ContactEmail,
		KeyHash:           c.KeyHash,
		Status:            string(c.Status),
		Plan:              c.Plan,
		RateLimitPerMin:   c.RateLimitPerMin,
		DailyQuota:        c.DailyQuota,
		TotalUsage:        c.TotalUsage,
		LastUsedAt:        c.LastUsedAt,
		LastAccessAlertAt: c.LastAccessAlertAt,
		LatestPlainAPIKey: c.LatestPlainAPIKey,
		Metadata:          metadata,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (r clientRow) client() admission.Client {
	var metadata map[string]any
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &metadata)
	}
	return admission.Client{
		ID:                r.ID,
		Name:              r.Name,
		ContactEmail:      r.ContactEmail,
		KeyHash:           r.KeyHash,
		Status:            admission.Status(r.Status),
		Plan:              r.Plan,
		RateLimitPerMin:   r.RateLimitPerMin,
		DailyQuota:        r.DailyQuota,
		TotalUsage:        r.TotalUsage,
		LastUsedAt:        r.LastUsedAt,
		LastAccessAlertAt: r.LastAccessAlertAt,
		LatestPlainAPIKey: r.LatestPlainAPIKey,
		Metadata:          metadata,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type usageWindowRow struct {
	ClientID    string `gorm:"primaryKey;type:varchar(64)"`
	WindowStart int64  `gorm:"primaryKey;autoIncrement:false"`
	Count       int64  `gorm:"not null;default:0"`
}

func (usageWindowRow) TableName() string { return "api_client_usage_windows" }

type usageDayRow struct {
	ClientID string `gorm:"primaryKey;type:varchar(64)"`
	DayKey   string `gorm:"primaryKey;type:char(10)"`
	Count    int64  `gorm:"not null;default:0"`
}

func (usageDayRow) TableName() string { return "api_client_usage_days" }

type accessLogRow struct {
	ID        uint   `gorm:"primaryKey"`
	ClientID  string `gorm:"index:idx_access_client_time,priority:1;type:varchar(64);not null"`
	IP        string
	Host      string
	Origin    string
	UserAgent string
	CreatedAt time.Time `gorm:"index:idx_access_client_time,priority:2;index"`
}

func (accessLogRow) TableName() string { return "api_client_access_logs" }

func (r accessLogRow) entry() admission.AccessLog {
	return admission.AccessLog{
		ClientID:  r.ClientID,
		IP:        r.IP,
		Host:      r.Host,
		Origin:    r.Origin,
		UserAgent: r.UserAgent,
		CreatedAt: r.CreatedAt,
	}
}

type userRow struct {
	ID                 string `gorm:"primaryKey;type:varchar(64)"`
	Email              string `gorm:"not null"`
	Name               string
	Role               string `gorm:"type:varchar(16);not null"`
	LocationAccess     string `gorm:"type:varchar(16);not null"`
	AdminAccess        bool   `gorm:"not null;default:false"`
	Status             string `gorm:"type:varchar(16);not null"`
	LastLoginAt        *time.Time
	LastLoginIP        string `gorm:"column:last_login_ip"`
	LastLoginUserAgent string
	CreatedAt          time.Time `gorm:"index"`
	UpdatedAt          time.Time
}

func (userRow) TableName() string { return "users" }

func toUserRow(u *identity.User) userRow {
	return userRow{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Role:               string(u.Role),
		LocationAccess:     string(u.LocationAccess),
		AdminAccess:        u.AdminAccess,
		Status:             string(u.Status),
		LastLoginAt:        u.LastLoginAt,
		LastLoginIP:        u.LastLoginIP,
		LastLoginUserAgent: u.LastLoginUserAgent,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func (r userRow) user() identity.User {
	return identity.User{
		ID:                 r.ID,
		Email:              r.Email,
		Name:               r.Name,
		Role:               identity.Role(r.Role),
		LocationAccess:     identity.LocationAccess(r.LocationAccess),
		AdminAccess:        r.AdminAccess,
		Status:             identity.UserStatus(r.Status),
		LastLoginAt:        r.LastLoginAt,
		LastLoginIP:        r.LastLoginIP,
		LastLoginUserAgent: r.LastLoginUserAgent,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

type magicTokenRow struct {
	Audience              string    `gorm:"primaryKey;type:varchar(16)"`
	TokenHash             string    `gorm:"primaryKey;type:char(64)"`
	UserID                string    `gorm:"index;type:varchar(64);not null"`
	ExpiresAt             time.Time `gorm:"index;not null"`
	UsedAt                *time.Time
	CreatedFromIP         string `gorm:"column:created_from_ip"`
	CreatedFromUserAgent  string
	ConsumedFromIP        string `gorm:"column:consumed_from_ip"`
	ConsumedFromUserAgent string
	CreatedAt             time.Time
}

func (magicTokenRow) TableName() string { return "magic_tokens" }

func (r magicTokenRow) token() identity.MagicToken {
	return identity.MagicToken{
		Audience:              identity.Audience(r.Audience),
		UserID:                r.UserID,
		TokenHash:             r.TokenHash,
		ExpiresAt:             r.ExpiresAt,
		UsedAt:                r.UsedAt,
		CreatedFromIP:         r.CreatedFromIP,
		CreatedFromUserAgent:  r.CreatedFromUserAgent,
		ConsumedFromIP:        r.ConsumedFromIP,
		ConsumedFromUserAgent: r.ConsumedFromUserAgent,
		CreatedAt:             r.CreatedAt,
	}
}

type refreshTokenRow struct {
	TokenHash            string    `gorm:"primaryKey;type:char(64)"`
	UserID               string    `gorm:"index;type:varchar(64);not null"`
	ExpiresAt            time.Time `gorm:"index;not null"`
	UsedAt               *time.Time
	RevokedAt            *time.Time
	ReplacedByTokenHash  string
	CreatedFromIP        string `gorm:"column:created_from_ip"`
	CreatedFromUserAgent string
	CreatedAt            time.Time
}

func (refreshTokenRow) TableName() string { return "refresh_tokens" }

func toRefreshRow(t *identity.RefreshToken) refreshTokenRow {
	return refreshTokenRow{
		TokenHash:            t.TokenHash,
		UserID:               t.UserID,
		ExpiresAt:            t.ExpiresAt,
		UsedAt:               t.UsedAt,
		RevokedAt:            t.RevokedAt,
		ReplacedByTokenHash:  t.ReplacedByTokenHash,
		CreatedFromIP:        t.CreatedFromIP,
		CreatedFromUserAgent: t.CreatedFromUserAgent,
		CreatedAt:            t.CreatedAt,
	}
}

func (r refreshTokenRow) token() identity.RefreshToken {
	return identity.RefreshToken{
		TokenHash:            r.TokenHash,
		UserID:               r.UserID,
		ExpiresAt:            r.ExpiresAt,
		UsedAt:               r.UsedAt,
		RevokedAt:            r.RevokedAt,
		ReplacedByTokenHash:  r.ReplacedByTokenHash,
		CreatedFromIP:        r.CreatedFromIP,
		CreatedFromUserAgent: r.CreatedFromUserAgent,
		CreatedAt:            r.CreatedAt,
	}
}
