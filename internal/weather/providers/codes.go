package providers

// WeatherCode is the display text and icon for a WMO weather code.
type WeatherCode struct {
	Conditions string
	Icon       string
}

var unknownCode = WeatherCode{Conditions: "Unknown", Icon: "cloudy"}

var weatherCodes = map[int]WeatherCode{
	0:  {"Clear", "clear-day"},
	1:  {"Mainly Clear", "clear-day"},
	2:  {"Partly Cloudy", "partly-cloudy-day"},
	3:  {"Cloudy", "cloudy"},
	45: {"Fog", "fog"},
	48: {"Depositing Rime Fog", "fog"},
	51: {"Drizzle", "rain"},
	53: {"Drizzle", "rain"},
	55: {"Drizzle", "rain"},
	56: {"Freezing Drizzle", "sleet"},
	57: {"Freezing Drizzle", "sleet"},
	61: {"Rain", "rain"},
	63: {"Rain", "rain"},
	65: {"Heavy Rain", "rain"},
	66: {"Freezing Rain", "sleet"},
	67: {"Freezing Rain", "sleet"},
	71: {"Snow", "snow"},
	73: {"Snow", "snow"},
	75: {"Snow", "snow"},
	77: {"Snow Grains", "snow"},
	80: {"Rain Showers", "rain"},
	81: {"Rain Showers", "rain"},
	82: {"Rain Showers", "rain"},
	85: {"Snow Showers", "snow"},
	86: {"Snow Showers", "snow"},
	95: {"Thunderstorm", "thunder"},
	96: {"Thunderstorm with Hail", "thunder-rain"},
	99: {"Thunderstorm with Hail", "thunder-rain"},
}

func mapWeatherCode(code *int) WeatherCode {
	if code == nil {
		return unknownCode
	}
	if wc, ok := weatherCodes[*code]; ok {
		return wc
	}
	return unknownCode
}

func celsiusToF(c float64) float64 { return c*9/5 + 32 }
func mmToIn(mm float64) float64 { return mm / 25.4 }
func cmToIn(cm float64) float64 { return cm / 2.54 }
func metersToMiles(m float64) float64 { return m / 1609.34 }

// convert applies fn to a reported value; missing values stay missing.
func convert(v *float64, fn func(float64) float64) *float64 {
	if v == nil {
		return nil
	}
	out := fn(*v)
	return &out
}
