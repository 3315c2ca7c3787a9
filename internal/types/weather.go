package types

// WeatherObservation is one conventional station observation.
type WeatherObservation struct {
	ObservedAt     int64   `json:"observed_at"` // unix seconds, fetch time
	Station        string  `json:"station"`
	Precipitation  float64 `json:"precipitation"`   // prec, mm
	Humidity       float64 `json:"humidity"`        // hr, %
	Temperature    float64 `json:"temperature"`     // ta, °C
	TemperatureMin float64 `json:"temperature_min"` // tamin
	TemperatureMax float64 `json:"temperature_max"` // tamax
}

// RainForecast is the precipitation probability for one forecast day.
type RainForecast struct {
	FetchedAt    int64  `json:"fetched_at"`
	Municipality string `json:"municipality"`
	DayOffset    int    `json:"day_offset"` // days from the fetch date
	Date         string `json:"date"`       // YYYY-MM-DD
	Probability  int    `json:"probability"` // percent
}
