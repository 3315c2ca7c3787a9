package types

import "time"

// Record is one aggregated reading on its way to the store.
type Record struct {
	DeviceID  string
	Timestamp int64 // unix seconds
	Features  Features

	// Anomalous marks a record that carries a raw sample because its window
	// had no positive duration.
	Anomalous bool
}

// Time returns the timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// Device is a registered device as stored.
type Device struct {
	DeviceID     string    `json:"deviceId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// StoredReading is a reading row read back from the store.
type StoredReading struct {
	DeviceID    string  `json:"deviceId"`
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	RainPulses  float64 `json:"rainPulses"`
	Anomalous   bool    `json:"anomalous"`
}

// ReadingFromRecord converts an aggregated record to its stored form.
func ReadingFromRecord(r Record) StoredReading {
	return StoredReading{
		DeviceID:    r.DeviceID,
		Timestamp:   r.Timestamp,
		Temperature: r.Features.Temperature(),
		Humidity:    r.Features.Humidity(),
		RainPulses:  r.Features.RainPulses(),
		Anomalous:   r.Anomalous,
	}
}
