package types

import "time"

// Feature indexes a value in Features.
type Feature int

const (
	FeatureTemperature Feature = iota
	FeatureHumidity
	FeatureRainPulses

	// NumFeatures is the size of the fixed feature set.
	NumFeatures = 3
)

// String returns the wire name of the feature.
func (f Feature) String() string {
	switch f {
	case FeatureTemperature:
		return "temperature"
	case FeatureHumidity:
		return "humidity"
	case FeatureRainPulses:
		return "rainPulses"
	default:
		return "unknown"
	}
}

// AllFeatures lists the features in storage order.
var AllFeatures = [NumFeatures]Feature{FeatureTemperature, FeatureHumidity, FeatureRainPulses}

// Features holds one value per feature, in AllFeatures order.
type Features [NumFeatures]float64

// Get returns the value of f.
func (fs Features) Get(f Feature) float64 {
	return fs[f]
}

// Temperature returns the temperature value.
func (fs Features) Temperature() float64 { return fs[FeatureTemperature] }

// Humidity returns the relative humidity value.
func (fs Features) Humidity() float64 { return fs[FeatureHumidity] }

// RainPulses returns the rain gauge pulse count.
func (fs Features) RainPulses() float64 { return fs[FeatureRainPulses] }

// Sample is one raw reading from a device.
// Samples are values; a stored Sample never changes.
type Sample struct {
	// Timestamp is the receipt time in unix seconds.
	Timestamp int64

	Features Features
}

// Time returns the timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.Unix(s.Timestamp, 0)
}

// Registration announces a device.
type Registration struct {
	DeviceID string
}
