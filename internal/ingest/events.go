// Package ingest turns transport messages into buffered samples and device
// registrations.
//
// Two event kinds arrive from the devices:
//
//	registration  {"deviceId": "dev-1"}
//	reading       {"deviceId": "dev-1", "features": {"temperature": 21.5, "humidity": 60, "rainPulses": 0}}
//
// Deployed firmware sends the feature object under "data"; both keys are
// accepted and "features" wins when both are present. Reading timestamps are
// assigned on receipt, anything the sender puts in the payload is ignored.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xtxerr/telegate/internal/errors"
	"github.com/xtxerr/telegate/internal/types"
)

// Event kinds, used as the kind label of malformed-event metrics.
const (
	KindRegistration = "registration"
	KindReading      = "reading"
)

type registrationPayload struct {
	DeviceID string `json:"deviceId"`
}

type featurePayload struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	RainPulses  *float64 `json:"rainPulses"`
}

type readingPayload struct {
	DeviceID string          `json:"deviceId"`
	Features *featurePayload `json:"features"`
	Data     *featurePayload `json:"data"`
}

// DecodeRegistration parses a registration event.
func DecodeRegistration(payload []byte) (types.Registration, error) {
	var p registrationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.Registration{}, fmt.Errorf("decode registration: %v: %w", err, errors.ErrMalformedInput)
	}

	id := strings.TrimSpace(p.DeviceID)
	if id == "" {
		return types.Registration{}, fmt.Errorf("registration: %w", errors.ErrMissingDevice)
	}
	return types.Registration{DeviceID: id}, nil
}

// DecodeReading parses a reading event. The returned sample carries no
// timestamp; the caller stamps it on receipt.
func DecodeReading(payload []byte) (string, types.Features, error) {
	var p readingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", types.Features{}, fmt.Errorf("decode reading: %v: %w", err, errors.ErrMalformedInput)
	}

	id := strings.TrimSpace(p.DeviceID)
	if id == "" {
		return "", types.Features{}, fmt.Errorf("reading: %w", errors.ErrMissingDevice)
	}

	fp := p.Features
	if fp == nil {
		fp = p.Data
	}
	if fp == nil {
		return "", types.Features{}, fmt.Errorf("reading from %s: no features: %w", id, errors.ErrMissingFeature)
	}

	var fs types.Features
	for _, f := range types.AllFeatures {
		v := fp.get(f)
		if v == nil {
			return "", types.Features{}, fmt.Errorf("reading from %s: %s: %w", id, f, errors.ErrMissingFeature)
		}
		fs[f] = *v
	}
	return id, fs, nil
}

func (p *featurePayload) get(f types.Feature) *float64 {
	switch f {
	case types.FeatureTemperature:
		return p.Temperature
	case types.FeatureHumidity:
		return p.Humidity
	case types.FeatureRainPulses:
		return p.RainPulses
	}
	return nil
}
