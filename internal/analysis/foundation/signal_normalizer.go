package foundation

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/spatial"
)

// signalKind is the canonical meaning of a vendor signal
type signalKind int

const (
	kindUnknown signalKind = iota
	kindLocation
	kindIgnition
	kindOdometer
	kindSpeed
	kindBatterySoc
	kindBatteryRange
	kindPlug
)

var signalAliases = map[string]signalKind{
	"location":      kindLocation,
	"gps":           kindLocation,
	"position":      kindLocation,
	"ignition":      kindIgnition,
	"ignitionstate": kindIgnition,
	"enginestate":   kindIgnition,
	"odometer":      kindOdometer,
	"speed":         kindSpeed,
	"batterysoc":    kindBatterySoc,
	"stateofcharge": kindBatterySoc,
	"soc":           kindBatterySoc,
	"batteryrange":  kindBatteryRange,
	"range":         kindBatteryRange,
	"plugstatus":    kindPlug,
	"ispluggedin":   kindPlug,
	"chargecable":   kindPlug,
}

// NormalizerConfig controls unit assumptions for vendor samples
type NormalizerConfig struct {
	// DefaultDistanceUnit applies to distance signals that carry no unit
	DefaultDistanceUnit string
}

// DefaultNormalizerConfig matches the vendor feed, which reports kilometers
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{DefaultDistanceUnit: models.UnitKilometers}
}

// Normalizer converts vendor telemetry into canonical samples
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a new signal normalizer
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.DefaultDistanceUnit == "" {
		cfg.DefaultDistanceUnit = models.UnitKilometers
	}
	return &Normalizer{cfg: cfg}
}

// Normalize converts one raw sample. Unparseable signals are dropped; the
// second return value is false only when nothing usable remains or no
// timestamp can be resolved.
func (n *Normalizer) Normalize(raw models.RawSample) (models.Sample, bool) {
	sample := models.Sample{
		VehicleID:   raw.VehicleID,
		VehicleName: raw.VehicleName,
		Ignition:    models.IgnitionUnknown,
	}
	if raw.VehicleID == "" {
		return sample, false
	}

	var latest time.Time
	usable := false

	for _, sig := range raw.Signals {
		if ts, ok := parseTimestamp(sig.Timestamp); ok && ts.After(latest) {
			latest = ts
		}

		switch signalAliases[strings.ToLower(strings.TrimSpace(sig.Type))] {
		case kindLocation:
			if loc, ok := parseLocation(sig.Value); ok {
				sample.Position = &loc
				usable = true
			}
		case kindIgnition:
			if state := parseIgnition(sig.Value); state != models.IgnitionUnknown {
				sample.Ignition = state
				usable = true
			}
		case kindOdometer:
			if v, ok := parseNumber(sig.Value); ok {
				miles := n.toMiles(v, sig.Unit, &sample)
				sample.Odometer = &miles
				usable = true
			}
		case kindBatteryRange:
			if v, ok := parseNumber(sig.Value); ok {
				miles := n.toMiles(v, sig.Unit, &sample)
				sample.BatteryRange = &miles
				usable = true
			}
		case kindSpeed:
			if v, ok := parseNumber(sig.Value); ok {
				mph := n.toMph(v, sig.Unit)
				sample.Speed = &mph
				usable = true
			}
		case kindBatterySoc:
			if v, ok := parseNumber(sig.Value); ok {
				sample.BatterySoc = &v
				usable = true
			}
		case kindPlug:
			if v, ok := parsePlug(sig.Value); ok {
				sample.PlugConnected = &v
				usable = true
			}
		}
	}

	if latest.IsZero() {
		latest = raw.ReceivedAt
	}
	if latest.IsZero() {
		return sample, false
	}
	sample.Timestamp = latest.UTC()

	return sample, usable
}

// NormalizeBatch normalizes raw samples and returns the usable ones ordered
// by timestamp. Equal timestamps keep their input order.
func (n *Normalizer) NormalizeBatch(raws []models.RawSample) []models.Sample {
	out := make([]models.Sample, 0, len(raws))
	for _, raw := range raws {
		if s, ok := n.Normalize(raw); ok {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// toMiles converts a distance reading and records the source unit the first
// time a distance signal is seen
func (n *Normalizer) toMiles(v float64, unit string, sample *models.Sample) float64 {
	u := distanceUnit(unit, n.cfg.DefaultDistanceUnit)
	if sample.SourceDistanceUnit == "" {
		sample.SourceDistanceUnit = u
	}
	if u == models.UnitKilometers {
		return spatial.KilometersToMiles(v)
	}
	return v
}

func (n *Normalizer) toMph(v float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "mph", "mi/h":
		return v
	case "km/h", "kph", "kmh":
		return spatial.KilometersToMiles(v)
	case "":
		if n.cfg.DefaultDistanceUnit == models.UnitKilometers {
			return spatial.KilometersToMiles(v)
		}
	}
	return v
}

func distanceUnit(unit, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "km", "kilometer", "kilometers", "kilometre", "kilometres":
		return models.UnitKilometers
	case "mi", "mile", "miles":
		return models.UnitMiles
	default:
		return fallback
	}
}

// parseNumber accepts JSON numbers and numeric strings
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseLocation(raw json.RawMessage) (models.Location, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Location{}, false
	}

	lat, okLat := firstNumber(fields, "latitude", "lat")
	lon, okLon := firstNumber(fields, "longitude", "lng", "lon")
	if !okLat || !okLon || !spatial.ValidCoordinates(lat, lon) {
		return models.Location{}, false
	}
	return models.Location{Latitude: lat, Longitude: lon}, true
}

func firstNumber(fields map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return parseNumber(v)
		}
	}
	return 0, false
}

func parseIgnition(raw json.RawMessage) models.IgnitionState {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return models.ParseIgnitionState(s)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return models.IgnitionOn
		}
		return models.IgnitionOff
	}
	return models.IgnitionUnknown
}

func parsePlug(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "connected", "plugged", "plugged_in", "yes":
		return true, true
	case "false", "disconnected", "unplugged", "no":
		return false, true
	}
	return false, false
}

// parseTimestamp accepts RFC3339 strings and unix seconds or milliseconds
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n >= 1e12 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}
