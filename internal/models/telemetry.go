package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IgnitionState is the canonical ignition signal of a vehicle
type IgnitionState int

const (
	IgnitionUnknown IgnitionState = iota
	IgnitionOff
	IgnitionOn
	IgnitionRun
)

func (s IgnitionState) String() string {
	switch s {
	case IgnitionOff:
		return "off"
	case IgnitionOn:
		return "on"
	case IgnitionRun:
		return "run"
	default:
		return "unknown"
	}
}

// IsOn reports whether the engine is considered running (On or Run)
func (s IgnitionState) IsOn() bool {
	return s == IgnitionOn || s == IgnitionRun
}

// ParseIgnitionState maps a vendor ignition string to an IgnitionState.
// Unrecognised values map to IgnitionUnknown.
func ParseIgnitionState(v string) IgnitionState {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "run", "running", "started":
		return IgnitionRun
	case "on":
		return IgnitionOn
	case "off", "stopped":
		return IgnitionOff
	default:
		return IgnitionUnknown
	}
}

func (s IgnitionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *IgnitionState) UnmarshalText(b []byte) error {
	*s = ParseIgnitionState(string(b))
	return nil
}

// Location is a WGS84 coordinate pair
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Distance unit tags recorded on normalized samples
const (
	UnitMiles      = "mi"
	UnitKilometers = "km"
)

// Sample is one canonical telemetry observation for a vehicle.
// Optional signals are nil when the source did not provide a usable value.
type Sample struct {
	VehicleID          string        `json:"vehicleId"`
	VehicleName        string        `json:"vehicleName,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
	Position           *Location     `json:"position,omitempty"`
	Ignition           IgnitionState `json:"ignitionState"`
	Speed              *float64      `json:"speed,omitempty"`        // mph
	Odometer           *float64      `json:"odometer,omitempty"`     // miles
	BatterySoc         *float64      `json:"batterySoc,omitempty"`   // percent
	BatteryRange       *float64      `json:"batteryRange,omitempty"` // miles
	PlugConnected      *bool         `json:"plugConnected,omitempty"`
	SourceDistanceUnit string        `json:"sourceDistanceUnit,omitempty"`
}

// HasPosition reports whether the sample carries a position fix
func (s Sample) HasPosition() bool {
	return s.Position != nil
}

// RawSignal is a single vendor signal as received, before normalization
type RawSignal struct {
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// RawSignals keeps vendor signals in arrival order. It accepts either a JSON
// array of signals or an object keyed by signal type.
type RawSignals []RawSignal

func (rs *RawSignals) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*rs = nil
		return nil
	}

	if data[0] == '[' {
		var list []RawSignal
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*rs = list
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("signals: expected object or array, got %v", tok)
	}

	var out RawSignals
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("signals: decoding %q: %w", key, err)
		}

		sig := RawSignal{Type: key}
		// Object-keyed signals are either {"value":..,"unit":..,"timestamp":..} or a bare value
		var wrapped struct {
			Value     json.RawMessage `json:"value"`
			Unit      string          `json:"unit"`
			Timestamp string          `json:"timestamp"`
		}
		if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &wrapped) == nil && wrapped.Value != nil {
			sig.Value = wrapped.Value
			sig.Unit = wrapped.Unit
			sig.Timestamp = wrapped.Timestamp
		} else {
			sig.Value = raw
		}
		out = append(out, sig)
	}

	*rs = out
	return nil
}

// RawSample is one vendor telemetry record for a vehicle
type RawSample struct {
	VehicleID   string     `json:"vehicleId"`
	VehicleName string     `json:"vehicleName,omitempty"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	Signals     RawSignals `json:"signals"`
}
