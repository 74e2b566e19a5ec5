// Package sensor defines the sensor abstraction (out of primary scope per
// spec.md §1, carried as an interface plus one reference implementation
// per SPEC_FULL.md §4.9) grounded on
// original_source/arduino/lib/Devices/SensorBase.cpp/.h and
// original_source/arduino/lib/Models/ModelBase.cpp's envelope format.
package sensor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/librescoot/mayako-node/pkg/device"
)

// DataSource is the model-specific half SensorBase leaves abstract
// (appendModelData/getModelDefinition): read the sensor's current value as
// a flat JSON object, with no identity/timestamp/sequence envelope fields.
type DataSource interface {
	Read() (json.RawMessage, error)
	Definition() json.RawMessage
}

// Polling is a reference sensor: schedules itself from SampleRate, detects
// state changes by comparing the source's marshaled value between reads,
// and wraps readings in the identity/timestamp/sequence envelope
// ModelBase::toJSON builds.
type Polling struct {
	identity string
	source   DataSource
	now      func() time.Time

	caps     device.SensorCapabilities
	interval time.Duration
	lastRun  time.Time
	lastData string
	sequence uint64
}

// NewPolling builds a reference sensor over source, defaulting to the same
// capabilities SensorBase::resetSensorCapabilities seeds (enabled, no
// timestamp/sequence, 1 Hz, report every reading).
func NewPolling(identity string, source DataSource) *Polling {
	p := &Polling{identity: identity, source: source, now: time.Now}
	p.ResetCapabilities()
	return p
}

// ResetCapabilities restores SensorBase::resetSensorCapabilities' defaults.
func (p *Polling) ResetCapabilities() {
	p.caps = device.SensorCapabilities{
		Enable:            true,
		IncludeTimestamp:  false,
		IncludeSequence:   false,
		SampleRate:        1,
		DataOnStateChange: false,
	}
	p.sequence = 0
	p.recalculateInterval()
}

func (p *Polling) recalculateInterval() {
	rate := p.caps.SampleRate
	if rate == 0 {
		rate = 1
	}
	p.interval = time.Second / time.Duration(rate)
}

// Identity returns the sensor's identity string.
func (p *Polling) Identity() string { return p.identity }

// IsEnabled reports SensorCapabilities.Enable.
func (p *Polling) IsEnabled() bool { return p.caps.Enable }

// IsTimeToRun matches SensorBase::isTimeToRun's simple interval scheduler.
func (p *Polling) IsTimeToRun(now time.Time) bool {
	if now.Sub(p.lastRun) < p.interval {
		return false
	}
	p.lastRun = now
	return true
}

// ReadData reads the underlying source, appends the identity/timestamp/
// sequence envelope per ModelBase::toJSON, and reports whether the state
// changed since the last read (always true when DataOnStateChange is
// false, matching SensorBase::hasStateChanged).
func (p *Polling) ReadData() ([]byte, bool) {
	raw, err := p.source.Read()
	if err != nil {
		return nil, false
	}

	changed := !p.caps.DataOnStateChange || string(raw) != p.lastData
	p.lastData = string(raw)
	if !changed {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		fields = map[string]json.RawMessage{}
	}
	fields["identity"] = mustMarshal(p.identity)
	if p.caps.IncludeTimestamp {
		fields["timestamp"] = mustMarshal(p.now().UnixMilli())
	}
	if p.caps.IncludeSequence {
		fields["sequence"] = mustMarshal(p.sequence)
		p.sequence++
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Capabilities returns the sensor's current capabilities.
func (p *Polling) Capabilities() device.SensorCapabilities { return p.caps }

// SetCapabilities applies new capabilities and recalculates the polling
// interval, matching SensorBase::setSensorCapabilities.
func (p *Polling) SetCapabilities(c device.SensorCapabilities) {
	p.caps = c
	p.recalculateInterval()
}

// ModelDefinition reports the source's static field definition, matching
// getModelDefinition.
func (p *Polling) ModelDefinition() json.RawMessage { return p.source.Definition() }

// ResetSequence resets the sequence counter, matching
// SensorBase::resetSequence (called on every RECORD_STOP).
func (p *Polling) ResetSequence() { p.sequence = 0 }

// IdentificationAction has no sensor-specific identification behavior in
// the reference implementation; a concrete sensor with its own indicator
// would override this by wrapping Polling.
func (p *Polling) IdentificationAction() {}

func mustMarshal(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("sensor: marshal envelope field: %v", err))
	}
	return out
}
