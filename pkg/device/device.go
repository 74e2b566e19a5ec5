// Package device implements the record/device lifecycle (C8): the
// sensor/actuator registry, record start/stop/complete bookkeeping and
// the command handlers that answer RECORD_*/BATTERY_READ/IDENTIFY.
// Grounded on original_source/arduino/lib/Utils/DeviceManager.cpp.
package device

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/librescoot/mayako-node/pkg/packet"
)

// Default device capabilities, matching DEVICE::DURATION/MAX_SAMPLES/DELAY.
const (
	DefaultDuration   = 0 * time.Second
	DefaultMaxSamples = 0
	DefaultDelay      = 0 * time.Second
)

// Capabilities are the general settings governing one record: how long it
// runs, how many samples it takes before auto-stopping, and how long after
// RECORD_START to wait before sampling actually begins.
type Capabilities struct {
	Duration   time.Duration `json:"duration"`
	MaxSamples uint64        `json:"max_samples"`
	Delay      time.Duration `json:"delay"`
}

// SensorCapabilities mirrors the C++ SensorCapabilities struct: per-sensor
// settings plus the two envelope flags (timestamp/sequence) that, in the
// source, are actually set globally by DeviceManager::createCapabilities
// and copied into every sensor.
type SensorCapabilities struct {
	Enable           bool   `json:"enable"`
	IncludeTimestamp bool   `json:"include_timestamp"`
	IncludeSequence  bool   `json:"include_sequence"`
	SampleRate       uint64 `json:"sample_rate"`
	DataOnStateChange bool  `json:"data_on_state_change"`
}

// ActuatorCapabilities mirrors the C++ ActuatorCapabilities struct.
type ActuatorCapabilities struct {
	Enable bool `json:"enable"`
}

// Sensor is the consumer-side contract DeviceManager needs from a sensor,
// grounded on original_source/arduino/lib/Devices/SensorBase.h. A concrete
// sensor (pkg/sensor) owns its own sampling schedule and state-change
// detection; DeviceManager only reads the result.
type Sensor interface {
	Identity() string
	IsEnabled() bool
	IsTimeToRun(now time.Time) bool
	ReadData() (data []byte, changed bool)
	Capabilities() SensorCapabilities
	SetCapabilities(SensorCapabilities)
	ModelDefinition() json.RawMessage
	ResetSequence()
	IdentificationAction()
}

// Actuator is the consumer-side contract DeviceManager needs from an
// actuator, grounded on original_source/arduino/lib/Devices/ActuatorBase.h.
type Actuator interface {
	Identity() string
	Capabilities() ActuatorCapabilities
	SetCapabilities(ActuatorCapabilities)
	CommandsDefinition() json.RawMessage
	IdentificationAction()
}

// Board is the consumer-side contract DeviceManager needs from the board,
// grounded on original_source/arduino/lib/Devices/BoardBase.h.
type Board interface {
	Restart()
	Identify()
	Battery() (percent int, charging bool)
}

// Reporter is the sink DeviceManager writes INFO replies to. pkg/relay.Relay
// satisfies it.
type Reporter interface {
	Info(payload []byte)
}

// Manager holds the sensor/actuator registry and the single active record's
// state. It is not safe to add sensors/actuators concurrently with command
// execution; registration happens once at startup in practice.
type Manager struct {
	identity string
	board    Board
	reporter Reporter

	mu         sync.Mutex
	sensors    map[string]Sensor
	actuators  map[string]Actuator
	caps       Capabilities
	recording  bool
	sessionID  string
	startTime  time.Time
	sampleCount uint64
}

// New builds an empty manager identified by identity (the node's own MC_NAME
// equivalent, matched against IDENTIFY's payload alongside sensor/actuator
// identities).
func New(identity string, board Board, reporter Reporter) *Manager {
	return &Manager{
		identity:  identity,
		board:     board,
		reporter:  reporter,
		sensors:   make(map[string]Sensor),
		actuators: make(map[string]Actuator),
		caps: Capabilities{
			Duration:   DefaultDuration,
			MaxSamples: DefaultMaxSamples,
			Delay:      DefaultDelay,
		},
	}
}

// AddSensor registers a sensor under its own identity.
func (m *Manager) AddSensor(s Sensor) {
	m.mu.Lock()
	m.sensors[s.Identity()] = s
	m.mu.Unlock()
}

// AddActuator registers an actuator under its own identity.
func (m *Manager) AddActuator(a Actuator) {
	m.mu.Lock()
	m.actuators[a.Identity()] = a
	m.mu.Unlock()
}

// Actuator looks up a registered actuator by identity, for wiring into
// pkg/command's actuator table.
func (m *Manager) Actuator(id string) (Actuator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actuators[id]
	return a, ok
}

// IsRecordInProgress reports whether a record is running and its start
// delay has elapsed, matching DeviceManager::isRecordInProgress.
func (m *Manager) IsRecordInProgress(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.startTime.Add(m.caps.Delay)) {
		return false
	}
	return m.recording
}

// CheckRecordComplete auto-stops a running record once duration or
// max-samples is exceeded, matching DeviceManager::isRecordComplete. A
// zero duration or zero max-samples never triggers, matching the source's
// "only triggers if set to above 0" comments.
func (m *Manager) CheckRecordComplete(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recording {
		return
	}
	durationUp := m.caps.Duration > 0 && now.After(m.startTime.Add(m.caps.Duration))
	samplesUp := m.caps.MaxSamples > 0 && m.sampleCount >= m.caps.MaxSamples
	if durationUp || samplesUp {
		m.stopRecordLocked()
	}
}

// ReadSensors polls every enabled, due sensor and returns one DATA packet
// per sensor whose state actually changed, matching
// DeviceManager::readSensors. Each sample increments the shared sample
// counter used by CheckRecordComplete's max-samples gate.
func (m *Manager) ReadSensors(now time.Time) []*packet.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*packet.Packet
	for _, s := range m.sensors {
		if !s.IsEnabled() {
			continue
		}
		if !s.IsTimeToRun(now) {
			continue
		}
		data, changed := s.ReadData()
		if !changed {
			continue
		}
		m.sampleCount++
		out = append(out, packet.New(packet.MethodData, m.stampSessionLocked(data)))
	}
	return out
}

// stampSessionLocked merges session_id into a DATA packet's envelope, per
// SPEC_FULL.md §4.7. Called with m.mu already held. Malformed sensor
// output is passed through unchanged rather than dropped.
func (m *Manager) stampSessionLocked(data []byte) []byte {
	if m.sessionID == "" {
		return data
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	fields["session_id"] = mustMarshal(m.sessionID)
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}

// SessionID returns the identifier of the current (or most recent) record,
// empty if no record has ever started. ReadSensors stamps it onto every
// DATA packet's envelope under session_id, per SPEC_FULL.md §4.7.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Identify answers an IDENTIFY command: the node itself, any sensor, or any
// actuator whose identity matches runs its identification action, matching
// DeviceManager::identify. Unlike the C++ source, the microcontroller's own
// identity comparison also triggers the board's identify action rather than
// a MC-specific flash routine, since pkg/board generalizes both.
func (m *Manager) Identify(payload json.RawMessage) error {
	var body struct {
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("device: decode identify payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if body.Identity == m.identity {
		m.board.Identify()
	}
	if s, ok := m.sensors[body.Identity]; ok {
		s.IdentificationAction()
	}
	if a, ok := m.actuators[body.Identity]; ok {
		a.IdentificationAction()
	}
	return nil
}

// GetBattery answers a BATTERY_READ command, matching
// DeviceManager::getBattery.
func (m *Manager) GetBattery(json.RawMessage) error {
	percent, charging := m.board.Battery()
	m.reporter.Info(mustMarshal(map[string]any{
		"cmd_name":   "BATTERY_READ",
		"success":    true,
		"percentage": percent,
		"charging":   charging,
	}))
	return nil
}

// Restart answers a RESTART command, matching DeviceManager::restart. No
// reply is sent, since (as the source notes) it would never arrive before
// the restart completes.
func (m *Manager) Restart(json.RawMessage) error {
	m.board.Restart()
	return nil
}

type sensorCapabilitiesView struct {
	Identity          string          `json:"identity"`
	Enable            bool            `json:"enable"`
	IncludeTimestamp  bool            `json:"include_timestamp"`
	IncludeSequence   bool            `json:"include_sequence"`
	SampleRate        uint64          `json:"sample_rate"`
	DataOnStateChange bool            `json:"data_on_state_change"`
	ModelData         json.RawMessage `json:"model_data"`
}

type actuatorCapabilitiesView struct {
	Identity string          `json:"identity"`
	Enable   bool            `json:"enable"`
	Commands json.RawMessage `json:"commands"`
}

// ReadCapabilities answers a RECORD_READ command: the current device
// capabilities plus every sensor's and actuator's own capabilities,
// matching DeviceManager::readCapabilities.
func (m *Manager) ReadCapabilities(json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sensors := make([]sensorCapabilitiesView, 0, len(m.sensors))
	for _, s := range m.sensors {
		c := s.Capabilities()
		sensors = append(sensors, sensorCapabilitiesView{
			Identity:          s.Identity(),
			Enable:            c.Enable,
			IncludeTimestamp:  c.IncludeTimestamp,
			IncludeSequence:   c.IncludeSequence,
			SampleRate:        c.SampleRate,
			DataOnStateChange: c.DataOnStateChange,
			ModelData:         s.ModelDefinition(),
		})
	}

	actuators := make([]actuatorCapabilitiesView, 0, len(m.actuators))
	for _, a := range m.actuators {
		c := a.Capabilities()
		actuators = append(actuators, actuatorCapabilitiesView{
			Identity: a.Identity(),
			Enable:   c.Enable,
			Commands: a.CommandsDefinition(),
		})
	}

	m.reporter.Info(mustMarshal(map[string]any{
		"cmd_name":   "RECORD_READ",
		"success":    true,
		"duration":   m.caps.Duration.Milliseconds(),
		"max_samples": m.caps.MaxSamples,
		"delay":      m.caps.Delay.Milliseconds(),
		"sensors":    sensors,
		"actuators":  actuators,
	}))
	return nil
}

type createCapabilitiesRequest struct {
	Delay            int    `json:"delay"`
	Duration         uint64 `json:"duration"`
	MaxSamples       uint64 `json:"max_samples"`
	IncludeTimestamp bool   `json:"include_timestamp"`
	IncludeSequence  bool   `json:"include_sequence"`
	Sensors          []struct {
		Identity          string `json:"identity"`
		Enable            bool   `json:"enable"`
		SampleRate        uint64 `json:"sample_rate"`
		DataOnStateChange bool   `json:"data_on_state_change"`
	} `json:"sensors"`
	Actuators []struct {
		Identity string `json:"identity"`
		Enable   bool   `json:"enable"`
	} `json:"actuators"`
}

// CreateCapabilities answers a RECORD_CREATE command, rejecting the request
// outright while a record is in progress, matching
// DeviceManager::createCapabilities.
func (m *Manager) CreateCapabilities(payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recording {
		m.reporter.Info(mustMarshal(map[string]any{
			"cmd_name": "RECORD_CREATE",
			"success":  false,
			"error":    "can not create new record because there is currently a running record",
		}))
		return nil
	}

	var req createCapabilitiesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("device: decode create-capabilities payload: %w", err)
	}

	m.caps.Delay = time.Duration(req.Delay) * time.Millisecond
	m.caps.Duration = time.Duration(req.Duration) * time.Millisecond
	m.caps.MaxSamples = req.MaxSamples

	for _, item := range req.Sensors {
		s, ok := m.sensors[item.Identity]
		if !ok {
			continue
		}
		s.SetCapabilities(SensorCapabilities{
			Enable:            item.Enable,
			IncludeTimestamp:  req.IncludeTimestamp,
			IncludeSequence:   req.IncludeSequence,
			SampleRate:        item.SampleRate,
			DataOnStateChange: item.DataOnStateChange,
		})
	}

	for _, item := range req.Actuators {
		a, ok := m.actuators[item.Identity]
		if !ok {
			continue
		}
		a.SetCapabilities(ActuatorCapabilities{Enable: item.Enable})
	}

	m.reporter.Info(mustMarshal(map[string]any{
		"cmd_name": "RECORD_CREATE",
		"success":  true,
	}))
	return nil
}

// StartRecord answers a RECORD_START command, matching
// DeviceManager::startRecord. A fresh session_id is minted on every
// successful start, per SPEC_FULL.md §4.7.
func (m *Manager) StartRecord(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recording {
		m.reporter.Info(mustMarshal(map[string]any{
			"cmd_name": "RECORD_START",
			"status":   true,
			"success":  false,
			"error":    "can not start record because it is already running",
		}))
		return nil
	}

	m.sampleCount = 0
	m.startTime = now
	m.recording = true
	m.sessionID = xid.New().String()

	m.reporter.Info(mustMarshal(map[string]any{
		"cmd_name":   "RECORD_START",
		"status":     true,
		"success":    true,
		"session_id": m.sessionID,
	}))
	return nil
}

// StopRecord answers a RECORD_STOP command, matching
// DeviceManager::stopRecord.
func (m *Manager) StopRecord() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRecordLocked()
	return nil
}

func (m *Manager) stopRecordLocked() {
	if !m.recording {
		m.reporter.Info(mustMarshal(map[string]any{
			"cmd_name": "RECORD_STOP",
			"status":   false,
			"success":  false,
			"error":    "can not stop record because it is not running",
		}))
		return
	}

	m.recording = false
	for _, s := range m.sensors {
		s.ResetSequence()
	}

	m.reporter.Info(mustMarshal(map[string]any{
		"cmd_name": "RECORD_STOP",
		"status":   false,
		"success":  true,
	}))
}

func mustMarshal(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("device: marshal reply: %v", err))
	}
	return out
}
