// Package actuator defines the actuator abstraction (out of primary scope
// per spec.md §1, carried as an interface plus one reference implementation
// per SPEC_FULL.md §4.9) grounded on
// original_source/arduino/lib/Devices/ActuatorBase.cpp/.h and
// original_source/arduino/lib/Commands/ActuatorCommand.cpp's callback-table
// dispatch pattern.
package actuator

import (
	"encoding/json"
	"fmt"

	"github.com/librescoot/mayako-node/pkg/device"
)

// Command is one named operation an actuator answers, the Go equivalent of
// ActuatorCommand's std::map<String, std::function<void(JsonDocument&)>>.
type Command func(args json.RawMessage) error

// Switch is a reference on/off actuator: its command table has exactly two
// entries (ON/OFF), each driving a caller-supplied set function, matching
// ActuatorBase's composition of DeviceBase + IActuatorCapabilities +
// ActuatorCommand.
type Switch struct {
	identity string
	setState func(on bool) error

	caps     device.ActuatorCapabilities
	commands map[string]Command
}

// NewSwitch builds a two-command actuator driving setState. Its commands
// are named "<identity>_ON" and "<identity>_OFF": CommandManager's
// executeCommand looks up an actuator by the full cmd_name and passes that
// same cmd_name into executeFunction, so an actuator's own callback table
// must be keyed by the full names it is registered under in
// pkg/command.Dispatcher, not a generic verb.
func NewSwitch(identity string, setState func(on bool) error) *Switch {
	s := &Switch{
		identity: identity,
		setState: setState,
		commands: make(map[string]Command),
	}
	s.ResetCapabilities()
	s.addFunction(identity+"_ON", func(json.RawMessage) error { return s.setState(true) })
	s.addFunction(identity+"_OFF", func(json.RawMessage) error { return s.setState(false) })
	return s
}

// OnCommandName and OffCommandName are the cmd_name values this actuator's
// commands are registered under, for main.go to wire into
// pkg/command.Dispatcher.AddActuator.
func (s *Switch) OnCommandName() string  { return s.identity + "_ON" }
func (s *Switch) OffCommandName() string { return s.identity + "_OFF" }

// ResetCapabilities restores ActuatorBase::resetActuatorCapabilities'
// default (enabled).
func (s *Switch) ResetCapabilities() {
	s.caps = device.ActuatorCapabilities{Enable: true}
}

// addFunction registers a named command, matching
// ActuatorCommand::addFunction. It is unexported, so only code in this
// package can add commands; NewSwitch uses it for ON/OFF.
func (s *Switch) addFunction(name string, fn Command) {
	s.commands[name] = fn
}

// Identity returns the actuator's identity string.
func (s *Switch) Identity() string { return s.identity }

// Capabilities returns the actuator's current capabilities.
func (s *Switch) Capabilities() device.ActuatorCapabilities { return s.caps }

// SetCapabilities applies new capabilities, matching
// ActuatorBase::setActuatorCapabilities.
func (s *Switch) SetCapabilities(c device.ActuatorCapabilities) { s.caps = c }

// CommandsDefinition reports the actuator's registered command names, the
// Go stand-in for ActuatorCommand::getCommandsDefinition's JsonArray.
func (s *Switch) CommandsDefinition() json.RawMessage {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	out, err := json.Marshal(names)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return out
}

// IdentificationAction has no actuator-specific indicator in the reference
// implementation.
func (s *Switch) IdentificationAction() {}

// Execute looks up name in the command table and runs it with the full
// dispatch payload, matching ActuatorCommand::executeFunction. It refuses
// to run while the actuator is disabled, the check ActuatorBase's comment
// says every command function "must" perform but which the C++ source
// never actually wires in anywhere.
func (s *Switch) Execute(name string, payload json.RawMessage) error {
	if !s.caps.Enable {
		return fmt.Errorf("actuator: %s is disabled", s.identity)
	}
	fn, ok := s.commands[name]
	if !ok {
		return fmt.Errorf("actuator: %s has no command %q", s.identity, name)
	}
	return fn(payload)
}
