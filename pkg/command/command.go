// Package command implements the built-in/actuator dispatch layer
// (C7): a COMMAND packet's payload carries a cmd_name field and
// operation-specific fields, resolved first against a built-in table,
// then against registered actuators, logging an error otherwise.
// Grounded on original_source/arduino/lib/Commands/CommandManager.cpp.
package command

import (
	"encoding/json"
	"fmt"
)

// Handler executes one built-in command. payload has cmd_name already
// stripped, matching CommandManager::executeCommand's
// commandData.remove("cmd_name") before invoking the handler.
type Handler func(payload json.RawMessage) error

// ActuatorCommands is the dispatch contract a registered actuator
// satisfies, mirroring ActuatorCommand::executeFunction: look up name
// in its own callback table and run the matching operation. Unlike a
// built-in handler, it receives the full, unstripped payload.
type ActuatorCommands interface {
	Execute(name string, payload json.RawMessage) error
}

// ErrorReporter receives a message when cmd_name resolves to neither
// table. pkg/relay.Relay satisfies it.
type ErrorReporter interface {
	Error(payload []byte)
}

// Dispatcher holds the two command tables and resolves cmd_name against
// them in order: built-ins first, then actuators.
type Dispatcher struct {
	builtins  map[string]Handler
	actuators map[string]ActuatorCommands
	reporter  ErrorReporter
}

// NewDispatcher builds an empty dispatcher. reporter may be nil.
func NewDispatcher(reporter ErrorReporter) *Dispatcher {
	return &Dispatcher{
		builtins:  make(map[string]Handler),
		actuators: make(map[string]ActuatorCommands),
		reporter:  reporter,
	}
}

// AddCommand registers a built-in handler under name.
func (d *Dispatcher) AddCommand(name string, h Handler) {
	d.builtins[name] = h
}

// AddActuator registers an actuator's dispatch table under name.
func (d *Dispatcher) AddActuator(name string, a ActuatorCommands) {
	d.actuators[name] = a
}

type envelope struct {
	CmdName string `json:"cmd_name"`
}

// Execute resolves cmd_name from payload and dispatches it, stripping
// cmd_name for built-ins and passing the payload through unchanged for
// actuators.
func (d *Dispatcher) Execute(payload json.RawMessage) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("command: decode cmd_name: %w", err)
	}

	if h, ok := d.builtins[env.CmdName]; ok {
		stripped, err := stripCmdName(payload)
		if err != nil {
			return err
		}
		return h(stripped)
	}

	if a, ok := d.actuators[env.CmdName]; ok {
		return a.Execute(env.CmdName, payload)
	}

	if d.reporter != nil {
		d.reporter.Error([]byte(fmt.Sprintf(`{"message":"command %s not found"}`, env.CmdName)))
	}
	return fmt.Errorf("command: %q not found", env.CmdName)
}

func stripCmdName(payload json.RawMessage) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("command: strip cmd_name: %w", err)
	}
	delete(m, "cmd_name")
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("command: re-marshal payload: %w", err)
	}
	return out, nil
}
