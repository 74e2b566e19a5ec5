package actuator

import (
	"encoding/json"
	"testing"

	"github.com/librescoot/mayako-node/pkg/device"
)

func TestExecuteOnAndOffDriveSetState(t *testing.T) {
	var state bool
	sw := NewSwitch("led", func(on bool) error {
		state = on
		return nil
	})

	if err := sw.Execute(sw.OnCommandName(), nil); err != nil {
		t.Fatalf("Execute(ON): %v", err)
	}
	if !state {
		t.Error("state = false after the ON command")
	}

	if err := sw.Execute(sw.OffCommandName(), nil); err != nil {
		t.Fatalf("Execute(OFF): %v", err)
	}
	if state {
		t.Error("state = true after the OFF command")
	}
}

func TestExecuteUnknownCommandErrors(t *testing.T) {
	sw := NewSwitch("led", func(bool) error { return nil })
	if err := sw.Execute("led_TOGGLE", nil); err == nil {
		t.Fatal("Execute: want an error for an unregistered command name")
	}
}

func TestExecuteRefusesWhenDisabled(t *testing.T) {
	sw := NewSwitch("led", func(bool) error { return nil })
	sw.SetCapabilities(device.ActuatorCapabilities{Enable: false})

	if err := sw.Execute(sw.OnCommandName(), nil); err == nil {
		t.Fatal("Execute: want an error while the actuator is disabled")
	}
}

func TestCommandsDefinitionListsBothCommands(t *testing.T) {
	sw := NewSwitch("led", func(bool) error { return nil })
	var names []string
	if err := json.Unmarshal(sw.CommandsDefinition(), &names); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("commands = %v, want 2 entries", names)
	}
}

func TestIdentityAndCapabilitiesRoundTrip(t *testing.T) {
	sw := NewSwitch("led", func(bool) error { return nil })
	if sw.Identity() != "led" {
		t.Errorf("Identity() = %q, want led", sw.Identity())
	}
	if !sw.Capabilities().Enable {
		t.Error("default capabilities should be enabled")
	}
	sw.SetCapabilities(device.ActuatorCapabilities{Enable: false})
	if sw.Capabilities().Enable {
		t.Error("SetCapabilities did not take effect")
	}
}
