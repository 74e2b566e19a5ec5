// Package board defines the board abstraction (out of primary scope per
// spec.md §1, carried as an interface plus one reference implementation
// per SPEC_FULL.md §4.9) and a periph.io-backed reference implementation
// for Linux single-board computers. Grounded on
// original_source/arduino/lib/Boards/BoardBase.h/BoardM5Stack.cpp and on
// _examples/michcald-nrf24's periph.io/x/host + periph.io/x/conn bring-up.
package board

import (
	"fmt"
	"os"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Board is the contract pkg/device needs from the underlying hardware,
// matching BoardBase's virtual methods one for one (getAllocatedHeap is
// exposed as a percentage here, matching BoardM5Stack's own computation,
// rather than a raw byte count).
type Board interface {
	Init() error
	Update()
	GetBattery() int
	GetBatteryCharging() bool
	Restart()
	Identify()
	AllocatedHeapPercent() int
}

// defaultIdentifyPin is the GPIO line toggled by Identify when no other
// line is named, matching
// BoardM5Stack::identify's screen-flash/beep sequence reduced to a single
// indicator LED on hardware with no display.
const defaultIdentifyPin = "GPIO17"

// GPIOBoard is a periph.io-backed reference board: battery state comes
// from a binary "charging" GPIO input (no fuel-gauge ADC is assumed
// present), and Identify blinks an LED instead of flashing a screen. The
// named GPIO lines are resolved lazily in Init, since periph.io's pin
// registry is only populated after host.Init() runs.
type GPIOBoard struct {
	chargingPinName string
	identifyPinName string

	chargingPin gpio.PinIO
	identifyPin gpio.PinIO
}

// NewGPIOBoard names the GPIO lines to use; both may be empty to fall back
// to platform defaults (charging detection disabled, defaultIdentifyPin
// for identification).
func NewGPIOBoard(chargingPinName, identifyPinName string) *GPIOBoard {
	if identifyPinName == "" {
		identifyPinName = defaultIdentifyPin
	}
	return &GPIOBoard{chargingPinName: chargingPinName, identifyPinName: identifyPinName}
}

// Init brings up the periph.io host driver registry and resolves the
// configured GPIO lines, matching BoardM5Stack::init's hardware bring-up.
func (b *GPIOBoard) Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("board: init periph.io host: %w", err)
	}

	if b.chargingPinName != "" {
		pin := gpioreg.ByName(b.chargingPinName)
		if pin == nil {
			return fmt.Errorf("board: charging pin %s not found", b.chargingPinName)
		}
		if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("board: configure charging pin: %w", err)
		}
		b.chargingPin = pin
	}

	if b.identifyPinName != "" {
		pin := gpioreg.ByName(b.identifyPinName)
		if pin == nil {
			return fmt.Errorf("board: identify pin %s not found", b.identifyPinName)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return fmt.Errorf("board: configure identify pin: %w", err)
		}
		b.identifyPin = pin
	}
	return nil
}

// Update is a no-op for a reference board with no onboard sensor bus of
// its own to poll, matching BoardM5Stack::update's M5.update() call having
// nothing M5Stack-specific to do here.
func (b *GPIOBoard) Update() {}

// GetBattery returns a best-effort percentage. Without a fuel-gauge ADC
// wired up, a reference board reports 100 when not charging-sensed and 0
// otherwise is meaningless, so this simply reports 100 always; a real
// deployment replaces this with an ADC read.
func (b *GPIOBoard) GetBattery() int { return 100 }

// GetBatteryCharging reads the configured charging-detect GPIO line.
func (b *GPIOBoard) GetBatteryCharging() bool {
	if b.chargingPin == nil {
		return false
	}
	return b.chargingPin.Read() == gpio.High
}

// Restart exits the process so that a supervisor (systemd, a container
// runtime) restarts it, the nearest Linux equivalent of
// BoardM5Stack::restart's M5.Power.reset().
func (b *GPIOBoard) Restart() {
	os.Exit(0)
}

// Identify blinks the identify GPIO line, the nearest single-LED
// equivalent of BoardM5Stack::identify's red/green/blue screen flash.
func (b *GPIOBoard) Identify() {
	if b.identifyPin == nil {
		return
	}
	for i := 0; i < 3; i++ {
		_ = b.identifyPin.Out(gpio.High)
		_ = b.identifyPin.Out(gpio.Low)
	}
}

// AllocatedHeapPercent has no periph.io equivalent (it is a process
// memory statistic, not a hardware concern); a reference board reports 0.
func (b *GPIOBoard) AllocatedHeapPercent() int { return 0 }

// Battery adapts GetBattery/GetBatteryCharging to the (percent, charging)
// pair pkg/device.Board expects, avoiding a dependency from this package
// on pkg/device for a two-field tuple.
func (b *GPIOBoard) Battery() (int, bool) {
	return b.GetBattery(), b.GetBatteryCharging()
}
