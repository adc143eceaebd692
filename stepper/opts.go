// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/stepdrive/stepper/ramp"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Opts holds the wiring and tuning of a motor.
type Opts struct {
	// Standby is the active low STBY input of the driver chip.
	Standby gpio.PinOut
	// Enable drives the power stage enable input.
	Enable gpio.PinOut
	// Mode are MODE0..MODE3. On chips where MODE3 becomes CW/CCW after
	// standby is released, pass the same pin as Dir.
	Mode [4]gpio.PinOut
	// Dir drives the rotation direction.
	Dir gpio.PinOut
	// Step carries the step pulses. It must support PWM.
	Step gpio.PinOut
	// Limit is the limit switch input ending Free moves.
	Limit gpio.PinIO

	// EnableActive is the level turning the power stage on.
	EnableActive gpio.Level
	// DirCW is the Dir level for positive degrees.
	DirCW gpio.Level
	// LimitActive is the level read while the limit switch is pressed.
	LimitActive gpio.Level
	// LimitPull is the pull applied on the limit switch input.
	LimitPull gpio.Pull
	// LimitDebounce filters glitches on the limit switch input. 0 disables
	// filtering.
	LimitDebounce time.Duration

	StepMode StepMode
	// StepsPerRev is the number of full steps per revolution of the motor.
	StepsPerRev uint32
	// BasePeriod is the full step period the motor can safely start at. It is
	// divided by the microstep factor.
	BasePeriod time.Duration
	// StepDuty is the high time of each step pulse.
	StepDuty gpio.Duty
	// Profile is the ramp used for Fixed moves.
	Profile ramp.Profile

	// ModeSettle is waited between latching MODE0..3 and releasing standby.
	ModeSettle time.Duration
	// StandbySettle is waited between releasing standby and driving Dir.
	StandbySettle time.Duration

	// QueueDepth is the number of moves waiting to start. It must be at least
	// 2 so a Free move fits with its back off move.
	QueueDepth int
	// BackoffDegrees and BackoffRPM describe the Fixed move queued after each
	// Free move, in the opposite direction.
	BackoffDegrees int32
	BackoffRPM     uint32

	// Clock times move delays and the power-up settle waits. nil means the
	// real clock.
	Clock clockwork.Clock
}

// DefaultOpts is the tuning for a 200 steps/rev motor at 1/8 microstepping.
//
// Copy it and fill in the pins.
var DefaultOpts = Opts{
	EnableActive:   gpio.High,
	DirCW:          gpio.High,
	LimitActive:    gpio.Low,
	LimitPull:      gpio.PullUp,
	LimitDebounce:  2 * time.Millisecond,
	StepMode:       StepMode8,
	StepsPerRev:    200,
	BasePeriod:     8 * time.Millisecond,
	StepDuty:       gpio.DutyMax / 8,
	Profile:        ramp.DefaultProfile,
	ModeSettle:     100 * time.Microsecond,
	StandbySettle:  200 * time.Microsecond,
	QueueDepth:     8,
	BackoffDegrees: 180,
	BackoffRPM:     60,
}

// Validate checks the wiring and the tuning.
func (o *Opts) Validate() error {
	pins := []struct {
		name string
		p    any
	}{
		{"Standby", o.Standby},
		{"Enable", o.Enable},
		{"Mode0", o.Mode[0]},
		{"Mode1", o.Mode[1]},
		{"Mode2", o.Mode[2]},
		{"Mode3", o.Mode[3]},
		{"Dir", o.Dir},
		{"Step", o.Step},
		{"Limit", o.Limit},
	}
	for _, p := range pins {
		if p.p == nil {
			return fmt.Errorf("%w: pin %s is required", ErrInvalidArgument, p.name)
		}
	}
	if !o.StepMode.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, o.StepMode)
	}
	if o.StepsPerRev == 0 {
		return fmt.Errorf("%w: StepsPerRev must be positive", ErrInvalidArgument)
	}
	if o.BasePeriod < time.Duration(o.StepMode.Factor())*time.Microsecond {
		return fmt.Errorf("%w: BasePeriod %s is too short for %s stepping", ErrInvalidArgument, o.BasePeriod, o.StepMode)
	}
	if o.StepDuty <= 0 || o.StepDuty >= gpio.DutyMax {
		return fmt.Errorf("%w: StepDuty %s", ErrInvalidArgument, o.StepDuty)
	}
	if len(o.Profile) == 0 {
		return fmt.Errorf("%w: empty Profile", ErrInvalidArgument)
	}
	return o.validateQueue()
}

func (o *Opts) validateQueue() error {
	if o.QueueDepth < 2 {
		return fmt.Errorf("%w: QueueDepth %d, need at least 2", ErrInvalidArgument, o.QueueDepth)
	}
	if o.BackoffRPM == 0 {
		return fmt.Errorf("%w: BackoffRPM must be positive", ErrInvalidArgument)
	}
	return nil
}

// PinNames names the pins of a motor in gpioreg.
type PinNames struct {
	Standby string
	Enable  string
	Mode    [4]string
	// Dir may be empty to use Mode[3].
	Dir   string
	Step  string
	Limit string
}

// Opts returns a copy of base with the pins looked up in gpioreg.
func (n *PinNames) Opts(base *Opts) (*Opts, error) {
	o := *base
	var err error
	lookup := func(name string) gpio.PinIO {
		if err != nil {
			return nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			err = fmt.Errorf("%w: no pin named %q", ErrInvalidArgument, name)
		}
		return p
	}
	o.Standby = lookup(n.Standby)
	o.Enable = lookup(n.Enable)
	for i, name := range n.Mode {
		o.Mode[i] = lookup(name)
	}
	if n.Dir == "" {
		o.Dir = o.Mode[3]
	} else {
		o.Dir = lookup(n.Dir)
	}
	o.Step = lookup(n.Step)
	o.Limit = lookup(n.Limit)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
