// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"fmt"
)

// StepMode describes how many microsteps add up to one full step.
//
// The value is the MODE3..MODE0 bit pattern latched by the driver chip when
// standby is released. MODE3 is always set: it selects the fixed clock-in
// modes, and doubles as the CW/CCW input once the chip is running.
type StepMode uint8

const (
	// StepModeFull is 1 microstep per step.
	StepModeFull StepMode = 0b1000
	// StepModeHalf is 2 microsteps per step.
	StepModeHalf StepMode = 0b1001
	// StepMode4 is 4 microsteps per step.
	StepMode4 StepMode = 0b1010
	// StepMode8 is 8 microsteps per step.
	StepMode8 StepMode = 0b1011
	// StepMode16 is 16 microsteps per step.
	StepMode16 StepMode = 0b1100
	// StepMode32 is 32 microsteps per step.
	StepMode32 StepMode = 0b1101
	// StepMode64 is 64 microsteps per step.
	StepMode64 StepMode = 0b1110
	// StepMode128 is 128 microsteps per step.
	StepMode128 StepMode = 0b1111
)

const modeFixed = 0b1000

// Valid returns true if m is one of the known step modes.
func (m StepMode) Valid() bool {
	return m&modeFixed != 0 && m <= StepMode128
}

// Factor returns the number of microsteps per full step.
//
// It returns 0 for an invalid mode.
func (m StepMode) Factor() uint16 {
	if !m.Valid() {
		return 0
	}
	return 1 << (m &^ modeFixed)
}

// ModeBits returns the level of MODE0..MODE3, in that order.
func (m StepMode) ModeBits() [4]bool {
	return [4]bool{m&1 != 0, m&2 != 0, m&4 != 0, m&8 != 0}
}

func (m StepMode) String() string {
	switch m {
	case StepModeFull:
		return "Full"
	case StepModeHalf:
		return "1/2"
	case StepMode4, StepMode8, StepMode16, StepMode32, StepMode64, StepMode128:
		return fmt.Sprintf("1/%d", m.Factor())
	}
	return fmt.Sprintf("StepMode(%#b)", uint8(m))
}

// StepModeFromFactor returns the StepMode for a number of microsteps per full
// step.
func StepModeFromFactor(factor uint16) (StepMode, error) {
	for m := StepModeFull; m <= StepMode128; m++ {
		if m.Factor() == factor {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: no step mode with factor %d", ErrInvalidArgument, factor)
}

// StepModeFromBits returns the StepMode latched from MODE0..MODE3 levels.
func StepModeFromBits(bits [4]bool) (StepMode, error) {
	var m StepMode
	for i, b := range bits {
		if b {
			m |= 1 << i
		}
	}
	if !m.Valid() {
		return 0, fmt.Errorf("%w: mode bits %#04b", ErrInvalidArgument, uint8(m))
	}
	return m, nil
}
