// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stepper drives a microstepping stepper motor through a
// step/direction driver chip with standby, enable and MODE0..3 control lines,
// such as the Toshiba TB67S128FTG in clock-in mode.
//
// A Dev owns the pins: it runs the chip power-up sequence, generates step
// pulses with PWM on the step line, counts them with a PulseCounter and
// watches a limit switch. A Coordinator owns a bounded FIFO of Move requests
// and the motion task that feeds them to the Dev, one at a time.
//
// Bounded moves follow a velocity ramp computed by package ramp. Completion is
// detected by counting the actual step pulses, never by estimating elapsed
// time: the pulse counter and the limit switch only post a wake to the motion
// task, which then reprograms the hardware for the next segment or stops.
package stepper
