// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"errors"
	"strconv"
	"time"
)

var (
	// ErrInvalidState is returned by Submit for a Hold or Release request
	// while the motor is not idle.
	ErrInvalidState = errors.New("stepper: invalid state")

	// ErrQueueFull is returned by Submit when the move queue has no room.
	ErrQueueFull = errors.New("stepper: queue full")

	// ErrInvalidArgument is returned for a move that cannot be turned into a
	// plan, or for an invalid setting.
	ErrInvalidArgument = errors.New("stepper: invalid argument")
)

// MoveType selects what a Move does.
type MoveType uint8

const (
	// Fixed rotates by Move.Degrees at Move.RPM, following a ramp.
	Fixed MoveType = iota
	// Free runs at the start speed until the limit switch triggers.
	Free
	// Stop empties the queue and ends the current move.
	Stop
	// Hold energizes the power stage of an idle motor.
	Hold
	// Release de-energizes the power stage of an idle motor.
	Release
)

func (t MoveType) String() string {
	switch t {
	case Fixed:
		return "FIXED"
	case Free:
		return "FREE"
	case Stop:
		return "STOP"
	case Hold:
		return "HOLD"
	case Release:
		return "RELEASE"
	}
	return "MoveType(" + strconv.Itoa(int(t)) + ")"
}

// EndAction is what the power stage does once a move completes.
type EndAction uint8

const (
	// Coast disables the power stage; the rotor turns freely.
	Coast EndAction = iota
	// HoldTorque keeps the power stage enabled.
	HoldTorque
)

func (a EndAction) String() string {
	switch a {
	case Coast:
		return "COAST"
	case HoldTorque:
		return "HOLD"
	}
	return "EndAction(" + strconv.Itoa(int(a)) + ")"
}

// Move is a motion request.
type Move struct {
	// Degrees to rotate; the sign sets the direction, positive is clockwise.
	// Free only uses the sign.
	Degrees int32
	// RPM is the average speed of a Fixed move.
	RPM uint32
	// Delay is waited after the move is dequeued and before it starts.
	Delay time.Duration
	// EndAction applies once the move completes.
	EndAction EndAction
	Type      MoveType
}

// State is the state of the motion task.
type State uint32

const (
	// Idle means no move is running.
	Idle State = iota
	// Delayed means a dequeued move waits for its Delay.
	Delayed
	// Started means the hardware is generating steps.
	Started
	// Errored means the hardware failed to start or stop a move. It stays
	// until a Fixed, Free or Stop request is accepted.
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Delayed:
		return "DELAYED"
	case Started:
		return "STARTED"
	case Errored:
		return "ERRORED"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Waker is the only thing interrupt sources may touch.
//
// Wake must not block, allocate or log. Multiple calls before the task runs
// collapse into one.
type Waker interface {
	Wake()
}
