// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// errorHandler runs a sequence of pin operations and stops at the first
// failure.
type errorHandler struct {
	clock clockwork.Clock
	err   error
}

func (eh *errorHandler) out(p gpio.PinOut, l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = p.Out(l)
}

func (eh *errorHandler) pwm(p gpio.PinOut, duty gpio.Duty, f physic.Frequency) {
	if eh.err != nil {
		return
	}
	eh.err = p.PWM(duty, f)
}

func (eh *errorHandler) do(f func() error) {
	if eh.err != nil {
		return
	}
	eh.err = f()
}

func (eh *errorHandler) watch(c PulseCounter, n uint32) {
	if eh.err != nil {
		return
	}
	eh.err = c.SetWatch(n)
}

// sleep waits for a settle time unless a previous step failed.
func (eh *errorHandler) sleep(d time.Duration) {
	if eh.err != nil || d <= 0 {
		return
	}
	eh.clock.Sleep(d)
}
