// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/stepdrive/stepper/ramp"
	"github.com/edaniels/golog"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioutil"
	"periph.io/x/conn/v3/physic"
)

// Dev is a handle to a stepper motor driver chip.
//
// Apart from RegisterWaker and Halt, its methods are meant to be called from
// a single goroutine, the motion task run by a Coordinator.
type Dev struct {
	opts    Opts
	counter PulseCounter
	limit   gpio.PinIO
	clock   clockwork.Clock
	logger  golog.Logger

	// Shared with the watcher goroutines.
	waker      atomic.Pointer[Waker]
	limitArmed atomic.Bool

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup

	// Owned by the motion task.
	move     Move
	id       uint32
	active   bool
	segments []ramp.Segment
	index    int
}

// New powers up the driver chip and returns a Dev.
//
// counter must count the pulses generated on opts.Step. A nil logger uses
// golog.Global(). Any error is fatal: the pins are left in an unknown state.
func New(opts *Opts, counter PulseCounter, logger golog.Logger) (*Dev, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: a pulse counter is required", ErrInvalidArgument)
	}
	if logger == nil {
		logger = golog.Global()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &Dev{
		opts:    *opts,
		counter: counter,
		clock:   clock,
		logger:  logger,
		done:    make(chan struct{}),
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	d.wg.Add(1)
	go d.watchLimit()
	return d, nil
}

// init runs the power-up sequence of the chip.
//
// MODE0..3 are latched when STBY goes high, so standby must be held until
// they are stable, and Dir must not be driven before the latch settled when
// it shares the MODE3 pin.
func (d *Dev) init() error {
	o := &d.opts
	eh := errorHandler{clock: d.clock}
	eh.out(o.Standby, gpio.Low)
	eh.out(o.Enable, !o.EnableActive)
	for i, b := range o.StepMode.ModeBits() {
		eh.out(o.Mode[i], gpio.Level(b))
	}
	eh.sleep(o.ModeSettle)
	eh.out(o.Standby, gpio.High)
	eh.sleep(o.StandbySettle)
	eh.out(o.Dir, o.DirCW)
	if eh.err != nil {
		return fmt.Errorf("stepper: power-up sequence: %w", eh.err)
	}

	edge := gpio.FallingEdge
	if o.LimitActive == gpio.High {
		edge = gpio.RisingEdge
	}
	if err := o.Limit.In(o.LimitPull, edge); err != nil {
		return fmt.Errorf("stepper: limit switch: %w", err)
	}
	limit, err := gpioutil.Debounce(o.Limit, o.LimitDebounce, 0, edge)
	if err != nil {
		return fmt.Errorf("stepper: limit switch debounce: %w", err)
	}
	d.limit = limit

	eh.do(d.counter.Stop)
	eh.do(d.counter.Clear)
	eh.do(d.counter.ClearWatch)
	if eh.err != nil {
		return fmt.Errorf("stepper: pulse counter: %w", eh.err)
	}
	return nil
}

// watchLimit forwards limit switch edges to the waker while armed.
func (d *Dev) watchLimit() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		default:
		}
		if d.limit.WaitForEdge(edgePoll) && d.limitArmed.Load() && d.limit.Read() == d.opts.LimitActive {
			d.wake()
		}
	}
}

func (d *Dev) wake() {
	if w := d.waker.Load(); w != nil {
		(*w).Wake()
	}
}

// RegisterWaker binds the pulse counter and the limit switch to w.
//
// It is called once, before the first move.
func (d *Dev) RegisterWaker(w Waker) {
	d.waker.Store(&w)
	d.counter.SetWaker(w)
}

// Plan returns the segments StartMove would program for a Fixed move.
func (d *Dev) Plan(mv Move) ([]ramp.Segment, error) {
	if mv.Type != Fixed {
		return nil, fmt.Errorf("%w: %s moves are not planned", ErrInvalidArgument, mv.Type)
	}
	if mv.RPM == 0 {
		return nil, fmt.Errorf("%w: rpm must be positive", ErrInvalidArgument)
	}
	deg := math.Abs(float64(mv.Degrees))
	factor := d.opts.StepMode.Factor()
	steps := math.Round(deg * float64(d.opts.StepsPerRev) * float64(factor) / 360)
	if steps < 1 || steps > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d° is %.0f steps", ErrInvalidArgument, mv.Degrees, steps)
	}
	total := time.Duration(deg / (6 * float64(mv.RPM)) * float64(time.Second))
	segs, err := ramp.Plan(d.basePeriod(), total, uint32(steps), d.opts.Profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %d° at %d rpm: %w", ErrInvalidArgument, mv.Degrees, mv.RPM, err)
	}
	// Near the fast end the start segment rounds to nothing. The motor must
	// still leave standstill at the base period, so it keeps one step.
	if segs[0].Steps == 0 {
		segs[0].Steps = 1
	}
	return segs, nil
}

// StartMove programs the hardware for mv and starts generating steps.
//
// A Fixed move runs its first ramp segment with a counter watch point at the
// segment's step count. A Free move runs at the base period with the limit
// switch armed.
func (d *Dev) StartMove(mv Move, id uint32) error {
	var segs []ramp.Segment
	switch mv.Type {
	case Fixed:
		all, err := d.Plan(mv)
		if err != nil {
			return err
		}
		// Plan keeps the start segment, so periods still begin at the
		// base period.
		for _, s := range all {
			if s.Steps != 0 {
				segs = append(segs, s)
			}
		}
		if len(segs) == 0 {
			return fmt.Errorf("%w: empty plan for %d°", ErrInvalidArgument, mv.Degrees)
		}
	case Free:
	default:
		return fmt.Errorf("%w: cannot start a %s move", ErrInvalidArgument, mv.Type)
	}
	d.move = mv
	d.id = id
	d.active = true
	d.segments = segs
	d.index = 0

	eh := errorHandler{clock: d.clock}
	eh.out(d.opts.Dir, d.dirLevel(mv.Degrees))
	period := d.basePeriod()
	if mv.Type == Fixed {
		period = segs[0].Period
		eh.do(d.counter.Stop)
		eh.do(d.counter.Clear)
		eh.watch(d.counter, segs[0].Steps)
		eh.do(d.counter.Start)
	} else {
		d.limitArmed.Store(true)
	}
	eh.out(d.opts.Enable, d.opts.EnableActive)
	eh.pwm(d.opts.Step, d.opts.StepDuty, physic.PeriodToFrequency(period))
	if eh.err != nil {
		return fmt.Errorf("stepper: starting move #%d: %w", id, eh.err)
	}
	if mv.Type == Free {
		// No edge will come if the switch is already pressed.
		if d.limit.Read() == d.opts.LimitActive {
			d.wake()
		}
		d.logger.Debugf("move #%d: free run, %d° direction, period %s", id, mv.Degrees, period)
		return nil
	}
	d.logger.Debugf("move #%d: %d° at %d rpm, %d steps over %d segments, %s", id, mv.Degrees, mv.RPM,
		ramp.TotalSteps(segs), len(segs), ramp.Duration(segs))
	return nil
}

// NextSegment switches to the next ramp segment of a Fixed move.
//
// It returns true, without touching the hardware, when the last segment is
// complete.
func (d *Dev) NextSegment() (bool, error) {
	if !d.active || d.move.Type != Fixed || d.index+1 >= len(d.segments) {
		return true, nil
	}
	d.index++
	seg := d.segments[d.index]
	eh := errorHandler{clock: d.clock}
	eh.out(d.opts.Step, gpio.Low)
	eh.do(d.counter.Stop)
	eh.do(d.counter.Clear)
	eh.watch(d.counter, seg.Steps)
	eh.do(d.counter.Start)
	eh.pwm(d.opts.Step, d.opts.StepDuty, physic.PeriodToFrequency(seg.Period))
	if eh.err != nil {
		return false, fmt.Errorf("stepper: move #%d segment %d: %w", d.id, d.index, eh.err)
	}
	return false, nil
}

// StopMove silences the step line and tears down the current move.
//
// It can be called any number of times. The power stage stays enabled unless
// the move's EndAction is Coast.
func (d *Dev) StopMove() error {
	err := d.opts.Step.Out(gpio.Low)
	if !d.active {
		return err
	}
	d.active = false
	if d.move.EndAction == Coast {
		err = multierr.Append(err, d.enable(false))
	}
	switch d.move.Type {
	case Fixed:
		err = multierr.Append(err, d.counter.Stop())
		err = multierr.Append(err, d.counter.ClearWatch())
	case Free:
		d.limitArmed.Store(false)
	}
	d.segments = nil
	if err != nil {
		return fmt.Errorf("stepper: stopping move #%d: %w", d.id, err)
	}
	return nil
}

// HoldOrRelease turns the power stage on or off. It doesn't touch the step
// line nor the counter.
func (d *Dev) HoldOrRelease(hold bool) error {
	return d.enable(hold)
}

func (d *Dev) enable(on bool) error {
	l := d.opts.EnableActive
	if !on {
		l = !l
	}
	return d.opts.Enable.Out(l)
}

func (d *Dev) dirLevel(degrees int32) gpio.Level {
	if degrees >= 0 {
		return d.opts.DirCW
	}
	return !d.opts.DirCW
}

// basePeriod is the start period at the current step mode.
func (d *Dev) basePeriod() time.Duration {
	return d.opts.BasePeriod / time.Duration(d.opts.StepMode.Factor())
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return fmt.Sprintf("stepper{%s, %s}", d.opts.StepMode, d.counter)
}

// Halt implements conn.Resource.
//
// It stops the step line, disables the power stage and releases the watcher
// goroutines. It must not be called while a Coordinator is running.
func (d *Dev) Halt() error {
	err := errors.New("stepper: already halted")
	d.once.Do(func() {
		close(d.done)
		d.limitArmed.Store(false)
		d.active = false
		err = multierr.Combine(
			d.opts.Step.Out(gpio.Low),
			d.enable(false),
			d.counter.Halt(),
		)
	})
	d.wg.Wait()
	return err
}

var _ conn.Resource = &Dev{}
