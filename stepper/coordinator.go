// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GermanBionicSystems/stepdrive/stepper/ramp"
	"github.com/edaniels/golog"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
)

// Driver is the hardware side of a Coordinator. *Dev implements it.
type Driver interface {
	RegisterWaker(w Waker)
	StartMove(mv Move, id uint32) error
	NextSegment() (bool, error)
	StopMove() error
	HoldOrRelease(hold bool) error
	Plan(mv Move) ([]ramp.Segment, error)
}

type queuedCmd struct {
	move Move
	id   uint32
}

// Coordinator queues motion requests and runs them one at a time on a
// Driver.
//
// Submit, State, ResetQueue and Len are safe for concurrent use. Run is the
// motion task; it must be called once.
type Coordinator struct {
	d       Driver
	clock   clockwork.Clock
	logger  golog.Logger
	depth   int
	backoff Move

	state atomic.Uint32
	stop  atomic.Bool
	wake  chan struct{}

	// hw serializes the Driver between the motion task and Hold/Release.
	// It is taken before qmu when both are needed.
	hw sync.Mutex

	qmu      sync.Mutex
	queue    []queuedCmd
	inflight bool
	nextID   uint32
	ready    chan struct{}
}

// NewCoordinator returns a Coordinator driving d and registers it as d's
// wake target.
//
// Only the queue settings and Clock of opts are used. A nil logger uses
// golog.Global().
func NewCoordinator(d Driver, opts *Opts, logger golog.Logger) (*Coordinator, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: a driver is required", ErrInvalidArgument)
	}
	if err := opts.validateQueue(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = golog.Global()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Coordinator{
		d:      d,
		clock:  clock,
		logger: logger,
		depth:  opts.QueueDepth,
		backoff: Move{
			Degrees:   opts.BackoffDegrees,
			RPM:       opts.BackoffRPM,
			EndAction: HoldTorque,
			Type:      Fixed,
		},
		wake:  make(chan struct{}, 1),
		ready: make(chan struct{}, 1),
	}
	d.RegisterWaker(c)
	return c, nil
}

// Wake implements Waker.
//
// It is called by the pulse counter and the limit switch watcher.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// State returns the state of the motion task.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Len returns the number of moves waiting to start.
func (c *Coordinator) Len() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

// ResetQueue drops every move waiting to start.
//
// A started move keeps running and an Errored state is kept.
func (c *Coordinator) ResetQueue() {
	c.qmu.Lock()
	n := len(c.queue)
	c.queue = nil
	c.qmu.Unlock()
	if n != 0 {
		c.logger.Debugf("dropped %d queued moves", n)
	}
}

// Validate returns an error if mv would be rejected by Submit or fail to
// start.
func (c *Coordinator) Validate(mv Move) error {
	switch mv.Type {
	case Fixed:
		_, err := c.d.Plan(mv)
		return err
	case Free:
		_, err := c.d.Plan(c.backoffFor(mv))
		return err
	case Stop, Hold, Release:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, mv.Type)
}

// Submit hands a request to the motion task.
//
// Fixed and Free moves are queued; a Free move is followed by a Fixed back off
// move in the opposite direction and both need room in the queue. Stop empties
// the queue and ends the current move. Hold and Release act immediately and
// are only accepted while Idle.
//
// Submit never waits for the queue to drain.
func (c *Coordinator) Submit(mv Move) error {
	switch mv.Type {
	case Fixed:
		return c.enqueue(mv)
	case Free:
		return c.enqueue(mv, c.backoffFor(mv))
	case Stop:
		c.qmu.Lock()
		n := len(c.queue)
		c.queue = nil
		if c.inflight {
			c.stop.Store(true)
			c.Wake()
		}
		c.clearError()
		c.qmu.Unlock()
		c.logger.Debugf("stop requested, dropped %d queued moves", n)
		return nil
	case Hold, Release:
		c.hw.Lock()
		defer c.hw.Unlock()
		if s := c.State(); s != Idle {
			return fmt.Errorf("%w: %s while %s", ErrInvalidState, mv.Type, s)
		}
		// A dequeued move is only published once it holds hw.
		c.qmu.Lock()
		busy := c.inflight
		c.qmu.Unlock()
		if busy {
			return fmt.Errorf("%w: %s while a move is starting", ErrInvalidState, mv.Type)
		}
		return c.d.HoldOrRelease(mv.Type == Hold)
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, mv.Type)
}

func (c *Coordinator) backoffFor(mv Move) Move {
	b := c.backoff
	if mv.Degrees >= 0 {
		b.Degrees = -b.Degrees
	}
	return b
}

func (c *Coordinator) enqueue(mvs ...Move) error {
	c.qmu.Lock()
	if len(c.queue)+len(mvs) > c.depth {
		c.qmu.Unlock()
		return fmt.Errorf("%w: %d/%d queued, %s needs %d", ErrQueueFull, len(c.queue), c.depth, mvs[0].Type, len(mvs))
	}
	first := c.nextID
	for _, mv := range mvs {
		c.queue = append(c.queue, queuedCmd{move: mv, id: c.nextID})
		c.nextID++
	}
	c.clearError()
	c.qmu.Unlock()
	select {
	case c.ready <- struct{}{}:
	default:
	}
	c.logger.Debugf("queued move #%d: %s %d° at %d rpm", first, mvs[0].Type, mvs[0].Degrees, mvs[0].RPM)
	return nil
}

// clearError must be called with qmu held.
func (c *Coordinator) clearError() {
	if c.state.CompareAndSwap(uint32(Errored), uint32(Idle)) {
		select {
		case c.ready <- struct{}{}:
		default:
		}
	}
}

// Run is the motion task. It returns ctx.Err() once ctx is done, after
// stopping the move in progress.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		cmd, err := c.next(ctx)
		if err != nil {
			return err
		}
		err = c.execute(ctx, cmd)
		c.qmu.Lock()
		c.inflight = false
		c.stop.Store(false)
		c.qmu.Unlock()
		if err != nil {
			return err
		}
	}
}

// next blocks until a move can be dequeued.
func (c *Coordinator) next(ctx context.Context) (queuedCmd, error) {
	for {
		c.qmu.Lock()
		if len(c.queue) != 0 && c.State() != Errored {
			cmd := c.queue[0]
			c.queue = c.queue[1:]
			c.inflight = true
			c.stop.Store(false)
			// Stale wakes belong to the previous move.
			select {
			case <-c.wake:
			default:
			}
			c.qmu.Unlock()
			return cmd, nil
		}
		c.qmu.Unlock()
		select {
		case <-c.ready:
		case <-ctx.Done():
			return queuedCmd{}, ctx.Err()
		}
	}
}

// execute runs one move to completion. It only returns an error when ctx is
// done.
func (c *Coordinator) execute(ctx context.Context, cmd queuedCmd) error {
	mv := cmd.move
	if mv.Delay > 0 {
		c.setState(Delayed)
		c.logger.Debugf("move #%d: waiting %s", cmd.id, mv.Delay)
		if err := c.delay(ctx, mv); err != nil {
			c.setState(Idle)
			return err
		}
		if c.stop.Load() {
			c.setState(Idle)
			c.logger.Infof("move #%d: cancelled before start", cmd.id)
			return nil
		}
	}

	c.hw.Lock()
	if err := c.d.StartMove(mv, cmd.id); err != nil {
		err = multierr.Append(err, c.d.StopMove())
		c.state.Store(uint32(Errored))
		c.hw.Unlock()
		c.logger.Warnf("move #%d: failed to start %s %d°: %v", cmd.id, mv.Type, mv.Degrees, err)
		return nil
	}
	c.state.Store(uint32(Started))
	c.hw.Unlock()
	c.logger.Debugf("move #%d: started %s %d°", cmd.id, mv.Type, mv.Degrees)

	for {
		select {
		case <-c.wake:
		case <-ctx.Done():
			c.finish(cmd, nil)
			return ctx.Err()
		}
		if c.stop.Load() || mv.Type != Fixed {
			break
		}
		c.hw.Lock()
		done, err := c.d.NextSegment()
		c.hw.Unlock()
		if err != nil {
			c.finish(cmd, err)
			return nil
		}
		if done {
			break
		}
	}
	c.finish(cmd, nil)
	return nil
}

func (c *Coordinator) delay(ctx context.Context, mv Move) error {
	t := c.clock.NewTimer(mv.Delay)
	defer t.Stop()
	for {
		select {
		case <-t.Chan():
			return nil
		case <-c.wake:
			if c.stop.Load() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finish stops the hardware. cause is a failure that already happened during
// the move.
func (c *Coordinator) finish(cmd queuedCmd, cause error) {
	c.hw.Lock()
	err := multierr.Append(cause, c.d.StopMove())
	if err != nil {
		c.state.Store(uint32(Errored))
	} else {
		c.state.Store(uint32(Idle))
	}
	c.hw.Unlock()
	if err != nil {
		c.logger.Warnf("move #%d: %v", cmd.id, err)
		return
	}
	c.logger.Debugf("move #%d: done", cmd.id)
}

func (c *Coordinator) setState(s State) {
	c.hw.Lock()
	c.state.Store(uint32(s))
	c.hw.Unlock()
}

var _ Waker = &Coordinator{}
