// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// PulseCounter counts the pulses on the step line.
//
// When the count reaches the watch point, the counter calls Wake on the
// Waker it was given. It must not do anything else from that context.
type PulseCounter interface {
	conn.Resource
	// SetWaker binds the wake target. It is called once, before any Start.
	SetWaker(w Waker)
	// Start and Stop gate counting.
	Start() error
	Stop() error
	// Clear resets the count to zero.
	Clear() error
	// SetWatch arms the watch point at n pulses. n must not be 0.
	SetWatch(n uint32) error
	// ClearWatch removes the watch point.
	ClearWatch() error
}

// edgePoll bounds how long watcher goroutines block in WaitForEdge so Halt
// can stop them.
const edgePoll = 50 * time.Millisecond

// EdgeCounter is a PulseCounter counting rising edges on an input pin.
//
// It is meant for hosts without a hardware counter: loop the step line back
// to an input with edge detection.
type EdgeCounter struct {
	pin gpio.PinIn

	count   atomic.Uint32
	watch   atomic.Uint32
	running atomic.Bool
	waker   atomic.Pointer[Waker]

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewEdgeCounter configures pin for rising edge detection and starts
// watching it.
func NewEdgeCounter(pin gpio.PinIn) (*EdgeCounter, error) {
	if pin == nil {
		return nil, errors.New("stepper: counter pin is required")
	}
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, err
	}
	e := &EdgeCounter{pin: pin, done: make(chan struct{})}
	e.wg.Add(1)
	go e.loop()
	return e, nil
}

func (e *EdgeCounter) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		default:
		}
		if !e.pin.WaitForEdge(edgePoll) || !e.running.Load() {
			continue
		}
		if e.count.Add(1) == e.watch.Load() {
			if w := e.waker.Load(); w != nil {
				(*w).Wake()
			}
		}
	}
}

// SetWaker implements PulseCounter.
func (e *EdgeCounter) SetWaker(w Waker) {
	e.waker.Store(&w)
}

// Start implements PulseCounter.
func (e *EdgeCounter) Start() error {
	e.running.Store(true)
	return nil
}

// Stop implements PulseCounter.
func (e *EdgeCounter) Stop() error {
	e.running.Store(false)
	return nil
}

// Clear implements PulseCounter.
func (e *EdgeCounter) Clear() error {
	e.count.Store(0)
	return nil
}

// SetWatch implements PulseCounter.
func (e *EdgeCounter) SetWatch(n uint32) error {
	if n == 0 {
		return errors.New("stepper: watch point must be positive")
	}
	e.watch.Store(n)
	return nil
}

// ClearWatch implements PulseCounter.
func (e *EdgeCounter) ClearWatch() error {
	e.watch.Store(0)
	return nil
}

// Count returns the number of pulses counted since the last Clear.
func (e *EdgeCounter) Count() uint32 {
	return e.count.Load()
}

// Halt implements conn.Resource.
//
// It stops the watcher goroutine; the counter can't be used afterward.
func (e *EdgeCounter) Halt() error {
	e.once.Do(func() {
		e.running.Store(false)
		close(e.done)
	})
	e.wg.Wait()
	return nil
}

func (e *EdgeCounter) String() string {
	return "EdgeCounter{" + e.pin.String() + "}"
}

var _ PulseCounter = &EdgeCounter{}
