// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stepper_test

import (
	"context"
	"log"
	"time"

	"github.com/GermanBionicSystems/stepdrive/stepper"
	"github.com/edaniels/golog"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	logger := golog.NewDevelopmentLogger("stepper")

	// MODE3 doubles as CW/CCW once the chip left standby, so Dir is left
	// empty.
	names := stepper.PinNames{
		Standby: "GPIO5",
		Enable:  "GPIO6",
		Mode:    [4]string{"GPIO16", "GPIO20", "GPIO21", "GPIO26"},
		Step:    "GPIO12",
		Limit:   "GPIO17",
	}
	opts, err := names.Opts(&stepper.DefaultOpts)
	if err != nil {
		log.Fatal(err)
	}

	// The step line is looped back to GPIO13 to count the pulses.
	counter, err := stepper.NewEdgeCounter(gpioreg.ByName("GPIO13"))
	if err != nil {
		log.Fatal(err)
	}
	dev, err := stepper.New(opts, counter, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	c, err := stepper.NewCoordinator(dev, opts, logger)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	// The motion task must be gone before dev.Halt() runs.
	defer func() {
		cancel()
		<-done
	}()

	// Home against the limit switch, then do half a turn.
	if err := c.Submit(stepper.Move{Degrees: -1, Type: stepper.Free, EndAction: stepper.HoldTorque}); err != nil {
		log.Fatal(err)
	}
	mv := stepper.Move{Degrees: 180, RPM: 30, Delay: time.Second, Type: stepper.Fixed}
	if err := c.Validate(mv); err != nil {
		log.Printf("%v, using 60 rpm", err)
		mv.RPM = 60
	}
	if err := c.Submit(mv); err != nil {
		log.Fatal(err)
	}

	for c.Len() != 0 || c.State() != stepper.Idle {
		select {
		case <-ctx.Done():
			_ = c.Submit(stepper.Move{Type: stepper.Stop})
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	log.Printf("%s: done", dev)
}
