// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stepdrive is a container for the stepper motor drive packages.
//
// See package stepper for the driver and the motion queue, and package
// stepper/ramp for the velocity ramp planner.
package stepdrive
