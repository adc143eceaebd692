// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ramp computes velocity ramps for step/direction motor drivers.
//
// A ramp is described by a fixed Profile of relative pulse periods, starting
// at 1.0 (the safe start period) and decreasing toward a plateau. Given a
// base period, a duration and a step count, a Planner reweights the profile
// with a single shape parameter β so that the resulting list of Segment hits
// the requested step count in the requested time.
//
// For segment i the weight is p[i]^-β and the time spent in the segment is
// proportional to that weight. The estimated step count grows monotonically
// with β, so β is found by bisection.
package ramp
