// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ramp

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// BetaLow and BetaHigh bound the bisection search for β.
	BetaLow  = -10.0
	BetaHigh = +10.0

	// MaxIterations caps the bisection.
	MaxIterations = 100

	// Tolerance is the accepted residual, in steps, between the estimate and
	// the requested step count.
	Tolerance = 1e-5
)

var (
	// ErrInfeasible is returned when no β can fit the requested step count
	// into the requested duration with the profile.
	ErrInfeasible = errors.New("ramp: infeasible plan")

	// ErrInvalidProfile is returned for an empty, non-positive or increasing
	// profile.
	ErrInvalidProfile = errors.New("ramp: invalid profile")
)

// Profile is a list of relative pulse periods. The first entry is the slowest
// (safest) one; the following entries must not increase.
type Profile []float64

// DefaultProfile goes from 1.0 to 0.25 in 16 evenly spaced points.
var DefaultProfile = Profile{
	1, 0.95, 0.9, 0.85,
	0.8, 0.75, 0.7, 0.65,
	0.6, 0.55, 0.5, 0.45,
	0.4, 0.35, 0.3, 0.25,
}

// LinearProfile goes from 1.0 to 0.25 in 1/16 steps and holds the plateau for
// the last four points.
var LinearProfile = Profile{
	1, 0.9375, 0.875, 0.8125,
	0.75, 0.6875, 0.625, 0.5625,
	0.5, 0.4375, 0.375, 0.3125,
	0.25, 0.25, 0.25, 0.25,
}

// normalize returns a copy of p scaled so that its first entry is 1.
func (p Profile) normalize() (Profile, error) {
	if len(p) == 0 || p[0] <= 0 {
		return nil, ErrInvalidProfile
	}
	out := make(Profile, len(p))
	for i, v := range p {
		if v <= 0 || (i > 0 && v > p[i-1]) {
			return nil, fmt.Errorf("%w: entry %d is %g", ErrInvalidProfile, i, v)
		}
		out[i] = v / p[0]
	}
	return out, nil
}

// Segment is a run of pulses at one fixed period.
type Segment struct {
	// Steps is the number of pulses in the segment. Direction is not encoded
	// here.
	Steps uint32
	// Period is the pulse period, rounded to the microsecond.
	Period time.Duration
}

func (s Segment) String() string {
	return fmt.Sprintf("{%d steps @ %s}", s.Steps, s.Period)
}

// Planner fits a Profile to a step count and a duration.
type Planner struct {
	base    float64 // µs
	total   float64 // µs
	steps   uint32
	profile Profile
}

// New returns a Planner.
//
// base is the period matching p[0] of the profile, already scaled for the
// microstep factor. total is the requested duration of the whole move and
// steps the requested pulse count.
func New(base, total time.Duration, steps uint32, profile Profile) (*Planner, error) {
	if base <= 0 || total <= 0 || steps == 0 {
		return nil, fmt.Errorf("%w: base=%s total=%s steps=%d", ErrInfeasible, base, total, steps)
	}
	p, err := profile.normalize()
	if err != nil {
		return nil, err
	}
	return &Planner{
		base:    toMicros(base),
		total:   toMicros(total),
		steps:   steps,
		profile: p,
	}, nil
}

// Feasible reports whether a plan exists.
//
// The duration must lie between running every step at the plateau period and
// running every step at the start period, and the step estimate at both ends
// of the β interval must straddle the requested count.
func (p *Planner) Feasible() bool {
	s := float64(p.steps)
	if p.total < s*p.profile[len(p.profile)-1]*p.base {
		return false
	}
	if p.total > s*p.profile[0]*p.base {
		return false
	}
	fLo := p.EstimateSteps(BetaLow) - s
	fHi := p.EstimateSteps(BetaHigh) - s
	return fLo*fHi < 0
}

// weights returns p[i]^-β and their sum.
func (p *Planner) weights(beta float64) ([]float64, float64) {
	w := make([]float64, len(p.profile))
	sum := 0.
	for i, v := range p.profile {
		w[i] = math.Pow(v, -beta)
		sum += w[i]
	}
	return w, sum
}

// EstimateSteps returns the number of steps the plan would produce at β,
// before rounding.
func (p *Planner) EstimateSteps(beta float64) float64 {
	w, sum := p.weights(beta)
	steps := 0.
	for i, v := range p.profile {
		t := p.total * w[i] / sum
		steps += t / (v * p.base)
	}
	return steps
}

// Beta solves for the shape parameter by bisection.
//
// The result is only meaningful when Feasible returns true.
func (p *Planner) Beta() float64 {
	lo, hi := BetaLow, BetaHigh
	beta := 0.
	for i := 0; i < MaxIterations; i++ {
		beta = 0.5 * (lo + hi)
		f := p.EstimateSteps(beta) - float64(p.steps)
		if math.Abs(f) <= Tolerance {
			break
		}
		if f > 0 {
			hi = beta
		} else {
			lo = beta
		}
	}
	return beta
}

// Segments returns one Segment per profile entry.
//
// Periods are round(base·p[i]) and steps round(t[i]/period[i]), so the step
// total matches the request up to one step per segment.
func (p *Planner) Segments() ([]Segment, error) {
	if !p.Feasible() {
		return nil, fmt.Errorf("%w: %d steps in %.0fµs with base period %.0fµs", ErrInfeasible, p.steps, p.total, p.base)
	}
	w, sum := p.weights(p.Beta())
	out := make([]Segment, len(p.profile))
	for i, v := range p.profile {
		period := math.Round(p.base * v)
		if period < 1 {
			period = 1
		}
		t := p.total * w[i] / sum
		out[i] = Segment{
			Steps:  uint32(math.Round(t / period)),
			Period: time.Duration(period) * time.Microsecond,
		}
	}
	return out, nil
}

// Plan is a shorthand for New followed by Segments.
func Plan(base, total time.Duration, steps uint32, profile Profile) ([]Segment, error) {
	p, err := New(base, total, steps, profile)
	if err != nil {
		return nil, err
	}
	return p.Segments()
}

// TotalSteps sums the steps of a plan.
func TotalSteps(segs []Segment) uint64 {
	var n uint64
	for _, s := range segs {
		n += uint64(s.Steps)
	}
	return n
}

// Duration sums steps·period over a plan.
func Duration(segs []Segment) time.Duration {
	var d time.Duration
	for _, s := range segs {
		d += time.Duration(s.Steps) * s.Period
	}
	return d
}

func toMicros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
