// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ramp

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// moveTime is the duration of a rotation of deg degrees at rpm.
func moveTime(deg, rpm float64) time.Duration {
	return time.Duration(deg*1e6/rpm/6) * time.Microsecond
}

func TestSegments(t *testing.T) {
	for _, tc := range []struct {
		name    string
		base    time.Duration
		total   time.Duration
		steps   uint32
		profile Profile
	}{
		{
			// 180° at 60rpm, 1/8 microstepping, 8ms full-step start period.
			name:    "half turn eighth step",
			base:    1000 * time.Microsecond,
			total:   500 * time.Millisecond,
			steps:   800,
			profile: DefaultProfile,
		},
		{
			name:    "full turn quarter step",
			base:    2000 * time.Microsecond,
			total:   moveTime(360, 90),
			steps:   800,
			profile: DefaultProfile,
		},
		{
			name:    "linear profile",
			base:    1000 * time.Microsecond,
			total:   500 * time.Millisecond,
			steps:   800,
			profile: LinearProfile,
		},
		{
			name:    "quarter turn sixteenth step",
			base:    500 * time.Microsecond,
			total:   moveTime(90, 45),
			steps:   800,
			profile: DefaultProfile,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			segs, err := Plan(tc.base, tc.total, tc.steps, tc.profile)
			if err != nil {
				t.Fatal(err)
			}
			if len(segs) != len(tc.profile) {
				t.Fatalf("got %d segments, want %d", len(segs), len(tc.profile))
			}
			got := TotalSteps(segs)
			if diff := math.Abs(float64(got) - float64(tc.steps)); diff > float64(len(segs)) {
				t.Errorf("TotalSteps() = %d, want %d ± %d", got, tc.steps, len(segs))
			}
			// Each segment is off by at most half a pulse.
			var slack time.Duration
			for _, s := range segs {
				slack += s.Period / 2
			}
			if d := Duration(segs) - tc.total; d > slack || d < -slack {
				t.Errorf("Duration() = %s, want %s ± %s", Duration(segs), tc.total, slack)
			}
			start := time.Duration(math.Round(float64(tc.base)/float64(time.Microsecond))) * time.Microsecond
			if segs[0].Period < start {
				t.Errorf("first period %s is faster than the start period %s", segs[0].Period, start)
			}
			for i := 1; i < len(segs); i++ {
				if segs[i].Period > segs[i-1].Period {
					t.Errorf("segment %d period %s > segment %d period %s", i, segs[i].Period, i-1, segs[i-1].Period)
				}
			}
		})
	}
}

func TestScenarioHalfTurn(t *testing.T) {
	segs, err := Plan(time.Millisecond, 500*time.Millisecond, 800, DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	if segs[0].Period != time.Millisecond {
		t.Errorf("first period = %s, want 1ms", segs[0].Period)
	}
	if last := segs[len(segs)-1].Period; last != 250*time.Microsecond {
		t.Errorf("last period = %s, want 250µs", last)
	}
	if n := TotalSteps(segs); n < 800-16 || n > 800+16 {
		t.Errorf("TotalSteps() = %d", n)
	}
	if d := Duration(segs); d < 490*time.Millisecond || d > 510*time.Millisecond {
		t.Errorf("Duration() = %s", d)
	}
}

func TestFeasibleMonotonic(t *testing.T) {
	const deg = 180.
	base := time.Millisecond
	// From fast to slow: infeasible, then feasible, then infeasible again.
	var transitions int
	prev := false
	seen := false
	for rpm := 400.; rpm >= 5; rpm -= 5 {
		p, err := New(base, moveTime(deg, rpm), 800, DefaultProfile)
		if err != nil {
			t.Fatal(err)
		}
		f := p.Feasible()
		if f != prev {
			transitions++
		}
		seen = seen || f
		prev = f
	}
	if !seen {
		t.Fatal("no feasible speed found")
	}
	if prev {
		t.Error("slowest speed should be infeasible")
	}
	if transitions != 2 {
		t.Errorf("got %d feasibility transitions, want 2", transitions)
	}

	for _, tc := range []struct {
		name string
		rpm  float64
		want bool
	}{
		{name: "too fast", rpm: 200, want: false},
		{name: "nominal", rpm: 60, want: true},
		{name: "too slow", rpm: 30, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(base, moveTime(deg, tc.rpm), 800, DefaultProfile)
			if err != nil {
				t.Fatal(err)
			}
			if got := p.Feasible(); got != tc.want {
				t.Errorf("Feasible() = %t, want %t", got, tc.want)
			}
			_, err = p.Segments()
			if tc.want && err != nil {
				t.Errorf("Segments() = %v", err)
			}
			if !tc.want && !errors.Is(err, ErrInfeasible) {
				t.Errorf("Segments() = %v, want ErrInfeasible", err)
			}
		})
	}
}

func TestEstimateStepsMonotonic(t *testing.T) {
	p, err := New(time.Millisecond, 500*time.Millisecond, 800, DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	prev := p.EstimateSteps(BetaLow)
	for beta := BetaLow + 0.5; beta <= BetaHigh; beta += 0.5 {
		cur := p.EstimateSteps(beta)
		if cur < prev {
			t.Fatalf("EstimateSteps(%g) = %g < EstimateSteps(%g) = %g", beta, cur, beta-0.5, prev)
		}
		prev = cur
	}
}

func TestBeta(t *testing.T) {
	p, err := New(time.Millisecond, 500*time.Millisecond, 800, DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	beta := p.Beta()
	if beta <= BetaLow || beta >= BetaHigh {
		t.Fatalf("Beta() = %g, out of the search interval", beta)
	}
	if r := math.Abs(p.EstimateSteps(beta) - 800); r > 1e-3 {
		t.Errorf("residual at β=%g is %g", beta, r)
	}
}

func TestNewInvalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		base    time.Duration
		total   time.Duration
		steps   uint32
		profile Profile
		want    error
	}{
		{name: "no steps", base: time.Millisecond, total: time.Second, profile: DefaultProfile, want: ErrInfeasible},
		{name: "no time", base: time.Millisecond, steps: 10, profile: DefaultProfile, want: ErrInfeasible},
		{name: "no base", total: time.Second, steps: 10, profile: DefaultProfile, want: ErrInfeasible},
		{name: "empty profile", base: time.Millisecond, total: time.Second, steps: 10, want: ErrInvalidProfile},
		{name: "increasing", base: time.Millisecond, total: time.Second, steps: 10, profile: Profile{1, 0.5, 0.6}, want: ErrInvalidProfile},
		{name: "negative", base: time.Millisecond, total: time.Second, steps: 10, profile: Profile{1, -0.5}, want: ErrInvalidProfile},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.base, tc.total, tc.steps, tc.profile); !errors.Is(err, tc.want) {
				t.Errorf("New() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestProfileNormalize(t *testing.T) {
	p, err := New(time.Millisecond, 500*time.Millisecond, 800, Profile{4, 3, 2, 1})
	if err != nil {
		t.Fatal(err)
	}
	want := Profile{1, 0.75, 0.5, 0.25}
	if diff := cmp.Diff(want, p.profile); diff != "" {
		t.Fatalf("normalized profile (-want +got):\n%s", diff)
	}
}
