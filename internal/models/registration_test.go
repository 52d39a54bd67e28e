package models

import (
	"testing"
	"time"
)

func TestRegistration_TimeRemaining(t *testing.T) {
	now := time.Now()

	t.Run("no end time", func(t *testing.T) {
		r := &Registration{}
		if got := r.TimeRemaining(now); got != 0 {
			t.Errorf("TimeRemaining = %d, want 0", got)
		}
	})

	t.Run("mid session", func(t *testing.T) {
		end := now.Add(45 * time.Second)
		r := &Registration{ExamEndTime: &end}
		if got := r.TimeRemaining(now); got != 45 {
			t.Errorf("TimeRemaining = %d, want 45", got)
		}
	})

	t.Run("clamped after end", func(t *testing.T) {
		end := now.Add(-time.Minute)
		r := &Registration{ExamEndTime: &end}
		if got := r.TimeRemaining(now); got != 0 {
			t.Errorf("TimeRemaining = %d, want 0", got)
		}
	})
}

func TestRegistration_InStartWindow(t *testing.T) {
	now := time.Now()
	r := &Registration{
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now.Add(time.Hour),
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside window", now, true},
		{"at window start", r.WindowStart, true},
		{"at window end", r.WindowEnd, true},
		{"before window", r.WindowStart.Add(-time.Second), false},
		{"after window", r.WindowEnd.Add(time.Second), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.InStartWindow(tc.at); got != tc.want {
				t.Errorf("InStartWindow(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestRegistration_IsSubmitted(t *testing.T) {
	r := &Registration{}
	if r.IsSubmitted() {
		t.Error("fresh registration reported submitted")
	}

	now := time.Now()
	r.ActualSubmitTime = &now
	if !r.IsSubmitted() {
		t.Error("registration with submit time not reported submitted")
	}
}
