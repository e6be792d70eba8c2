// Package ratelimit implements leaky-bucket-with-burst pacing: a running
// deadline that advances by a fixed period per unit of work, with a grace
// buffer so a caller that falls behind schedule by more than the buffer
// catches up instantly instead of bursting to compensate.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ratelimit

import "time"

const defaultRateBuffer = 5 * time.Second

// Governor paces a single quantity (files/sec or bytes/sec) for one worker.
// Not safe for concurrent use; each worker owns two private instances.
type Governor struct {
	maxRate         float64 // units/sec; <= 0 disables pacing
	rateBuffer      time.Duration
	runningDeadline time.Time

	// overridable for deterministic tests
	now   func() time.Time
	sleep func(time.Duration)
}

// New builds a Governor. rateBuffer <= 0 selects the default (5s).
func New(maxRate float64, rateBuffer time.Duration) *Governor {
	if rateBuffer <= 0 {
		rateBuffer = defaultRateBuffer
	}
	return &Governor{
		maxRate:    maxRate,
		rateBuffer: rateBuffer,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Disabled reports whether this governor performs no pacing at all.
func (g *Governor) Disabled() bool { return g.maxRate <= 0 }

// SleepIfNeeded advances the governor's schedule by increment units and
// blocks the calling goroutine, if necessary, so the configured max rate is
// not exceeded. A zero or negative increment is a no-op.
func (g *Governor) SleepIfNeeded(increment float64) {
	if g.Disabled() || increment <= 0 {
		return
	}
	now := g.now()
	period := time.Duration(float64(time.Second) * increment / g.maxRate)

	switch {
	case now.Sub(g.runningDeadline) > g.rateBuffer:
		// far enough behind schedule to catch up instantly
		g.runningDeadline = now
	case g.runningDeadline.Sub(now) > period:
		g.sleep(g.runningDeadline.Sub(now))
	}
	g.runningDeadline = g.runningDeadline.Add(period)
}
