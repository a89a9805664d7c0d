// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler fires the periodic heartbeat and validation jobs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

type Job func(ctx context.Context)

type Jobs struct {
	Heartbeat Job
	Validate  Job
}

// Scheduler runs the validation loop as soon as Run starts. The heartbeat
// loop waits until Arm is called; arming is one-way and idempotent.
type Scheduler struct {
	heartbeatInterval  time.Duration
	validationInterval time.Duration

	armOnce sync.Once
	armed   chan struct{}
	running atomic.Bool
}

func New(heartbeatInterval, validationInterval time.Duration) *Scheduler {
	return &Scheduler{
		heartbeatInterval:  heartbeatInterval,
		validationInterval: validationInterval,
		armed:              make(chan struct{}),
	}
}

// Arm enables the heartbeat loop. Later calls are no-ops.
func (s *Scheduler) Arm() {
	s.armOnce.Do(func() {
		close(s.armed)
		log.Info().Dur("interval", s.heartbeatInterval).Msg("Heartbeat scheduler armed")
	})
}

func (s *Scheduler) Armed() bool {
	select {
	case <-s.armed:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is cancelled. Only one Run may be active at a time.
func (s *Scheduler) Run(ctx context.Context, jobs Jobs) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)

	if jobs.Heartbeat != nil && s.heartbeatInterval > 0 {
		g.Go(func() error {
			select {
			case <-s.armed:
			case <-ctx.Done():
				return nil
			}
			every(ctx, "heartbeat", s.heartbeatInterval, jobs.Heartbeat)
			return nil
		})
	}

	if jobs.Validate != nil && s.validationInterval > 0 {
		g.Go(func() error {
			every(ctx, "validation", s.validationInterval, jobs.Validate)
			return nil
		})
	}

	return g.Wait()
}

func every(ctx context.Context, name string, interval time.Duration, job Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("job", name).Msg("Scheduler loop stopped")
			return
		case <-ticker.C:
			log.Trace().Str("job", name).Msg("Running scheduled job")
			job(ctx)
		}
	}
}
