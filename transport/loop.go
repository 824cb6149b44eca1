// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package transport provides transport dispatchers for snmpengine: UDP,
// DTLS and an in-memory loopback, plus replay of captured traffic.
//
// Every dispatcher runs an event loop while Run is active. Received
// messages and timer ticks are delivered to the engine from the loop
// goroutine only. The engine is not safe for concurrent use, so code on
// other goroutines must reach it through Call or Post.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/gosnmp/snmpengine"
)

const (
	// DefaultTimerResolution is how often the engine's timer callback runs.
	DefaultTimerResolution = 500 * time.Millisecond

	// defaultBufferSize holds the largest UDP payload.
	defaultBufferSize = 65535

	eventQueueLength = 256
)

// Options configures a dispatcher. Every field is optional.
type Options struct {
	TimerResolution time.Duration
	Clock           clock.Clock
	Logger          snmpengine.Logger

	// BufferSize is the receive buffer size, default 65535.
	BufferSize int
}

func (o *Options) setDefaults() {
	if o.TimerResolution <= 0 {
		o.TimerResolution = DefaultTimerResolution
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
}

// source produces events for the loop until ctx is done.
type source func(ctx context.Context) error

// loop is the event loop shared by the dispatchers. Fields other than
// events are owned by the goroutine running the loop.
type loop struct {
	opts   Options
	events chan func()

	recv  snmpengine.RecvFunc
	timer snmpengine.TimerFunc
	jobs  map[string]int
}

func newLoop(opts Options) *loop {
	opts.setDefaults()
	return &loop{
		opts:   opts,
		events: make(chan func(), eventQueueLength),
		jobs:   make(map[string]int),
	}
}

func (l *loop) RegisterRecvCallback(fn snmpengine.RecvFunc) {
	l.recv = fn
}

func (l *loop) UnregisterRecvCallback() {
	l.recv = nil
}

func (l *loop) RegisterTimerCallback(fn snmpengine.TimerFunc) {
	l.timer = fn
}

func (l *loop) UnregisterTimerCallback() {
	l.timer = nil
}

func (l *loop) JobStarted(jobID string) {
	l.jobs[jobID]++
}

func (l *loop) JobFinished(jobID string) {
	if l.jobs[jobID] <= 1 {
		delete(l.jobs, jobID)
		return
	}
	l.jobs[jobID]--
}

func (l *loop) TimerResolution() time.Duration {
	return l.opts.TimerResolution
}

// Jobs returns the number of outstanding jobs. Call it from the loop.
func (l *loop) Jobs() int {
	n := 0
	for _, c := range l.jobs {
		n += c
	}
	return n
}

// Post queues fn to run on the loop and returns without waiting.
func (l *loop) Post(ctx context.Context, fn func()) error {
	select {
	case l.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop and waits for it to return. The loop must be
// running.
func (l *loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inject queues msg for the engine as if it had been received from addr.
func (l *loop) Inject(ctx context.Context, domain snmpengine.TransportDomain, addr net.Addr, msg []byte) error {
	msg = append([]byte(nil), msg...)
	return l.Post(ctx, func() { l.deliver(domain, addr, msg) })
}

// deliver hands a received message to the engine. It runs on the loop.
func (l *loop) deliver(domain snmpengine.TransportDomain, addr net.Addr, msg []byte) {
	if l.recv == nil {
		l.opts.Logger.Printf("transport: no receiver, dropping %d bytes from %v", len(msg), addr)
		return
	}
	l.recv(domain, addr, msg)
}

// run drives the loop and its sources until ctx is done or, with
// untilIdle, until no jobs are outstanding.
func (l *loop) run(ctx context.Context, untilIdle bool, sources ...source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error { return src(gctx) })
	}
	g.Go(func() error { return l.tick(gctx) })
	g.Go(func() error {
		defer cancel()
		for {
			if untilIdle && l.Jobs() == 0 {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			case fn := <-l.events:
				fn()
			}
		}
	})
	return g.Wait()
}

func (l *loop) tick(ctx context.Context) error {
	t := l.opts.Clock.Ticker(l.opts.TimerResolution)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			err := l.Post(ctx, func() {
				if l.timer != nil {
					l.timer(now)
				}
			})
			if err != nil {
				return nil
			}
		}
	}
}
