// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"context"
	"sync"
	"time"

	"github.com/koiosdigital/pixelair-go/discovery"
	"github.com/koiosdigital/pixelair-go/support/logging"
)

// DefaultPollInterval is the poller's starting interval between probes.
const DefaultPollInterval = 5 * time.Second

// DefaultMaxPollInterval is the cap the backoff interval plateaus at.
const DefaultMaxPollInterval = 60 * time.Second

// DefaultMaxConsecutiveFailures is how many consecutive probe failures
// trigger a ResolveIP call.
const DefaultMaxConsecutiveFailures = 3

// Poller periodically probes a Controller's device to detect a
// state_counter change, fetching a fresh snapshot when one is seen.
//
// Polling is independent of any user-initiated GetState call and may run
// concurrently with one.
type Poller struct {
	Controller *Controller
	Discovery  *discovery.Service

	// Interval is the starting poll interval. Zero means DefaultPollInterval.
	Interval time.Duration
	// MaxInterval caps the backoff interval. Zero means DefaultMaxPollInterval.
	MaxInterval time.Duration
	// MaxConsecutiveFailures is how many failures trigger ResolveIP. Zero
	// means DefaultMaxConsecutiveFailures.
	MaxConsecutiveFailures int

	Logger logging.L

	mu                  sync.Mutex
	currentInterval     time.Duration
	consecutiveFailures int
	lastStateCounter    int64
	haveLastCounter     bool

	stopC chan struct{}
	doneC chan struct{}
}

func (p *Poller) logger() logging.L { return logging.Must(p.Logger) }

func (p *Poller) initialInterval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPollInterval
}

func (p *Poller) maxInterval() time.Duration {
	if p.MaxInterval > 0 {
		return p.MaxInterval
	}
	return DefaultMaxPollInterval
}

func (p *Poller) maxFailures() int {
	if p.MaxConsecutiveFailures > 0 {
		return p.MaxConsecutiveFailures
	}
	return DefaultMaxConsecutiveFailures
}

// Start begins the poll loop in its own goroutine. ctx governs the loop's
// lifetime in addition to Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopC != nil {
		p.mu.Unlock()
		return
	}
	p.stopC = make(chan struct{})
	p.doneC = make(chan struct{})
	p.currentInterval = p.initialInterval()
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop terminates the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	stopC := p.stopC
	doneC := p.doneC
	p.mu.Unlock()

	if stopC == nil {
		return
	}
	close(stopC)
	<-doneC
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneC)

	for {
		p.mu.Lock()
		interval := p.currentInterval
		p.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-p.stopC:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}

		p.pollOnce(ctx)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	ip := p.Controller.IP()
	if ip == nil {
		p.onFailure(ctx)
		return
	}

	reply, err := p.Discovery.Verify(ctx, ip, DefaultVerifyTimeout)
	if err != nil || reply == nil {
		p.onFailure(ctx)
		return
	}

	p.onSuccess()

	if age, ok := p.Controller.SnapshotAge(); ok {
		p.Controller.monitor.observeSnapshotAge(p.Controller.Identity().Serial(), age.Seconds())
	}

	p.mu.Lock()
	advanced := !p.haveLastCounter || reply.StateCounter > p.lastStateCounter
	p.lastStateCounter = reply.StateCounter
	p.haveLastCounter = true
	p.mu.Unlock()

	if !advanced {
		return
	}

	if _, err := p.Controller.GetState(ctx, DefaultSnapshotTimeout); err != nil {
		p.logger().Warnf("pixelair: poller snapshot fetch failed for %s: %s",
			p.Controller.Identity().Serial(), err)
	}
}

func (p *Poller) onSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures = 0
	p.currentInterval = p.initialInterval()
}

func (p *Poller) onFailure(ctx context.Context) {
	p.mu.Lock()
	p.consecutiveFailures++
	failures := p.consecutiveFailures
	p.currentInterval *= 2
	if max := p.maxInterval(); p.currentInterval > max {
		p.currentInterval = max
	}
	p.mu.Unlock()

	if failures < p.maxFailures() {
		return
	}

	p.mu.Lock()
	p.consecutiveFailures = 0
	p.mu.Unlock()

	resolved, err := p.Controller.ResolveIP(ctx, DefaultSnapshotTimeout)
	if err != nil {
		p.logger().Warnf("pixelair: poller resolve_ip failed for %s: %s",
			p.Controller.Identity().Serial(), err)
		return
	}
	if resolved {
		// A fresh address ends the backoff regime entirely.
		p.onSuccess()
	}
}
