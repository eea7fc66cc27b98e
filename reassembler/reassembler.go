// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package reassembler buffers fragmented state datagrams, keyed by sender
// and fragment-group id, and emits the concatenated payload once every
// fragment has arrived.
package reassembler

import (
	"net"
	"sync"
	"time"

	"github.com/koiosdigital/pixelair-go/protocol"
	"github.com/koiosdigital/pixelair-go/support/bufferpool"
	"github.com/koiosdigital/pixelair-go/support/logging"
	"github.com/koiosdigital/pixelair-go/support/network"
)

// DefaultDeadline is the default lifetime of a FragmentGroup: roughly twice
// the worst expected inter-fragment gap. A group older than this is
// discarded without emission.
const DefaultDeadline = 5 * time.Second

// groupKey identifies a FragmentGroup.
type groupKey struct {
	sender  string
	groupID byte
}

// groupState is the lifecycle stage of a FragmentGroup.
type groupState int

const (
	groupEmpty groupState = iota
	groupPartial
	groupComplete
	groupExpired
)

// group is the Reassembler's internal bookkeeping for one in-flight
// fragmented payload. Fragment bodies are held in pooled buffers so a burst
// of in-flight groups doesn't churn the allocator.
type group struct {
	state          groupState
	totalFragments int
	received       map[int]*bufferpool.Buffer
	created        time.Time
}

func (g *group) release() {
	for _, b := range g.received {
		b.Release()
	}
}

// Consumer is invoked with the concatenated payload once a group completes.
type Consumer func(src *net.UDPAddr, payload []byte)

// Reassembler buffers fragments and emits completed payloads.
//
// Reassembler is safe for concurrent use. It does not own a clock goroutine;
// call Sweep periodically (or before every HandleDatagram, which Sweep is
// also called from) to expire stale groups.
type Reassembler struct {
	// Deadline is how long a group may remain incomplete before it expires.
	// Zero means DefaultDeadline.
	Deadline time.Duration

	// Logger, if set, receives diagnostics about duplicate fragments,
	// conflicting totals, and expirations. None of these are propagated as
	// errors: the underlying transport is unreliable and loss is routine.
	Logger logging.L

	// Consumer is invoked, at most once per group, with the reassembled
	// payload.
	Consumer Consumer

	// OnExpire, if set, is invoked for every group that Sweep discards
	// without completion.
	OnExpire func(sender string)

	mu     sync.Mutex
	groups map[groupKey]*group
	pool   *bufferpool.Pool
}

func (r *Reassembler) deadline() time.Duration {
	if r.Deadline > 0 {
		return r.Deadline
	}
	return DefaultDeadline
}

func (r *Reassembler) logger() logging.L { return logging.Must(r.Logger) }

// bufPool lazily creates the pool fragment bodies are copied into. Every
// Reassembler gets its own pool so buffer reuse stays local to one device's
// traffic.
func (r *Reassembler) bufPool() *bufferpool.Pool {
	if r.pool == nil {
		r.pool = &bufferpool.Pool{Size: network.MaxUDPSize}
	}
	return r.pool
}

// HandleDatagram implements network.Handler. It claims any datagram that
// decodes as a fragment header, regardless of whether the fragment was
// ultimately usable.
func (r *Reassembler) HandleDatagram(datagram []byte, src *net.UDPAddr) bool {
	hdr, payload, err := protocol.DecodeFragmentHeader(datagram)
	if err != nil {
		return false
	}

	if hdr.TotalFragments == 0 || hdr.FragmentIndex >= hdr.TotalFragments {
		r.logger().Warnf("reassembler: fragment %d/%d of group %d from %s is out of range; discarding",
			hdr.FragmentIndex, hdr.TotalFragments, hdr.GroupID, src)
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	key := groupKey{sender: src.String(), groupID: hdr.GroupID}
	g := r.groups[key]

	if g != nil && g.totalFragments != int(hdr.TotalFragments) {
		r.logger().Warnf("reassembler: conflicting total for group %d from %s (had %d, got %d); restarting group",
			hdr.GroupID, src, g.totalFragments, hdr.TotalFragments)
		g.release()
		g = nil
	}

	if g == nil {
		g = &group{
			state:          groupPartial,
			totalFragments: int(hdr.TotalFragments),
			received:       make(map[int]*bufferpool.Buffer),
			created:        now(),
		}
		if r.groups == nil {
			r.groups = make(map[groupKey]*group)
		}
		r.groups[key] = g
	}

	idx := int(hdr.FragmentIndex)
	if _, dup := g.received[idx]; dup {
		r.logger().Debugf("reassembler: duplicate fragment %d for group %d from %s; discarding",
			idx, hdr.GroupID, src)
		return true
	}

	buf := r.bufPool().Get()
	n := copy(buf.Bytes(), payload)
	buf.Truncate(n)
	g.received[idx] = buf

	if len(g.received) < g.totalFragments {
		return true
	}

	g.state = groupComplete
	delete(r.groups, key)

	assembled := make([]byte, 0, g.totalFragments*n)
	for i := 0; i < g.totalFragments; i++ {
		assembled = append(assembled, g.received[i].Bytes()...)
	}
	g.release()

	if r.Consumer != nil {
		srcCopy := *src
		r.Consumer(&srcCopy, assembled)
	}

	return true
}

// Sweep discards groups older than the configured deadline. It is called
// automatically from HandleDatagram, but may also be called on a timer so
// that groups which will never receive another fragment don't linger
// forever.
func (r *Reassembler) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
}

func (r *Reassembler) sweepLocked() {
	if len(r.groups) == 0 {
		return
	}

	deadline := r.deadline()
	cutoff := now().Add(-deadline)
	for key, g := range r.groups {
		if g.created.Before(cutoff) {
			g.state = groupExpired
			delete(r.groups, key)
			r.logger().Debugf("reassembler: group %d from %s expired with %d/%d fragment(s)",
				key.groupID, key.sender, len(g.received), g.totalFragments)
			g.release()
			if r.OnExpire != nil {
				r.OnExpire(key.sender)
			}
		}
	}
}

// now is a seam so tests can control time without depending on a global
// clock.
var now = time.Now
