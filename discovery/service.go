// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package discovery implements the broadcast/unicast probe-and-collect
// service used to enumerate devices and to verify or locate a specific
// device by serial number.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/koiosdigital/pixelair-go/protocol"
	"github.com/koiosdigital/pixelair-go/reassembler"
	"github.com/koiosdigital/pixelair-go/support/logging"
	"github.com/koiosdigital/pixelair-go/support/network"

	"github.com/pkg/errors"
)

// Reply is a device's response to a discovery probe.
type Reply = protocol.DiscoveryReply

// discoveryRoute is the fixed OSC path every probe is sent to.
const discoveryRoute = "/discovery"

// DefaultDiscoverTimeout and DefaultVerifyTimeout are the defaults used
// when a caller passes a non-positive timeout.
const (
	DefaultDiscoverTimeout = 5 * time.Second
	DefaultVerifyTimeout   = 3 * time.Second
)

// sender is the subset of network.Multiplexer the Service needs to send
// probes.
type sender interface {
	SendTo(data []byte, addr net.IP, port int) error
}

// registrar is the subset of network.Multiplexer the Service needs to
// receive replies.
type registrar interface {
	AddHandler(h network.Handler)
	RemoveHandler(h network.Handler)
}

// muxPort is the port probes are sent to; it matches the command port
// devices also accept snapshot fetches on.
const muxPort = 9090

// Service enumerates and locates devices by broadcasting (or unicasting) a
// discovery probe and collecting JSON replies.
//
// Service registers a single reply handler with its multiplexer for its
// entire lifetime; concurrent collection requests fan in to that one
// handler. DiscoverWithInfo additionally registers a short-lived fragment
// handler for each follow-up snapshot fetch.
// Only one broadcast flight runs at a time: Discover, FindBySerial, and
// DiscoverWithInfo serialize on an internal lock. Verify, being a single
// unicast probe, does not contend for that lock.
type Service struct {
	Mux interface {
		sender
		registrar
	}
	Logger logging.L

	broadcastMu sync.Mutex

	collectorsMu sync.Mutex
	collectors   map[*collector]struct{}

	startOnce sync.Once
}

type collector struct {
	match   func(Reply, *net.UDPAddr) bool
	resultC chan collectedReply
}

type collectedReply struct {
	reply Reply
	src   *net.UDPAddr
}

func (s *Service) logger() logging.L { return logging.Must(s.Logger) }

// Start registers the Service's reply handler with its multiplexer. It is
// idempotent and safe to call multiple times.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.Mux.AddHandler(serviceHandler{s})
	})
}

type serviceHandler struct{ s *Service }

func (h serviceHandler) HandleDatagram(datagram []byte, src *net.UDPAddr) bool {
	reply, err := protocol.DecodeDiscoveryReply(datagram)
	if err != nil {
		return false
	}

	h.s.collectorsMu.Lock()
	cols := make([]*collector, 0, len(h.s.collectors))
	for c := range h.s.collectors {
		cols = append(cols, c)
	}
	h.s.collectorsMu.Unlock()

	for _, c := range cols {
		if !c.match(reply, src) {
			continue
		}
		select {
		case c.resultC <- collectedReply{reply: reply, src: src}:
		default:
		}
	}
	return true
}

func (s *Service) addCollector(match func(Reply, *net.UDPAddr) bool) *collector {
	c := &collector{match: match, resultC: make(chan collectedReply, 32)}
	s.collectorsMu.Lock()
	if s.collectors == nil {
		s.collectors = make(map[*collector]struct{})
	}
	s.collectors[c] = struct{}{}
	s.collectorsMu.Unlock()
	return c
}

func (s *Service) removeCollector(c *collector) {
	s.collectorsMu.Lock()
	delete(s.collectors, c)
	s.collectorsMu.Unlock()
}

func (s *Service) broadcastProbe() error {
	ifaces, err := network.EnumerateInterfaces()
	if err != nil {
		return errors.Wrap(err, "enumerating interfaces for discovery broadcast")
	}

	probe := protocol.DiscoveryProbe{Route: discoveryRoute}.Encode()

	var firstErr error
	for _, iface := range ifaces {
		if err := s.Mux.SendTo(probe, iface.Broadcast, muxPort); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discover broadcasts the discovery probe broadcastCount times, interval
// apart, on every local broadcast domain, and returns every distinct
// (dedup by serial) reply received before timeout elapses.
func (s *Service) Discover(ctx context.Context, timeout time.Duration, broadcastCount int, interval time.Duration) ([]Reply, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	if broadcastCount <= 0 {
		broadcastCount = 1
	}

	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	col := s.addCollector(func(Reply, *net.UDPAddr) bool { return true })
	defer s.removeCollector(col)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	go s.sendBursts(ctx, broadcastCount, interval)

	byserial := make(map[string]Reply)
	for {
		select {
		case cr := <-col.resultC:
			byserial[cr.reply.SerialNumber] = cr.reply
		case <-deadline.C:
			return flatten(byserial), nil
		case <-ctx.Done():
			return flatten(byserial), ctx.Err()
		}
	}
}

func (s *Service) sendBursts(ctx context.Context, count int, interval time.Duration) {
	for i := 0; i < count; i++ {
		if err := s.broadcastProbe(); err != nil {
			s.logger().Warnf("discovery: broadcast probe failed: %s", err)
		}
		if i == count-1 {
			return
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

func flatten(m map[string]Reply) []Reply {
	out := make([]Reply, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

// Verify sends a single unicast discovery probe to ip and returns its
// reply, or nil if none arrives before timeout.
func (s *Service) Verify(ctx context.Context, ip net.IP, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}

	col := s.addCollector(func(_ Reply, src *net.UDPAddr) bool {
		return src != nil && src.IP.Equal(ip)
	})
	defer s.removeCollector(col)

	probe := protocol.DiscoveryProbe{Route: discoveryRoute}.Encode()
	if err := s.Mux.SendTo(probe, ip, muxPort); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cr := <-col.resultC:
		reply := cr.reply
		return &reply, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FindBySerial broadcasts like Discover, but returns as soon as a reply
// matching serial is seen, cancelling the remaining bursts.
func (s *Service) FindBySerial(ctx context.Context, serial string, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}

	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	col := s.addCollector(func(r Reply, _ *net.UDPAddr) bool { return r.SerialNumber == serial })
	defer s.removeCollector(col)

	findCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.sendBursts(findCtx, defaultFindBySerialBursts, defaultFindBySerialInterval)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cr := <-col.resultC:
		reply := cr.reply
		return &reply, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const (
	defaultFindBySerialBursts   = 3
	defaultFindBySerialInterval = 500 * time.Millisecond
)

// MACDecoder extracts a MAC address from a reassembled state payload. It is
// a narrower view of device.StateDecoder, used only so DiscoverWithInfo
// need not depend on a full Controller to learn a device's MAC.
type MACDecoder interface {
	DecodeMAC(payload []byte) (string, error)
}

// DiscoverWithInfo runs a discovery round and, for every reply, issues a
// brief snapshot fetch to learn its MAC address. It returns only the
// devices for which a MAC address was obtained, either because the
// discovery reply already carried one or because the follow-up fetch
// decoded one.
func (s *Service) DiscoverWithInfo(ctx context.Context, timeout time.Duration, decoder MACDecoder) ([]Reply, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}

	replies, err := s.Discover(ctx, timeout, 1, 0)
	if err != nil {
		return nil, err
	}

	out := make([]Reply, 0, len(replies))
	for _, r := range replies {
		if r.MACAddress != "" {
			out = append(out, r)
			continue
		}

		mac, err := s.fetchMAC(ctx, r, decoder)
		if err != nil {
			s.logger().Debugf("discovery: no MAC for %s: %s", r.SerialNumber, err)
			continue
		}
		r.MACAddress = mac
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) fetchMAC(ctx context.Context, r Reply, decoder MACDecoder) (string, error) {
	ip := net.ParseIP(r.IPAddress)
	if ip == nil {
		return "", errors.Errorf("invalid ip %q in discovery reply", r.IPAddress)
	}

	resultC := make(chan string, 1)
	ra := &reassembler.Reassembler{
		Consumer: func(src *net.UDPAddr, payload []byte) {
			if !src.IP.Equal(ip) {
				return
			}
			mac, err := decoder.DecodeMAC(payload)
			if err != nil {
				return
			}
			select {
			case resultC <- mac:
			default:
			}
		},
	}
	s.Mux.AddHandler(ra)
	defer s.Mux.RemoveHandler(ra)

	cmd, err := protocol.Encode(protocol.Command{Route: "/getState"})
	if err != nil {
		return "", err
	}
	if err := s.Mux.SendTo(cmd, ip, muxPort); err != nil {
		return "", err
	}

	timer := time.NewTimer(DefaultVerifyTimeout)
	defer timer.Stop()

	select {
	case mac := <-resultC:
		return mac, nil
	case <-timer.C:
		return "", errors.New("timed out waiting for snapshot")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
