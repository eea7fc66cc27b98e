// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/koiosdigital/pixelair-go/discovery"
	"github.com/koiosdigital/pixelair-go/protocol"
	"github.com/koiosdigital/pixelair-go/reassembler"
	"github.com/koiosdigital/pixelair-go/support/arp"
	"github.com/koiosdigital/pixelair-go/support/logging"
	"github.com/koiosdigital/pixelair-go/support/network"

	"github.com/pkg/errors"
)

// Fixed ports. Snapshot fetches (and discovery) go to CommandPort; control
// mutations go to ControlPort.
const (
	CommandPort = 9090
	ControlPort = 6767
)

// getStateRoute is the fixed OSC route a snapshot fetch is sent to.
const getStateRoute = "/getState"

// DefaultSnapshotTimeout is used by GetState when no timeout is given.
const DefaultSnapshotTimeout = 10 * time.Second

// DefaultVerifyTimeout is used by the ARP resolution path's verify probe.
const DefaultVerifyTimeout = 3 * time.Second

// DefaultResolveCooldown is the minimum interval between two broadcast-path
// resolutions for a single Controller.
const DefaultResolveCooldown = 300 * time.Second

// registrar is the subset of network.Multiplexer a Controller needs.
type registrar interface {
	AddHandler(h network.Handler)
	RemoveHandler(h network.Handler)
}

// sender is the subset of network.Multiplexer a Controller needs to emit
// datagrams.
type sender interface {
	SendTo(data []byte, addr net.IP, port int) error
}

// NeighborResolver maps a normalized MAC address to the IPv4 address the
// host's neighbor table currently associates with it, or nil for a miss.
// arp.Resolver is the production implementation.
type NeighborResolver interface {
	Resolve(mac string) (net.IP, error)
}

// registeredState is the controller's coarse lifecycle state.
type registeredState int

const (
	stateUnregistered registeredState = iota
	stateRegistered
	stateResolvingIP
)

// Subscription is an opaque handle returned by Controller.Subscribe, used
// to remove the subscription later.
type Subscription struct{ id uint64 }

type subscriber struct {
	id uint64
	cb func(DeviceSnapshot)
}

// Controller is the live, per-device object: it tracks the device's latest
// snapshot, extracts control routes from it, issues commands, and
// reconciles reachability when the device's IP changes.
//
// A Controller is created by one of NewController, NewControllerWithIP, or
// NewControllerFromReply, then Register-ed with a multiplexer before use.
// Every constructor needs both a MAC address and a serial; there is no
// constructor that takes a MAC address alone.
type Controller struct {
	identity Identity
	decoder  StateDecoder
	mux      registrar
	send     sender
	resolver NeighborResolver
	discover *discovery.Service
	monitor  *Monitoring
	logger   logging.L

	ResolveCooldown time.Duration

	mu         sync.Mutex
	state      registeredState
	ip         net.IP
	snapshot   *DeviceSnapshot
	snapshotAt time.Time
	handler    *controllerHandler

	lastBroadcastResolve time.Time

	waitersMu sync.Mutex
	waiters   map[*waiter]struct{}

	subsMu    sync.Mutex
	subs      []subscriber
	nextSubID uint64
}

type waiter struct {
	resultC chan DeviceSnapshot
}

// Config bundles the collaborators a Controller needs. Mux and Decoder are
// required, and Discover is required by ResolveIP. A nil Resolver defaults
// to arp.Resolver; Monitor and Logger may be nil.
type Config struct {
	Mux      *network.Multiplexer
	Decoder  StateDecoder
	Discover *discovery.Service
	Resolver NeighborResolver
	Monitor  *Monitoring
	Logger   logging.L
}

// NewController constructs a Controller for identity with no resolved IP
// yet; a successful ResolveIP must adopt an address before the first
// command can succeed.
func NewController(identity Identity, cfg Config) *Controller {
	if cfg.Resolver == nil {
		cfg.Resolver = arp.Resolver{}
	}
	return &Controller{
		identity:        identity,
		decoder:         cfg.Decoder,
		mux:             cfg.Mux,
		send:            cfg.Mux,
		resolver:        cfg.Resolver,
		discover:        cfg.Discover,
		monitor:         cfg.Monitor,
		logger:          logging.Must(cfg.Logger),
		ResolveCooldown: DefaultResolveCooldown,
		waiters:         make(map[*waiter]struct{}),
	}
}

// NewControllerWithIP constructs a Controller for identity that already
// knows its IP, e.g. because the caller obtained both from a prior
// discovery round. The IP is adopted immediately on Register.
func NewControllerWithIP(identity Identity, ip net.IP, cfg Config) *Controller {
	c := NewController(identity, cfg)
	c.ip = ip
	return c
}

// NewControllerFromReply constructs a Controller from a discovery reply.
// The reply's MAC address is required, matching the identity-construction
// rule that a device can never be created without one.
func NewControllerFromReply(reply discovery.Reply, cfg Config) (*Controller, error) {
	if reply.MACAddress == "" {
		return nil, errors.Wrap(ErrInvalidMac, "discovery reply carries no MAC address")
	}
	identity, err := NewIdentity(reply.MACAddress, reply.SerialNumber)
	if err != nil {
		return nil, err
	}
	return NewControllerWithIP(identity, net.ParseIP(reply.IPAddress), cfg), nil
}

// Identity returns the controller's immutable identity.
func (c *Controller) Identity() Identity { return c.identity }

// IP returns the controller's currently resolved IP address, or nil.
func (c *Controller) IP() net.IP {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ip
}

// Snapshot returns the most recently accepted snapshot, or nil if none has
// arrived yet.
func (c *Controller) Snapshot() *DeviceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return nil
	}
	cp := *c.snapshot
	return &cp
}

// SnapshotAge reports how long it has been since the last accepted
// snapshot, and whether one has ever arrived.
func (c *Controller) SnapshotAge() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return 0, false
	}
	return time.Since(c.snapshotAt), true
}

// Register attaches the controller to its multiplexer. It is
// idempotent-guarded: a second call fails with ErrAlreadyRegistered.
func (c *Controller) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateUnregistered {
		return ErrAlreadyRegistered
	}

	c.state = stateRegistered
	if c.ip != nil {
		c.bindHandlerLocked(c.ip)
	}
	c.monitor.setOnline(c.identity.Serial(), true)
	return nil
}

// Unregister detaches the controller from its multiplexer and returns it
// to the Unregistered state.
func (c *Controller) Unregister() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		c.mux.RemoveHandler(c.handler)
		c.handler = nil
	}
	c.state = stateUnregistered
	c.monitor.setOnline(c.identity.Serial(), false)
}

// bindHandlerLocked must be called with c.mu held. It drops any existing
// handler and registers a fresh one bound to ip.
func (c *Controller) bindHandlerLocked(ip net.IP) {
	if c.handler != nil {
		c.mux.RemoveHandler(c.handler)
	}

	h := &controllerHandler{
		ip: ip.String(),
		ra: &reassembler.Reassembler{Logger: c.logger},
	}
	h.ra.Consumer = func(src *net.UDPAddr, payload []byte) {
		c.onPayload(payload)
	}
	h.ra.OnExpire = func(string) { c.monitor.countReassemblyExpired() }

	c.ip = ip
	c.handler = h
	c.mux.AddHandler(h)
}

// controllerHandler is the network.Handler bound to a Controller's current
// IP. It embeds its own Reassembler so fragments from any other source are
// never claimed here.
type controllerHandler struct {
	ip string
	ra *reassembler.Reassembler
}

func (h *controllerHandler) HandleDatagram(datagram []byte, src *net.UDPAddr) bool {
	if src == nil || src.IP.String() != h.ip {
		return false
	}
	return h.ra.HandleDatagram(datagram, src)
}

// onPayload is the Reassembler's consumer callback: it decodes, validates,
// and applies a completed snapshot.
func (c *Controller) onPayload(payload []byte) {
	c.monitor.countReassembled()

	snap, err := c.decoder.Decode(payload)
	if err != nil {
		c.logger.Debugf("pixelair: dropping undecodable snapshot for %s: %s", c.identity.Serial(), err)
		return
	}

	if snap.Serial != c.identity.Serial() {
		c.logger.Warnf("pixelair: dropping snapshot with serial %q, want %q",
			snap.Serial, c.identity.Serial())
		return
	}

	c.applySnapshot(snap)
}

// applySnapshot installs snap as the controller's latest snapshot, wakes
// any pending GetState waiters, and notifies subscribers.
//
// A snapshot that omits its MAC address is accepted: the identity's MAC,
// not the snapshot's, is authoritative once the device has been created.
func (c *Controller) applySnapshot(snap DeviceSnapshot) {
	c.mu.Lock()
	cp := snap
	c.snapshot = &cp
	c.snapshotAt = time.Now()
	c.mu.Unlock()

	c.waitersMu.Lock()
	for w := range c.waiters {
		select {
		case w.resultC <- snap:
		default:
		}
	}
	c.waitersMu.Unlock()

	c.notifySubscribers(snap)
}

func (c *Controller) notifySubscribers(snap DeviceSnapshot) {
	c.subsMu.Lock()
	subs := append([]subscriber(nil), c.subs...)
	c.subsMu.Unlock()

	for _, s := range subs {
		c.invokeSubscriber(s, snap)
	}
}

// invokeSubscriber calls a single subscriber, recovering from a panicking
// callback so one bad subscriber cannot affect the others.
func (c *Controller) invokeSubscriber(s subscriber, snap DeviceSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("pixelair: subscriber panic for %s: %v", c.identity.Serial(), r)
		}
	}()
	s.cb(snap)
}

// Subscribe registers cb to be called, sequentially and in registration
// order, with every accepted snapshot.
func (c *Controller) Subscribe(cb func(DeviceSnapshot)) Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscriber{id: id, cb: cb})
	return Subscription{id: id}
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (c *Controller) Unsubscribe(sub Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for i, s := range c.subs {
		if s.id == sub.id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// requireRegistered returns ErrNotRegistered unless the controller is
// currently Registered (resolution in progress counts as registered for
// the purpose of rejecting new commands only via ErrNotRegistered; a
// resolve in progress instead lets the caller's command race the resolve
// and fail naturally on send).
func (c *Controller) requireRegistered() (net.IP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateUnregistered {
		return nil, ErrNotRegistered
	}
	if c.ip == nil {
		return nil, ErrNotRegistered
	}
	return c.ip, nil
}

// sendCommand encodes and sends cmd to port at the controller's current IP.
func (c *Controller) sendCommand(cmd protocol.Command, port int) error {
	ip, err := c.requireRegistered()
	if err != nil {
		return err
	}

	data, err := protocol.Encode(cmd)
	if err != nil {
		return errors.Wrap(err, "encoding command")
	}

	if err := c.send.SendTo(data, ip, port); err != nil {
		c.monitor.countCommandError(c.identity.Serial())
		return err
	}
	c.monitor.countCommandSent(c.identity.Serial())
	return nil
}

// GetState requests a full snapshot and waits for it to arrive.
//
// It allocates a wait-signal, sends a getState command on the command
// port, and suspends until a matching snapshot is decoded or ctx/timeout
// expires. The wait-signal is always removed on exit.
func (c *Controller) GetState(ctx context.Context, timeout time.Duration) (DeviceSnapshot, error) {
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}

	w := &waiter{resultC: make(chan DeviceSnapshot, 1)}
	c.waitersMu.Lock()
	c.waiters[w] = struct{}{}
	c.waitersMu.Unlock()
	defer func() {
		c.waitersMu.Lock()
		delete(c.waiters, w)
		c.waitersMu.Unlock()
	}()

	if err := c.sendCommand(protocol.Command{Route: getStateRoute}, CommandPort); err != nil {
		return DeviceSnapshot{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case snap := <-w.resultC:
		return snap, nil
	case <-timer.C:
		return DeviceSnapshot{}, ErrTimeout
	case <-ctx.Done():
		return DeviceSnapshot{}, ctx.Err()
	}
}

// currentSnapshot returns the latest snapshot. It fails with
// ErrNotRegistered if the device isn't registered, or ErrRoutesUnavailable
// if it is but no snapshot has arrived yet -- registration is checked first
// since an unregistered device can't be addressed regardless of routes.
func (c *Controller) currentSnapshot() (DeviceSnapshot, error) {
	if _, err := c.requireRegistered(); err != nil {
		return DeviceSnapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return DeviceSnapshot{}, ErrRoutesUnavailable
	}
	return *c.snapshot, nil
}

// mutateOptimistic applies f to the controller's in-memory snapshot
// immediately after a successful send; the authoritative update arrives
// later via unsolicited state fragments.
func (c *Controller) mutateOptimistic(f func(*DeviceSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil {
		f(c.snapshot)
	}
}

func validUnit(v float64) error {
	if v < 0 || v > 1 {
		return errors.Wrapf(ErrInvalidRange, "%v", v)
	}
	return nil
}

// TurnOn sets the device's power route on.
func (c *Controller) TurnOn() error { return c.setPower(true) }

// TurnOff sets the device's power route off.
func (c *Controller) TurnOff() error { return c.setPower(false) }

func (c *Controller) setPower(on bool) error {
	snap, err := c.currentSnapshot()
	if err != nil {
		return err
	}
	route, err := lookupRoute(snap.Routes, RoutePower)
	if err != nil {
		return err
	}

	if err := c.sendCommand(protocol.Command{Route: route, Params: []protocol.Param{protocol.Bool(on)}}, ControlPort); err != nil {
		return err
	}
	c.mutateOptimistic(func(s *DeviceSnapshot) { s.Power = on })
	return nil
}

// SetBrightness sets brightness, which must be in [0, 1].
func (c *Controller) SetBrightness(v float64) error {
	if err := validUnit(v); err != nil {
		return err
	}
	snap, err := c.currentSnapshot()
	if err != nil {
		return err
	}
	route, err := lookupRoute(snap.Routes, RouteBrightness)
	if err != nil {
		return err
	}

	if err := c.sendCommand(protocol.Command{Route: route, Params: []protocol.Param{protocol.Float(float32(v))}}, ControlPort); err != nil {
		return err
	}
	c.mutateOptimistic(func(s *DeviceSnapshot) { s.Brightness = v })
	return nil
}

// SetHue sets hue, which must be in [0, 1], for the device's current mode.
func (c *Controller) SetHue(v float64) error {
	return c.setPalette(v, hueRoute, func(s *DeviceSnapshot, mode Mode, v float64) {
		if s.Hue == nil {
			s.Hue = make(map[Mode]float64)
		}
		s.Hue[mode] = v
	})
}

// SetSaturation sets saturation, which must be in [0, 1], for the device's
// current mode.
func (c *Controller) SetSaturation(v float64) error {
	return c.setPalette(v, saturationRoute, func(s *DeviceSnapshot, mode Mode, v float64) {
		if s.Saturation == nil {
			s.Saturation = make(map[Mode]float64)
		}
		s.Saturation[mode] = v
	})
}

func (c *Controller) setPalette(v float64, routeFor func(Mode) RouteKey, apply func(*DeviceSnapshot, Mode, float64)) error {
	if err := validUnit(v); err != nil {
		return err
	}
	snap, err := c.currentSnapshot()
	if err != nil {
		return err
	}
	route, err := lookupRoute(snap.Routes, routeFor(snap.Mode))
	if err != nil {
		return err
	}

	if err := c.sendCommand(protocol.Command{Route: route, Params: []protocol.Param{protocol.Float(float32(v))}}, ControlPort); err != nil {
		return err
	}
	c.mutateOptimistic(func(s *DeviceSnapshot) { apply(s, s.Mode, v) })
	return nil
}

// SetMode sets the device's operating mode.
func (c *Controller) SetMode(mode Mode) error {
	snap, err := c.currentSnapshot()
	if err != nil {
		return err
	}
	route, err := lookupRoute(snap.Routes, RouteMode)
	if err != nil {
		return err
	}

	if err := c.sendCommand(protocol.Command{
		Route:  route,
		Params: []protocol.Param{protocol.Int(int32(mode)), protocol.Int(0)},
	}, ControlPort); err != nil {
		return err
	}
	c.mutateOptimistic(func(s *DeviceSnapshot) { s.Mode = mode })
	return nil
}

// SetEffect projects id into a mode command followed, for scene and manual
// ids, by a selection command. The mode command is sent for every id, even
// when the device is already in that mode, and always before the selection
// command.
func (c *Controller) SetEffect(id EffectID) error {
	mode, index, err := ParseEffectID(id)
	if err != nil {
		return err
	}

	if err := c.SetMode(mode); err != nil {
		return err
	}

	switch mode {
	case ModeScene:
		return c.setIndexRoute(RouteActiveSceneIndex, index, func(s *DeviceSnapshot) { s.ActiveSceneIndex = index })
	case ModeManual:
		return c.setIndexRoute(RouteActiveManualAnimationIndex, index, func(s *DeviceSnapshot) { s.ActiveManualAnimationIdx = index })
	default:
		return nil
	}
}

func (c *Controller) setIndexRoute(key RouteKey, index int, apply func(*DeviceSnapshot)) error {
	snap, err := c.currentSnapshot()
	if err != nil {
		return err
	}
	route, err := lookupRoute(snap.Routes, key)
	if err != nil {
		return err
	}

	if err := c.sendCommand(protocol.Command{
		Route:  route,
		Params: []protocol.Param{protocol.Int(int32(index)), protocol.Int(0)},
	}, ControlPort); err != nil {
		return err
	}
	c.mutateOptimistic(apply)
	return nil
}

// ResolveIP re-establishes the controller's IP address using the ARP path
// first, falling back to the discovery broadcast path. Adoption is an
// atomic final step: cancellation never leaves a partially adopted IP.
func (c *Controller) ResolveIP(ctx context.Context, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.state == stateUnregistered {
		c.mu.Unlock()
		return false, ErrNotRegistered
	}
	c.state = stateResolvingIP
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = stateRegistered
		c.mu.Unlock()
	}()

	if ip, ok := c.tryARPPath(ctx); ok {
		c.adopt(ip)
		return true, nil
	}

	if ip, ok := c.tryBroadcastPath(ctx, timeout); ok {
		c.adopt(ip)
		return true, nil
	}

	return false, nil
}

func (c *Controller) tryARPPath(ctx context.Context) (net.IP, bool) {
	ip, err := c.resolver.Resolve(c.identity.MAC())
	if err != nil || ip == nil {
		return nil, false
	}

	reply, err := c.discover.Verify(ctx, ip, DefaultVerifyTimeout)
	if err != nil || reply == nil {
		return nil, false
	}

	if reply.SerialNumber != c.identity.Serial() {
		c.logger.Warnf("pixelair: ARP path for %s found %s replying with serial %q; falling back to broadcast",
			c.identity.Serial(), ip, reply.SerialNumber)
		return nil, false
	}

	return ip, true
}

func (c *Controller) tryBroadcastPath(ctx context.Context, timeout time.Duration) (net.IP, bool) {
	c.mu.Lock()
	cooldown := c.ResolveCooldown
	if cooldown <= 0 {
		cooldown = DefaultResolveCooldown
	}
	sinceLast := time.Since(c.lastBroadcastResolve)
	if !c.lastBroadcastResolve.IsZero() && sinceLast < cooldown {
		c.mu.Unlock()
		return nil, false
	}
	c.lastBroadcastResolve = time.Now()
	c.mu.Unlock()

	found, err := c.discover.FindBySerial(ctx, c.identity.Serial(), timeout)
	if err != nil || found == nil {
		return nil, false
	}

	ip := net.ParseIP(found.IPAddress)
	if ip == nil {
		return nil, false
	}
	return ip, true
}

// adopt atomically installs ip as the controller's current address,
// dropping any handler bound to the previous one.
func (c *Controller) adopt(ip net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindHandlerLocked(ip)
}
