// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package network

import (
	"context"
	"net"
	"sync"
	"syscall"

	"github.com/koiosdigital/pixelair-go/support/fmtutil"
	"github.com/koiosdigital/pixelair-go/support/logging"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrBind is returned by Multiplexer.Start when the listen port could not be
// bound.
var ErrBind = errors.New("bind error")

// ErrSend is returned by Multiplexer.SendTo when the underlying socket
// rejects a datagram.
var ErrSend = errors.New("send error")

// Handler is the dispatch contract offered to a Multiplexer.
//
// HandleDatagram is offered every inbound datagram, in the order in which
// the Handler was registered, until one Handler returns true. A Handler that
// returns true is said to have "claimed" the datagram; no further Handler
// will see it.
//
// HandleDatagram must not block for long; any work that may block (beyond
// a quick buffer copy or type switch) should be handed off to its own
// goroutine.
type Handler interface {
	HandleDatagram(datagram []byte, src *net.UDPAddr) bool
}

// Multiplexer owns a single UDP socket, bound to one well-known port across
// every local interface, broadcast-enabled. It dispatches every inbound
// datagram to a set of registered Handlers and offers unicast/broadcast send.
//
// Multiplexer is safe for concurrent use.
type Multiplexer struct {
	// Port is the UDP port to bind to. It must be set before calling Start.
	Port int

	// Logger, if not nil, is used for status and dispatch diagnostics.
	Logger logging.L

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool

	handlersMu sync.Mutex
	handlers   []Handler

	wg sync.WaitGroup
}

// Start binds the Multiplexer's socket and begins the receive loop.
//
// Start is idempotent: calling it again while already running does nothing
// and returns nil.
func (m *Multiplexer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr == nil {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				}
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", itoa(m.Port)))
	if err != nil {
		return errors.Wrapf(ErrBind, "binding to port %d: %s", m.Port, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return errors.Wrap(ErrBind, "listener did not return a UDP connection")
	}

	m.conn = conn
	m.running = true

	m.wg.Add(1)
	go m.receiveLoop(conn)

	m.logger().Infof("Multiplexer listening on %s", conn.LocalAddr())
	return nil
}

// Stop terminates the receive loop and closes the socket.
//
// Registered handlers are detached without being invoked. Stop blocks until
// the receive loop has fully exited.
func (m *Multiplexer) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.running = false
	m.conn = nil
	m.mu.Unlock()

	err := conn.Close()
	m.wg.Wait()

	m.handlersMu.Lock()
	m.handlers = nil
	m.handlersMu.Unlock()

	return err
}

// AddHandler registers h to receive dispatched datagrams. Handlers are
// offered datagrams in registration order.
func (m *Multiplexer) AddHandler(h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// RemoveHandler unregisters h. If h is not registered, RemoveHandler does
// nothing.
func (m *Multiplexer) RemoveHandler(h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	for i, reg := range m.handlers {
		if reg == h {
			m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
			return
		}
	}
}

// SendTo sends a single datagram to addr:port.
//
// SendTo makes a single send attempt; it does not retry on failure. The same
// call is used for both unicast and directed-broadcast addresses -- the
// latter requires the socket to have been Start-ed with broadcast enabled,
// which Multiplexer always does.
func (m *Multiplexer) SendTo(data []byte, addr net.IP, port int) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return errors.Wrap(ErrSend, "multiplexer is not running")
	}

	dst := &net.UDPAddr{IP: addr, Port: port}
	if _, err := conn.WriteToUDP(data, dst); err != nil {
		return errors.Wrapf(ErrSend, "writing to %s: %s", dst, err)
	}
	return nil
}

// LocalAddr returns the address the Multiplexer's socket is bound to, or nil
// if it is not running.
func (m *Multiplexer) LocalAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr()
}

func (m *Multiplexer) receiveLoop(conn *net.UDPConn) {
	defer m.wg.Done()

	buf := make([]byte, MaxUDPSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed (Stop was called) or a transient read error; either
			// way, the receive loop is done.
			return
		}

		// Copy the datagram so the shared buffer can be reused immediately; hand
		// dispatch off to its own goroutine so a slow handler can never stall
		// the receive loop.
		datagram := append([]byte(nil), buf[:n]...)
		m.wg.Add(1)
		go func(src *net.UDPAddr) {
			defer m.wg.Done()
			m.dispatch(datagram, src)
		}(src)
	}
}

func (m *Multiplexer) dispatch(datagram []byte, src *net.UDPAddr) {
	m.handlersMu.Lock()
	handlers := append([]Handler(nil), m.handlers...)
	m.handlersMu.Unlock()

	for _, h := range handlers {
		if h.HandleDatagram(datagram, src) {
			return
		}
	}

	m.logger().Debugf("No handler claimed datagram from %s (%d byte(s)):\n%s",
		src, len(datagram), fmtutil.Hex(datagram))
}

func (m *Multiplexer) logger() logging.L { return logging.Must(m.Logger) }

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
