package http3

import (
	"net"
	"os"
	"sync"
	"time"

	"example.com/httpcore"
)

// memConn is the in-memory net.PacketConn behind the QUIC engine. The
// protocol's DatagramReceived feeds its read side and DatagramsToSend
// drains its write side, so the engine exchanges packets with the world
// exclusively through the sans-I/O surface and never opens a socket.
type memConn struct {
	local net.Addr

	inbound chan memPacket

	mu       sync.Mutex
	outbound []httpcore.Datagram
	deadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

type memPacket struct {
	data []byte
	addr net.Addr
}

func newMemConn(local net.Addr) *memConn {
	return &memConn{
		local:   local,
		inbound: make(chan memPacket, 256),
		closed:  make(chan struct{}),
	}
}

// deliver hands a received datagram to the QUIC engine. A full queue
// drops the packet, matching UDP semantics.
func (c *memConn) deliver(dg httpcore.Datagram) {
	data := make([]byte, len(dg.Payload))
	copy(data, dg.Payload)
	pkt := memPacket{data: data, addr: net.UDPAddrFromAddrPort(dg.Addr)}
	select {
	case c.inbound <- pkt:
	case <-c.closed:
	default:
	}
}

// drain collects the datagrams the QUIC engine produced since the last
// call.
func (c *memConn) drain() []httpcore.Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outbound
	c.outbound = nil
	return out
}

func (c *memConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case pkt := <-c.inbound:
		n := copy(b, pkt.data)
		return n, pkt.addr, nil
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *memConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	ap, ok := addrPort(addr)
	if !ok {
		return 0, &net.OpError{Op: "write", Net: "udp", Addr: addr, Err: net.InvalidAddrError("not a UDP address")}
	}
	data := make([]byte, len(b))
	copy(data, b)
	c.mu.Lock()
	c.outbound = append(c.outbound, httpcore.Datagram{Payload: data, Addr: ap})
	c.mu.Unlock()
	return len(b), nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) LocalAddr() net.Addr { return c.local }

func (c *memConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *memConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

// addrPort converts a net.Addr back to the address tuple used by the
// sans-I/O surface.
func addrPort(addr net.Addr) (httpcore.Address, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.AddrPort(), true
	default:
		return httpcore.Address{}, false
	}
}
