package sfu

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// packetConn is the net.PacketConn a DTLS engine runs on. Inbound records are
// pushed by the worker; outbound records are queued for the worker to send.
type packetConn struct {
	buf   *packetio.Buffer
	out   chan<- Transmit
	wake  func()
	local *net.UDPAddr
	peer  atomic.Pointer[net.UDPAddr]

	closeOnce sync.Once
	closed    chan struct{}
}

func newPacketConn(local, peer netip.AddrPort, out chan<- Transmit, wake func()) *packetConn {
	c := &packetConn{
		buf:    packetio.NewBuffer(),
		out:    out,
		wake:   wake,
		local:  net.UDPAddrFromAddrPort(local),
		closed: make(chan struct{}),
	}
	c.buf.SetLimitSize(1024 * 1024)
	c.setPeer(peer)
	return c
}

func (c *packetConn) setPeer(peer netip.AddrPort) {
	c.peer.Store(net.UDPAddrFromAddrPort(peer))
}

// push hands one inbound datagram to the engine.
func (c *packetConn) push(p []byte) error {
	_, err := c.buf.Write(p)
	return err
}

func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.buf.Read(p)
	return n, c.peer.Load(), err
}

// WriteTo never blocks: datagrams are dropped when the worker falls behind.
func (c *packetConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case c.out <- Transmit{Now: time.Now(), Peer: c.peer.Load().AddrPort(), Message: data}:
		c.wake()
	default:
	}
	return len(p), nil
}

func (c *packetConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.buf.Close()
	})
	return nil
}

func (c *packetConn) LocalAddr() net.Addr  { return c.local }
func (c *packetConn) RemoteAddr() net.Addr { return c.peer.Load() }

func (c *packetConn) SetDeadline(t time.Time) error     { return c.buf.SetReadDeadline(t) }
func (c *packetConn) SetReadDeadline(t time.Time) error { return c.buf.SetReadDeadline(t) }
func (c *packetConn) SetWriteDeadline(time.Time) error  { return nil }
