package app

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DO-2K23-26/beep-rtc/internal/app/sfu"
	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/signaling"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func serverConfig(t *testing.T) *sfu.ServerConfig {
	t.Helper()
	cfg, err := sfu.NewServerConfig(sfu.ServerOptions{})
	require.NoError(t, err)
	return cfg
}

// freePorts reserves n UDP ports and releases them.
func freePorts(t *testing.T, n int) []uint16 {
	t.Helper()
	ports := make([]uint16, 0, n)
	conns := make([]*net.UDPConn, 0, n)
	for range n {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		conns = append(conns, c)
		ports = append(ports, uint16(c.LocalAddr().(*net.UDPAddr).Port))
	}
	for _, c := range conns {
		require.NoError(t, c.Close())
	}
	return ports
}

func TestSupervisorRoutesEveryPort(t *testing.T) {
	ports := freePorts(t, 3)
	s, err := NewSupervisor(SupervisorConfig{Host: loopback, Ports: ports, Server: serverConfig(t)})
	require.NoError(t, err)

	assert.Equal(t, 3, s.Routes().Len())
	assert.ElementsMatch(t, ports, s.Routes().Ports())
	assert.IsNonDecreasing(t, s.Routes().Ports())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	bridge := signaling.NewBridge(s.Routes(), signaling.BridgeConfig{Timeout: 2 * time.Second})
	require.NoError(t, bridge.Leave(context.Background(), 1, 1))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not return")
	}

	err = bridge.Leave(context.Background(), 1, 1)
	assert.ErrorIs(t, err, signaling.ErrWorkerGone)
}

func TestSupervisorAdvertisedAddress(t *testing.T) {
	ports := freePorts(t, 1)
	s, err := NewSupervisor(SupervisorConfig{
		Host:       loopback,
		Advertised: netip.MustParseAddr("203.0.113.7"),
		Ports:      ports,
		Server:     serverConfig(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = s.Run(ctx)
	})

	w := s.Workers()[0]
	assert.Equal(t, netip.AddrPortFrom(netip.MustParseAddr("203.0.113.7"), ports[0]), w.Advertised())
	assert.Equal(t, netip.AddrPortFrom(loopback, ports[0]), w.LocalAddr())
}

func TestSupervisorFailsFastOnBind(t *testing.T) {
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer busy.Close()
	taken := uint16(busy.LocalAddr().(*net.UDPAddr).Port)
	free := freePorts(t, 1)[0]

	_, err = NewSupervisor(SupervisorConfig{Host: loopback, Ports: []uint16{free, taken}, Server: serverConfig(t)})
	require.Error(t, err)

	// the socket bound before the failure was released
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(free)})
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestSupervisorRejectsEmptyConfig(t *testing.T) {
	_, err := NewSupervisor(SupervisorConfig{Host: loopback, Server: serverConfig(t)})
	assert.ErrorIs(t, err, ErrNoPorts)

	_, err = NewSupervisor(SupervisorConfig{Host: loopback, Ports: []uint16{3478}})
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestSupervisorMailboxesClosedAfterRun(t *testing.T) {
	s, err := NewSupervisor(SupervisorConfig{Host: loopback, Ports: freePorts(t, 2), Server: serverConfig(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	for _, w := range s.Workers() {
		env, _ := core.NewEnvelope(core.Leave{})
		assert.ErrorIs(t, w.Mailbox().Send(context.Background(), env), core.ErrMailboxClosed)
	}
}

func TestSupervisorCloseReleasesPorts(t *testing.T) {
	ports := freePorts(t, 2)
	s, err := NewSupervisor(SupervisorConfig{Host: loopback, Ports: ports, Server: serverConfig(t)})
	require.NoError(t, err)
	s.Close()

	for _, p := range ports {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(p)})
		require.NoError(t, err)
		require.NoError(t, c.Close())
	}
}
