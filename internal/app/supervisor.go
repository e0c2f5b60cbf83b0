package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/DO-2K23-26/beep-rtc/internal/app/sfu"
	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/signaling"
	"github.com/DO-2K23-26/beep-rtc/internal/transport"
)

const DefaultMailboxSize = 64

var (
	ErrNoPorts  = errors.New("app: no media ports")
	ErrNoServer = errors.New("app: no server config")
)

type SupervisorConfig struct {
	Host        netip.Addr
	// Advertised replaces Host in ICE candidates when valid.
	Advertised  netip.Addr
	Ports       []uint16
	Server      *sfu.ServerConfig
	MailboxSize int
}

// Supervisor owns one media worker per port.
type Supervisor struct {
	workers []*transport.Worker
	routes  *signaling.RoutingTable
}

// NewSupervisor binds every port before any worker starts. A failed bind
// closes the sockets opened so far.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if len(cfg.Ports) == 0 {
		return nil, ErrNoPorts
	}
	if cfg.Server == nil {
		return nil, ErrNoServer
	}
	size := cfg.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}

	ports := append([]uint16(nil), cfg.Ports...)
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	conns := make([]*net.UDPConn, 0, len(ports))
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	for _, port := range ports {
		addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(cfg.Host, port))
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("app: bind %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}

	s := &Supervisor{workers: make([]*transport.Worker, 0, len(conns))}
	mailboxes := make(map[uint16]*core.Mailbox, len(conns))
	for _, conn := range conns {
		local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
		var advertised netip.AddrPort
		if cfg.Advertised.IsValid() {
			advertised = netip.AddrPortFrom(cfg.Advertised, local.Port())
		}
		mb := core.NewMailbox(size)
		w, err := transport.NewWorker(transport.WorkerConfig{
			Conn:       conn,
			Advertised: advertised,
			Server:     cfg.Server,
			Mailbox:    mb,
			Logger:     log.With().Str("module", "transport").Logger(),
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		s.workers = append(s.workers, w)
		mailboxes[w.Port()] = mb
	}
	s.routes = signaling.NewRoutingTable(mailboxes)

	log.Info().Str("module", "app.supervisor").Uints16("ports", s.routes.Ports()).Msg("media ports bound")
	return s, nil
}

func (s *Supervisor) Routes() *signaling.RoutingTable { return s.routes }

// Workers returns the workers ordered by port.
func (s *Supervisor) Workers() []*transport.Worker {
	return append([]*transport.Worker(nil), s.workers...)
}

// Run blocks until every worker has exited. Worker failures are logged and
// never returned.
func (s *Supervisor) Run(ctx context.Context) error {
	p := pool.New().WithErrors()
	for _, w := range s.workers {
		p.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker on port %d panicked: %v", w.Port(), r)
				}
			}()
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("worker on port %d: %w", w.Port(), err)
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		log.Error().Str("module", "app.supervisor").Err(err).Msg("media workers failed")
		return nil
	}
	log.Info().Str("module", "app.supervisor").Msg("media workers stopped")
	return nil
}

// Close releases the sockets of a supervisor that will not be run.
func (s *Supervisor) Close() {
	for _, w := range s.workers {
		if err := w.Close(); err != nil {
			log.Debug().Str("module", "app.supervisor").Err(err).Uint16("port", w.Port()).Msg("close worker")
		}
	}
}
