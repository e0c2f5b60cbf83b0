// Package transport runs the media workers: one UDP socket, one pipeline and
// one signaling mailbox per port, driven by a single goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/DO-2K23-26/beep-rtc/internal/app/sfu"
	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/metrics"
)

const (
	// MaxWait caps a socket read so shutdown and signaling are polled at
	// least this often.
	MaxWait = 100 * time.Millisecond

	receiveMTU = 8192
)

var (
	ErrNoConn    = errors.New("transport: no socket")
	ErrNoServer  = errors.New("transport: no server config")
	ErrNoMailbox = errors.New("transport: no mailbox")
)

type WorkerConfig struct {
	Conn       *net.UDPConn
	// Advertised is the address put in ICE candidates. Defaults to the
	// socket address.
	Advertised netip.AddrPort
	Server     *sfu.ServerConfig
	Mailbox    *core.Mailbox
	Logger     zerolog.Logger
}

type Worker struct {
	conn       *net.UDPConn
	local      netip.AddrPort
	advertised netip.AddrPort
	server     *sfu.ServerConfig
	mailbox    *core.Mailbox
	log        zerolog.Logger
	buf        []byte

	received   prometheus.Counter
	sent       prometheus.Counter
	sendErrors prometheus.Counter
	endpoints  prometheus.Gauge
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	switch {
	case cfg.Conn == nil:
		return nil, ErrNoConn
	case cfg.Server == nil:
		return nil, ErrNoServer
	case cfg.Mailbox == nil:
		return nil, ErrNoMailbox
	}
	local := cfg.Conn.LocalAddr().(*net.UDPAddr).AddrPort()
	local = netip.AddrPortFrom(local.Addr().Unmap(), local.Port())
	advertised := cfg.Advertised
	if !advertised.IsValid() {
		advertised = local
	}
	port := metrics.Port(local.Port())
	return &Worker{
		conn:       cfg.Conn,
		local:      local,
		advertised: advertised,
		server:     cfg.Server,
		mailbox:    cfg.Mailbox,
		log:        cfg.Logger.With().Uint16("port", local.Port()).Logger(),
		buf:        make([]byte, receiveMTU),
		received:   metrics.DatagramsReceived.WithLabelValues(port),
		sent:       metrics.DatagramsSent.WithLabelValues(port),
		sendErrors: metrics.SendErrors.WithLabelValues(port),
		endpoints:  metrics.Endpoints.WithLabelValues(port),
	}, nil
}

func (w *Worker) Port() uint16               { return w.local.Port() }
func (w *Worker) LocalAddr() netip.AddrPort  { return w.local }
func (w *Worker) Mailbox() *core.Mailbox     { return w.mailbox }
func (w *Worker) Advertised() netip.AddrPort { return w.advertised }

// Close releases a worker that was never run.
func (w *Worker) Close() error {
	w.mailbox.Close()
	return w.conn.Close()
}

// wake interrupts a blocked read. Helper goroutines of the pipeline call it
// after queuing work for the loop.
func (w *Worker) wake() {
	_ = w.conn.SetReadDeadline(time.Now())
}

// Run drives the worker until ctx is done or the socket fails. The socket
// and the mailbox are closed when it returns.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	states := sfu.NewServerStates(w.server, w.advertised, w.wake, w.log)
	pipeline := buildPipeline(states, w.log)

	metrics.MediaWorkers.Inc()
	defer metrics.MediaWorkers.Dec()

	w.log.Info().Str("advertised", w.advertised.String()).Msg("media worker started")
	pipeline.TransportActive()
	defer w.stop(pipeline)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("media worker stopping")
			return nil
		default:
		}

		w.flush(pipeline)
		w.applySignaling(states)

		now := time.Now()
		eto := now.Add(MaxWait)
		pipeline.PollTimeout(&eto)
		if !eto.After(now) {
			pipeline.HandleTimeout(now)
			continue
		}

		if err := w.conn.SetReadDeadline(eto); err != nil {
			return fmt.Errorf("transport: set read deadline: %w", err)
		}
		n, peer, err := w.conn.ReadFromUDPAddrPort(w.buf)
		switch {
		case err == nil:
			w.received.Inc()
			raw := make([]byte, n)
			copy(raw, w.buf[:n])
			pipeline.Read(&sfu.Message{
				Now:   time.Now(),
				Local: w.local,
				Peer:  netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port()),
				Raw:   raw,
			})
		case errors.Is(err, os.ErrDeadlineExceeded):
		default:
			return fmt.Errorf("transport: read: %w", err)
		}

		pipeline.HandleTimeout(time.Now())
		w.endpoints.Set(float64(states.EndpointCount()))
	}
}

func (w *Worker) flush(pipeline *sfu.Pipeline) {
	for {
		t, ok := pipeline.PollTransmit()
		if !ok {
			return
		}
		if _, err := w.conn.WriteToUDPAddrPort(t.Message, t.Peer); err != nil {
			w.sendErrors.Inc()
			w.log.Warn().Err(err).Str("peer", t.Peer.String()).Msg("send failed")
			continue
		}
		w.sent.Inc()
	}
}

// applySignaling handles at most one queued request and always replies.
func (w *Worker) applySignaling(states *sfu.ServerStates) {
	env, ok := w.mailbox.TryReceive()
	if !ok {
		return
	}
	kind := core.KindOf(env.Request)
	resp := w.handle(states, env.Request)
	if !env.Respond(resp) {
		w.log.Warn().Str("request", kind).Msg("reply channel already used")
	}
	metrics.SignalingProcessed.WithLabelValues(metrics.Port(w.Port()), kind).Inc()
	w.endpoints.Set(float64(states.EndpointCount()))
}

func (w *Worker) handle(states *sfu.ServerStates, req core.Request) (resp core.Response) {
	target := req.Scope()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("target", target.String()).Msg("signaling panicked")
			resp = core.Err{Target: target, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	resp, err := states.HandleSignaling(req)
	if err != nil {
		w.log.Warn().Err(err).Str("target", target.String()).Str("request", core.KindOf(req)).Msg("signaling failed")
		return core.Err{Target: target, Reason: err.Error()}
	}
	return resp
}

func (w *Worker) stop(pipeline *sfu.Pipeline) {
	pipeline.TransportInactive()

	w.mailbox.Close()
	for {
		env, ok := w.mailbox.TryReceive()
		if !ok {
			break
		}
		env.Respond(core.Err{Target: env.Request.Scope(), Reason: "media worker stopped"})
	}

	if err := w.conn.Close(); err != nil {
		w.log.Debug().Err(err).Msg("close socket")
	}
	w.endpoints.Set(0)
	w.log.Info().Msg("media worker stopped")
}
