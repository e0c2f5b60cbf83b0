package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/domain"
	"github.com/DO-2K23-26/beep-rtc/internal/metrics"
)

const DefaultTimeout = 5 * time.Second

type BridgeConfig struct {
	// Timeout bounds the wait for a worker reply. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Bridge is safe for concurrent use by any number of request handlers.
type Bridge struct {
	table   *RoutingTable
	timeout time.Duration
	log     zerolog.Logger
}

func NewBridge(table *RoutingTable, cfg BridgeConfig) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Bridge{
		table:   table,
		timeout: cfg.Timeout,
		log:     log.With().Str("module", "signaling").Logger(),
	}
}

func (b *Bridge) Table() *RoutingTable { return b.table }

// Offer hands the JSON offer to the worker owning session and returns the
// JSON answer it produced.
func (b *Bridge) Offer(ctx context.Context, session domain.SessionID, endpoint domain.EndpointID, offer []byte) ([]byte, error) {
	target := core.Target{Session: session, Endpoint: endpoint}
	resp, err := b.roundTrip(ctx, core.Offer{Target: target, SDP: offer})
	if err != nil {
		return nil, b.observe("offer", err)
	}
	switch r := resp.(type) {
	case core.Answer:
		return r.SDP, b.observe("offer", nil)
	case core.Err:
		return nil, b.observe("offer", &RemoteError{Session: session, Endpoint: endpoint, Reason: r.Reason})
	default:
		b.log.Error().Str("target", target.String()).Str("response", core.KindOf(resp)).Msg("protocol violation on offer")
		return nil, b.observe("offer", fmt.Errorf("%w: %s to offer", ErrUnexpectedResponse, core.KindOf(resp)))
	}
}

// Leave asks the owning worker to tear the endpoint down.
func (b *Bridge) Leave(ctx context.Context, session domain.SessionID, endpoint domain.EndpointID) error {
	target := core.Target{Session: session, Endpoint: endpoint}
	resp, err := b.roundTrip(ctx, core.Leave{Target: target})
	if err != nil {
		return b.observe("leave", err)
	}
	switch r := resp.(type) {
	case core.Ok:
		return b.observe("leave", nil)
	case core.Err:
		return b.observe("leave", &RemoteError{Session: session, Endpoint: endpoint, Reason: r.Reason})
	default:
		b.log.Error().Str("target", target.String()).Str("response", core.KindOf(resp)).Msg("protocol violation on leave")
		return b.observe("leave", fmt.Errorf("%w: %s to leave", ErrUnexpectedResponse, core.KindOf(resp)))
	}
}

func (b *Bridge) roundTrip(ctx context.Context, req core.Request) (core.Response, error) {
	kind := core.KindOf(req)
	start := time.Now()
	defer func() {
		metrics.SignalingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	port, mb, ok := b.table.Route(req.Scope().Session)
	if !ok {
		return nil, ErrNoMediaPort
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	env, reply := core.NewEnvelope(req)
	if err := mb.Send(ctx, env); err != nil {
		return nil, b.sendError(port, err)
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-mb.Done():
		// the worker may have answered right before exiting
		select {
		case resp := <-reply:
			return resp, nil
		default:
			return nil, ErrWorkerGone
		}
	case <-ctx.Done():
		return nil, b.waitError(ctx.Err())
	}
}

func (b *Bridge) sendError(port uint16, err error) error {
	switch {
	case errors.Is(err, core.ErrMailboxClosed):
		b.log.Warn().Uint16("port", port).Msg("media worker gone")
		return ErrWorkerGone
	default:
		return b.waitError(err)
	}
}

func (b *Bridge) waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func (b *Bridge) observe(kind string, err error) error {
	result := "ok"
	var remote *RemoteError
	switch {
	case err == nil:
	case errors.As(err, &remote):
		result = "remote_error"
	case errors.Is(err, ErrNoMediaPort):
		result = "no_port"
	case errors.Is(err, ErrWorkerGone):
		result = "worker_gone"
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case errors.Is(err, ErrUnexpectedResponse):
		result = "violation"
	default:
		result = "error"
	}
	metrics.SignalingRequests.WithLabelValues(kind, result).Inc()
	return err
}
