package sfu

import (
	"fmt"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/sctp"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

type associationResult struct {
	key   domain.EndpointKey
	conn  *dtls.Conn
	assoc *sctp.Association
	err   error
}

// SCTPHandler runs the SCTP server association of endpoints that negotiated
// an application m-line, on top of their DTLS connection.
type SCTPHandler struct {
	Base
	states  *ServerStates
	results chan associationResult
}

func NewSCTPHandler(states *ServerStates) *SCTPHandler {
	return &SCTPHandler{
		states:  states,
		results: make(chan associationResult, 64),
	}
}

func (h *SCTPHandler) Name() string { return "sctp" }

func (h *SCTPHandler) HandleRead(ctx *Context, msg *Message) {
	if msg.Kind == KindDTLSConnected {
		if ep, ok := h.states.Endpoint(msg.Key); ok && ep.hasData && ep.dtls != nil && ep.dtls.conn != nil {
			h.start(ep)
		}
	}
	ctx.FireRead(msg)
}

func (h *SCTPHandler) start(ep *Endpoint) {
	cfg := h.states.config
	key, conn := ep.key, ep.dtls.conn
	go func() {
		assoc, err := sctp.Server(sctp.Config{
			NetConn:              conn,
			MaxReceiveBufferSize: cfg.SCTPBuffer,
			LoggerFactory:        cfg.LoggerFactory,
		})
		res := associationResult{key: key, conn: conn, assoc: assoc, err: err}
		select {
		case h.results <- res:
			h.states.Wake()
		case <-h.states.closed:
			if assoc != nil {
				_ = assoc.Close()
			}
		}
	}()
}

func (h *SCTPHandler) PollTimeout(eto *time.Time) {
	if len(h.results) > 0 {
		*eto = time.Time{}
	}
}

func (h *SCTPHandler) HandleTimeout(ctx *Context, now time.Time) {
	for {
		select {
		case res := <-h.results:
			h.complete(ctx, res, now)
		default:
			return
		}
	}
}

func (h *SCTPHandler) complete(ctx *Context, res associationResult, now time.Time) {
	ep, ok := h.states.Endpoint(res.key)
	if !ok || ep.dtls == nil || ep.dtls.conn != res.conn {
		if res.assoc != nil {
			_ = res.assoc.Close()
		}
		return
	}
	if res.err != nil {
		ctx.FireException(scoped(h.Name(), ep.key, fmt.Errorf("association: %w", res.err)))
		return
	}
	ep.sctp = res.assoc
	h.states.log.Debug().Str("endpoint", ep.key.String()).Msg("sctp associated")
	ctx.FireRead(&Message{
		Now:   now,
		Local: h.states.local,
		Peer:  ep.peer,
		Kind:  KindSCTPAssociated,
		Key:   ep.key,
		Bound: true,
	})
}
