package sfu

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/srtp/v3"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

const transmitQueue = 1024

// dtlsTransport is the DTLS server side of one endpoint.
type dtlsTransport struct {
	pc     *packetConn
	conn   *dtls.Conn
	cancel context.CancelFunc
}

func (t *dtlsTransport) close() {
	t.cancel()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	_ = t.pc.Close()
}

type handshakeResult struct {
	key       domain.EndpointKey
	transport *dtlsTransport
	conn      *dtls.Conn
	local     *srtp.Context
	remote    *srtp.Context
	profile   dtls.SRTPProtectionProfile
	err       error
}

// DTLSHandler runs one DTLS server per endpoint and installs the SRTP keys
// exported by the handshake.
type DTLSHandler struct {
	Base
	states  *ServerStates
	out     chan Transmit
	results chan handshakeResult
}

func NewDTLSHandler(states *ServerStates) *DTLSHandler {
	return &DTLSHandler{
		states:  states,
		out:     make(chan Transmit, transmitQueue),
		results: make(chan handshakeResult, 64),
	}
}

func (h *DTLSHandler) Name() string { return "dtls" }

func (h *DTLSHandler) HandleRead(ctx *Context, msg *Message) {
	if msg.Kind != KindDTLS {
		ctx.FireRead(msg)
		return
	}
	ep, ok := h.states.Endpoint(msg.Key)
	if !msg.Bound || !ok {
		return
	}
	if ep.dtls == nil {
		h.start(ep)
	}
	if err := ep.dtls.pc.push(msg.Raw); err != nil {
		ctx.FireException(scoped(h.Name(), ep.key, fmt.Errorf("queue record: %w", err)))
	}
}

func (h *DTLSHandler) start(ep *Endpoint) {
	cfg := h.states.config
	hctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	t := &dtlsTransport{
		pc:     newPacketConn(h.states.local, ep.peer, h.out, h.states.Wake),
		cancel: cancel,
	}
	ep.dtls = t
	h.states.log.Debug().Str("endpoint", ep.key.String()).Msg("starting dtls handshake")

	key, fp := ep.key, ep.fingerprint
	go func() {
		res := handshake(hctx, t, cfg.DTLS, fp)
		res.key = key
		select {
		case h.results <- res:
			h.states.Wake()
		case <-h.states.closed:
			if res.conn != nil {
				_ = res.conn.Close()
			}
		}
	}()
}

func handshake(ctx context.Context, t *dtlsTransport, cfg *dtls.Config, fp Fingerprint) handshakeResult {
	res := handshakeResult{transport: t}
	conn, err := dtls.Server(t.pc, t.pc.RemoteAddr(), cfg)
	if err != nil {
		res.err = fmt.Errorf("dtls server: %w", err)
		return res
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		res.err = fmt.Errorf("handshake: %w", err)
		return res
	}

	state, ok := conn.ConnectionState()
	if !ok {
		_ = conn.Close()
		res.err = fmt.Errorf("handshake: %w", ErrTransportClosed)
		return res
	}
	if err := fp.Verify(state.PeerCertificates); err != nil {
		_ = conn.Close()
		res.err = err
		return res
	}
	profile, ok := conn.SelectedSRTPProtectionProfile()
	if !ok {
		_ = conn.Close()
		res.err = ErrNoSRTPProfile
		return res
	}

	keys := &srtp.Config{Profile: srtp.ProtectionProfile(profile)}
	if err := keys.ExtractSessionKeysFromDTLS(&state, false); err != nil {
		_ = conn.Close()
		res.err = fmt.Errorf("export keys: %w", err)
		return res
	}
	local, err := srtp.CreateContext(keys.Keys.LocalMasterKey, keys.Keys.LocalMasterSalt, keys.Profile)
	if err == nil {
		res.remote, err = srtp.CreateContext(keys.Keys.RemoteMasterKey, keys.Keys.RemoteMasterSalt, keys.Profile)
	}
	if err != nil {
		_ = conn.Close()
		res.err = fmt.Errorf("srtp context: %w", err)
		return res
	}
	res.conn, res.local, res.profile = conn, local, profile
	return res
}

func (h *DTLSHandler) PollTransmit() (Transmit, bool) {
	select {
	case t := <-h.out:
		return t, true
	default:
		return Transmit{}, false
	}
}

func (h *DTLSHandler) PollTimeout(eto *time.Time) {
	if len(h.out) > 0 || len(h.results) > 0 {
		*eto = time.Time{}
	}
}

func (h *DTLSHandler) HandleTimeout(ctx *Context, now time.Time) {
	for {
		select {
		case res := <-h.results:
			h.complete(ctx, res, now)
		default:
			return
		}
	}
}

func (h *DTLSHandler) complete(ctx *Context, res handshakeResult, now time.Time) {
	ep, ok := h.states.Endpoint(res.key)
	if !ok || ep.dtls != res.transport {
		// endpoint was removed or replaced while the handshake ran
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	if res.err != nil {
		ctx.FireException(scoped(h.Name(), ep.key, res.err))
		h.states.RemoveEndpoint(ep.key, "dtls handshake failed")
		return
	}

	ep.dtls.conn = res.conn
	ep.srtpLocal = res.local
	ep.srtpRemote = res.remote
	h.states.log.Info().
		Str("endpoint", ep.key.String()).
		Str("peer", ep.peer.String()).
		Uint16("profile", uint16(res.profile)).
		Msg("dtls connected")

	ctx.FireRead(&Message{
		Now:   now,
		Local: h.states.local,
		Peer:  ep.peer,
		Kind:  KindDTLSConnected,
		Key:   ep.key,
		Bound: true,
	})
}

// TransportInactive drops queued records; the endpoints are torn down by the gateway.
func (h *DTLSHandler) TransportInactive(*Context) {
	for {
		select {
		case <-h.out:
		case res := <-h.results:
			if res.conn != nil {
				_ = res.conn.Close()
			}
		default:
			return
		}
	}
}
