package sfu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
)

// STUNHandler answers ICE connectivity checks and binds the peer address to
// the endpoint. Every other datagram is tagged with its endpoint or dropped.
type STUNHandler struct {
	Base
	states *ServerStates
}

func NewSTUNHandler(states *ServerStates) *STUNHandler {
	return &STUNHandler{states: states}
}

func (h *STUNHandler) Name() string { return "stun" }

func (h *STUNHandler) HandleRead(ctx *Context, msg *Message) {
	if msg.Kind != KindSTUN {
		ep, ok := h.states.EndpointByPeer(msg.Peer)
		if !ok {
			h.states.log.Trace().Str("peer", msg.Peer.String()).Str("kind", msg.Kind.String()).Msg("datagram from unbound peer")
			return
		}
		msg.Key = ep.key
		msg.Bound = true
		ep.lastSeen = msg.Now
		ctx.FireRead(msg)
		return
	}
	if err := h.handleBinding(ctx, msg); err != nil {
		var se *SessionError
		switch {
		case errors.As(err, &se):
		case msg.Bound:
			se = scoped(h.Name(), msg.Key, err)
		default:
			se = unscoped(h.Name(), err)
			if ep, ok := h.states.EndpointByPeer(msg.Peer); ok {
				se = scoped(h.Name(), ep.key, err)
			}
		}
		ctx.FireException(se)
	}
}

func (h *STUNHandler) handleBinding(ctx *Context, msg *Message) error {
	m := &stun.Message{Raw: msg.Raw}
	if err := m.Decode(); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if m.Type != stun.BindingRequest {
		return nil
	}

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	local, _, _ := strings.Cut(string(username), ":")
	ep, ok := h.states.EndpointByUfrag(local)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUfrag, local)
	}

	integrity := stun.NewShortTermIntegrity(ep.localPwd)
	if err := integrity.Check(m); err != nil {
		return scoped(h.Name(), ep.key, fmt.Errorf("integrity: %w", err))
	}
	if m.Contains(stun.AttrFingerprint) {
		if err := stun.Fingerprint.Check(m); err != nil {
			return scoped(h.Name(), ep.key, fmt.Errorf("fingerprint: %w", err))
		}
	}

	if ep.peer != msg.Peer {
		h.states.log.Debug().Str("endpoint", ep.key.String()).Str("peer", msg.Peer.String()).Msg("binding peer")
	}
	h.states.BindPeer(ep, msg.Peer)
	ep.lastSeen = msg.Now

	resp, err := stun.Build(
		stun.BindingSuccess,
		stun.NewTransactionIDSetter(m.TransactionID),
		&stun.XORMappedAddress{
			IP:   msg.Peer.Addr().AsSlice(),
			Port: int(msg.Peer.Port()),
		},
		integrity,
		stun.Fingerprint,
	)
	if err != nil {
		return scoped(h.Name(), ep.key, fmt.Errorf("build response: %w", err))
	}
	ctx.Write(Transmit{Now: msg.Now, Peer: msg.Peer, Message: resp.Raw})
	return nil
}
