package sfu

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// SRTPHandler decrypts media of connected endpoints and parses it.
type SRTPHandler struct {
	Base
	states *ServerStates
}

func NewSRTPHandler(states *ServerStates) *SRTPHandler {
	return &SRTPHandler{states: states}
}

func (h *SRTPHandler) Name() string { return "srtp" }

func (h *SRTPHandler) HandleRead(ctx *Context, msg *Message) {
	if msg.Kind != KindRTP && msg.Kind != KindRTCP {
		ctx.FireRead(msg)
		return
	}
	ep, ok := h.states.Endpoint(msg.Key)
	if !msg.Bound || !ok {
		return
	}
	if ep.srtpRemote == nil {
		// media racing the end of the handshake
		h.states.log.Trace().Str("endpoint", ep.key.String()).Msg("media before srtp keys")
		return
	}

	if msg.Kind == KindRTP {
		plain, err := ep.srtpRemote.DecryptRTP(nil, msg.Raw, nil)
		if err != nil {
			ctx.FireException(scoped(h.Name(), ep.key, fmt.Errorf("decrypt rtp: %w", err)))
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(plain); err != nil {
			ctx.FireException(scoped(h.Name(), ep.key, fmt.Errorf("parse rtp: %w", err)))
			return
		}
		msg.RTP = pkt
	} else {
		plain, err := ep.srtpRemote.DecryptRTCP(nil, msg.Raw, nil)
		if err != nil {
			ctx.FireException(scoped(h.Name(), ep.key, fmt.Errorf("decrypt rtcp: %w", err)))
			return
		}
		pkts, err := rtcp.Unmarshal(plain)
		if err != nil {
			ctx.FireException(scoped(h.Name(), ep.key, fmt.Errorf("parse rtcp: %w", err)))
			return
		}
		msg.RTCP = pkts
	}
	ctx.FireRead(msg)
}
