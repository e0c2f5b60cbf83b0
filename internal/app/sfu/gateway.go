package sfu

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// GatewayHandler forwards media and data between the endpoints of a session
// and expires idle endpoints.
type GatewayHandler struct {
	Base
	states *ServerStates
}

func NewGatewayHandler(states *ServerStates) *GatewayHandler {
	return &GatewayHandler{states: states}
}

func (h *GatewayHandler) Name() string { return "gateway" }

func (h *GatewayHandler) HandleRead(ctx *Context, msg *Message) {
	ep, ok := h.states.Endpoint(msg.Key)
	if !msg.Bound || !ok {
		ctx.FireRead(msg)
		return
	}
	sess, _ := h.states.Session(msg.Key.Session)

	var err error
	switch msg.Kind {
	case KindDTLSConnected:
		h.subscribe(ctx, sess, ep, msg.Now)
	case KindRTP:
		if msg.RTP == nil {
			ctx.FireRead(msg)
			return
		}
		err = h.forwardRTP(ctx, sess, ep, msg.RTP, msg.Now)
	case KindRTCP:
		h.forwardRTCP(ctx, sess, ep, msg.RTCP, msg.Now)
	case KindData:
		if msg.Data == nil {
			ctx.FireRead(msg)
			return
		}
		h.relayData(ctx, sess, ep, msg.Data)
	default:
		ctx.FireRead(msg)
		return
	}
	if err != nil {
		ctx.FireException(scoped(h.Name(), ep.key, err))
	}
}

// subscribe attaches a freshly connected endpoint to every relay of its
// session and asks the publishers for a key frame.
func (h *GatewayHandler) subscribe(ctx *Context, sess *Session, ep *Endpoint, now time.Time) {
	for _, relay := range sess.relays {
		if relay.publisher == ep.key.Endpoint {
			continue
		}
		h.attach(relay, ep)
		if pub, ok := sess.endpoints[relay.publisher]; ok {
			h.requestKeyFrame(ctx, pub, relay.ssrc, now)
		}
	}
}

func (h *GatewayHandler) attach(relay *Relay, sub *Endpoint) {
	ot := relay.AddOutTrack(sub.key.Endpoint)
	if sub.receives {
		ot.MarkOk()
	} else {
		ot.MarkMuted()
	}
}

func (h *GatewayHandler) requestKeyFrame(ctx *Context, pub *Endpoint, ssrc uint32, now time.Time) {
	pli := &rtcp.PictureLossIndication{MediaSSRC: ssrc}
	if err := writeRTCP(ctx, pub, now, []rtcp.Packet{pli}); err != nil {
		h.states.log.Debug().Err(err).Str("endpoint", pub.key.String()).Msg("cannot request key frame")
	}
}

func (h *GatewayHandler) forwardRTP(ctx *Context, sess *Session, ep *Endpoint, pkt *rtp.Packet, now time.Time) error {
	relay, ok := sess.relays[pkt.SSRC]
	if !ok {
		relay = NewRelay(ep.key.Endpoint, pkt.SSRC)
		for id, sub := range sess.endpoints {
			if id != ep.key.Endpoint && sub.Connected() {
				h.attach(relay, sub)
			}
		}
		sess.relays[pkt.SSRC] = relay
		h.states.log.Debug().Str("endpoint", ep.key.String()).Uint32("ssrc", pkt.SSRC).Msg("new relay")
	}
	if relay.publisher != ep.key.Endpoint {
		return fmt.Errorf("ssrc %d already published by endpoint %d", pkt.SSRC, relay.publisher)
	}

	return relay.forward(pkt, func(id domain.EndpointID, raw []byte) error {
		sub, ok := sess.endpoints[id]
		if !ok {
			return fmt.Errorf("subscriber %d gone", id)
		}
		if !sub.Bound() {
			return ErrEndpointNotBound
		}
		if sub.srtpLocal == nil {
			return ErrNoSRTPContext
		}
		enc, err := sub.srtpLocal.EncryptRTP(nil, raw, nil)
		if err != nil {
			return err
		}
		ctx.Write(Transmit{Now: now, Peer: sub.peer, Message: enc})
		return nil
	})
}

// forwardRTCP sends subscriber feedback to the publisher of the media SSRC.
func (h *GatewayHandler) forwardRTCP(ctx *Context, sess *Session, ep *Endpoint, pkts []rtcp.Packet, now time.Time) {
	feedback := make(map[domain.EndpointID][]rtcp.Packet)
	for _, p := range pkts {
		var media uint32
		switch fb := p.(type) {
		case *rtcp.PictureLossIndication:
			media = fb.MediaSSRC
		case *rtcp.FullIntraRequest:
			media = fb.MediaSSRC
		case *rtcp.TransportLayerNack:
			media = fb.MediaSSRC
		default:
			continue
		}
		relay, ok := sess.relays[media]
		if !ok || relay.publisher == ep.key.Endpoint {
			continue
		}
		feedback[relay.publisher] = append(feedback[relay.publisher], p)
	}
	for id, out := range feedback {
		pub, ok := sess.endpoints[id]
		if !ok {
			continue
		}
		if err := writeRTCP(ctx, pub, now, out); err != nil {
			ctx.FireException(scoped(h.Name(), pub.key, fmt.Errorf("feedback: %w", err)))
		}
	}
}

// relayData writes the message to the same-label channel of every other endpoint.
func (h *GatewayHandler) relayData(ctx *Context, sess *Session, ep *Endpoint, data *DataMessage) {
	for id, other := range sess.endpoints {
		if id == ep.key.Endpoint {
			continue
		}
		dc, ok := other.channels[data.Label]
		if !ok {
			continue
		}
		if _, err := dc.WriteDataChannel(data.Payload, data.IsString); err != nil {
			ctx.FireException(scoped(h.Name(), other.key, fmt.Errorf("data channel %q: %w", data.Label, err)))
		}
	}
}

func (h *GatewayHandler) PollTimeout(eto *time.Time) {
	idle := h.states.config.IdleTimeout
	h.states.Endpoints(func(ep *Endpoint) {
		if deadline := ep.lastSeen.Add(idle); deadline.Before(*eto) {
			*eto = deadline
		}
	})
}

func (h *GatewayHandler) HandleTimeout(_ *Context, now time.Time) {
	idle := h.states.config.IdleTimeout
	var expired []domain.EndpointKey
	h.states.Endpoints(func(ep *Endpoint) {
		if now.Sub(ep.lastSeen) > idle {
			expired = append(expired, ep.key)
		}
	})
	for _, key := range expired {
		h.states.log.Info().Str("endpoint", key.String()).Dur("idle", idle).Msg("endpoint expired")
		h.states.RemoveEndpoint(key, "idle timeout")
	}
}

// TransportInactive releases every endpoint of the worker.
func (h *GatewayHandler) TransportInactive(*Context) {
	h.states.Close("transport inactive")
}
