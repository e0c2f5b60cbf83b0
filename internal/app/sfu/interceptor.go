package sfu

import (
	"time"

	"github.com/pion/randutil"
	"github.com/pion/rtcp"
)

// streamStats tracks reception of one inbound SSRC (RFC 3550 A.3).
type streamStats struct {
	ssrc     uint32
	started  bool
	baseSeq  uint16
	maxSeq   uint16
	cycles   uint32
	received uint32

	expectedPrior uint32
	receivedPrior uint32

	lastSR     uint32
	lastSRTime time.Time
}

func (s *streamStats) update(seq uint16) {
	s.received++
	if !s.started {
		s.started = true
		s.baseSeq = seq
		s.maxSeq = seq
		return
	}
	if delta := seq - s.maxSeq; delta != 0 && delta < 0x8000 {
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	}
}

func (s *streamStats) report(now time.Time) rtcp.ReceptionReport {
	extMax := s.cycles + uint32(s.maxSeq)
	expected := extMax - uint32(s.baseSeq) + 1

	lost := int64(expected) - int64(s.received)
	switch {
	case lost < 0:
		lost = 0
	case lost > 0x7fffff:
		lost = 0x7fffff
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	var fraction uint8
	if lostInterval := int64(expectedInterval) - int64(receivedInterval); expectedInterval > 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	var delay uint32
	if !s.lastSRTime.IsZero() {
		delay = uint32(now.Sub(s.lastSRTime).Seconds() * 65536)
	}
	return rtcp.ReceptionReport{
		SSRC:               s.ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(lost),
		LastSequenceNumber: extMax,
		LastSenderReport:   s.lastSR,
		Delay:              delay,
	}
}

// InterceptorHandler keeps receive statistics and sends receiver reports
// back to publishers.
type InterceptorHandler struct {
	Base
	states *ServerStates
	ssrc   uint32
}

func NewInterceptorHandler(states *ServerStates) *InterceptorHandler {
	return &InterceptorHandler{
		states: states,
		ssrc:   randutil.NewMathRandomGenerator().Uint32(),
	}
}

func (h *InterceptorHandler) Name() string { return "interceptor" }

func (h *InterceptorHandler) HandleRead(ctx *Context, msg *Message) {
	ep, ok := h.states.Endpoint(msg.Key)
	if !msg.Bound || !ok {
		ctx.FireRead(msg)
		return
	}
	switch msg.Kind {
	case KindRTP:
		if msg.RTP == nil {
			break
		}
		st := ep.stream(msg.RTP.SSRC)
		st.update(msg.RTP.SequenceNumber)
		if ep.nextReport.IsZero() {
			ep.nextReport = msg.Now.Add(h.states.config.ReportInterval)
		}
	case KindRTCP:
		for _, p := range msg.RTCP {
			if sr, ok := p.(*rtcp.SenderReport); ok {
				st := ep.stream(sr.SSRC)
				st.lastSR = uint32(sr.NTPTime >> 16)
				st.lastSRTime = msg.Now
			}
		}
	}
	ctx.FireRead(msg)
}

func (ep *Endpoint) stream(ssrc uint32) *streamStats {
	if ep.streams == nil {
		ep.streams = make(map[uint32]*streamStats)
	}
	st, ok := ep.streams[ssrc]
	if !ok {
		st = &streamStats{ssrc: ssrc}
		ep.streams[ssrc] = st
	}
	return st
}

func (h *InterceptorHandler) PollTimeout(eto *time.Time) {
	h.states.Endpoints(func(ep *Endpoint) {
		if !ep.nextReport.IsZero() && ep.nextReport.Before(*eto) {
			*eto = ep.nextReport
		}
	})
}

func (h *InterceptorHandler) HandleTimeout(ctx *Context, now time.Time) {
	h.states.Endpoints(func(ep *Endpoint) {
		if ep.nextReport.IsZero() || now.Before(ep.nextReport) {
			return
		}
		ep.nextReport = now.Add(h.states.config.ReportInterval)
		if !ep.Connected() || !ep.Bound() {
			return
		}
		rr := &rtcp.ReceiverReport{SSRC: h.ssrc}
		for _, st := range ep.streams {
			if st.started {
				rr.Reports = append(rr.Reports, st.report(now))
			}
		}
		if len(rr.Reports) == 0 {
			return
		}
		if err := writeRTCP(ctx, ep, now, []rtcp.Packet{rr}); err != nil {
			ctx.FireException(scoped(h.Name(), ep.key, err))
		}
	})
}

// writeRTCP encrypts pkts for ep and queues them.
func writeRTCP(ctx *Context, ep *Endpoint, now time.Time, pkts []rtcp.Packet) error {
	if !ep.Bound() {
		return ErrEndpointNotBound
	}
	if ep.srtpLocal == nil {
		return ErrNoSRTPContext
	}
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}
	enc, err := ep.srtpLocal.EncryptRTCP(nil, raw, nil)
	if err != nil {
		return err
	}
	ctx.Write(Transmit{Now: now, Peer: ep.peer, Message: enc})
	return nil
}
