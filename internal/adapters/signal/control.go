package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
)

func (ctl *SignalWSController) handleOffer(ctx context.Context, c *WsSignalConn, msg inbound) {
	if msg.SDP == "" {
		ctl.sendError(c, errors.New("offer without sdp"))
		return
	}
	offer, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	raw, err := ctl.svc.Offer(ctx, c.key.Session, c.key.Endpoint, offer)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		ctl.sendError(c, err)
		return
	}
	c.setOffered(true)
	ctl.sendJSON(c, outbound{Type: answer.Type.String(), SDP: answer.SDP})
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, c *WsSignalConn) {
	if err := ctl.svc.Leave(ctx, c.key.Session, c.key.Endpoint); err != nil {
		ctl.sendError(c, err)
		return
	}
	c.setOffered(false)
	ctl.sendJSON(c, outbound{Type: "left"})
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, outbound{Type: "pong"})
}
