package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("endpoint", c.key.String()).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(ctl.cfg.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "signal").Str("endpoint", c.key.String()).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.registry.Unbind(c.key, c)
		if !ctl.registry.Has(c.key) {
			ctl.limiter.Forget(c.key)
			ctl.autoLeave(c)
		}
	}()

	wait := ctl.cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("endpoint", c.key.String()).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		if ctx.Err() != nil {
			return
		}
		ctl.handleSignal(ctx, c, data)
	}
}

// autoLeave tears the endpoint down when its socket goes away after an
// answered offer.
func (ctl *SignalWSController) autoLeave(c *WsSignalConn) {
	if !c.isOffered() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ctl.cfg.WriteWait)
	defer cancel()
	if err := ctl.svc.Leave(ctx, c.key.Session, c.key.Endpoint); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("endpoint", c.key.String()).Msg("auto leave failed")
		return
	}
	log.Info().Str("module", "signal").Str("endpoint", c.key.String()).Msg("endpoint left on disconnect")
}

type inbound struct {
	Type string `json:"type"`
	SDP  string `json:"sdp,omitempty"`
}

type outbound struct {
	Type  string `json:"type"`
	SDP   string `json:"sdp,omitempty"`
	Error string `json:"error,omitempty"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, errors.New("invalid message"))
		return
	}
	if !ctl.limiter.Allow(c.key) {
		ctl.sendError(c, errors.New("rate limit exceeded"))
		return
	}

	switch msg.Type {
	case "offer":
		ctl.handleOffer(ctx, c, msg)
	case "leave":
		ctl.handleLeave(ctx, c)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown signal")
		ctl.sendError(c, errors.New("unknown message type "+msg.Type))
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("endpoint", c.key.String()).Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, err error) {
	ctl.sendJSON(c, outbound{Type: "error", Error: err.Error()})
}
