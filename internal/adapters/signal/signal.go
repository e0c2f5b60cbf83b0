// Package signal serves the websocket signaling channel of one endpoint.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

var (
	ErrBackpressure = errors.New("signal: backpressure")
	ErrConnClosed   = errors.New("signal: connection closed")
)

// Service is the signaling bridge as seen by the websocket controller.
type Service interface {
	Offer(ctx context.Context, session domain.SessionID, endpoint domain.EndpointID, offer []byte) ([]byte, error)
	Leave(ctx context.Context, session domain.SessionID, endpoint domain.EndpointID) error
}

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
	// RateLimit is messages per second per endpoint, zero disables it.
	RateLimit float64
	RateBurst int
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32 << 10
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	return c
}

type SignalWSController struct {
	svc      Service
	cfg      Config
	registry *Registry
	limiter  *RateLimiter
}

func NewSignalWSController(svc Service, cfg Config) *SignalWSController {
	cfg = cfg.withDefaults()
	return &SignalWSController{
		svc:      svc,
		cfg:      cfg,
		registry: NewRegistry(),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
}

func (ctl *SignalWSController) Registry() *Registry { return ctl.registry }

type WsSignalConn struct {
	key  domain.EndpointKey
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	closed  bool
	offered bool
}

func (c *WsSignalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) setOffered(v bool) {
	c.mu.Lock()
	c.offered = v
	c.mu.Unlock()
}

func (c *WsSignalConn) isOffered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offered
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves key until the socket or ctx
// closes. A newer socket for the same endpoint replaces this one.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, key domain.EndpointKey) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("endpoint", key.String()).Msg("new WS connection")

	ws.SetReadLimit(ctl.cfg.ReadLimit)
	conn := &WsSignalConn{
		key:  key,
		conn: ws,
		send: make(chan []byte, ctl.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.registry.Bind(key, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn, cancel)
}
