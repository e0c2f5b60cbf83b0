package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/DO-2K23-26/beep-rtc/internal/adapters/signal"
	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

type handlers struct {
	svc signal.Service
}

// OfferRequest is the body of POST /offer.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

func (h *handlers) health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *handlers) offer(c *gin.Context) {
	key, ok := endpointKey(c)
	if !ok {
		return
	}
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SDP == "" {
		c.String(http.StatusBadRequest, "invalid session description")
		return
	}
	if webrtc.NewSDPType(req.Type) != webrtc.SDPTypeOffer {
		c.String(http.StatusBadRequest, "session description type must be offer")
		return
	}
	offer, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP})
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	answer, err := h.svc.Offer(c.Request.Context(), key.Session, key.Endpoint, offer)
	if err != nil {
		log.Warn().Str("module", "adapters.http").Err(err).Str("endpoint", key.String()).Msg("offer failed")
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", answer)
}

func (h *handlers) leave(c *gin.Context) {
	key, ok := endpointKey(c)
	if !ok {
		return
	}
	if err := h.svc.Leave(c.Request.Context(), key.Session, key.Endpoint); err != nil {
		log.Warn().Str("module", "adapters.http").Err(err).Str("endpoint", key.String()).Msg("leave failed")
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.String(http.StatusOK, "OK")
}

// endpointKey parses the path ids and answers 400 when they are malformed.
func endpointKey(c *gin.Context) (domain.EndpointKey, bool) {
	session, err := domain.ParseSessionID(c.Param("session"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return domain.EndpointKey{}, false
	}
	endpoint, err := domain.ParseEndpointID(c.Param("endpoint"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return domain.EndpointKey{}, false
	}
	return domain.EndpointKey{Session: session, Endpoint: endpoint}, true
}
