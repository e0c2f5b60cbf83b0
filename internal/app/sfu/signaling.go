package sfu

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
)

const (
	iceRunes    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ufragLength = 16
	pwdLength   = 32
)

// HandleSignaling applies a control-plane request to the arena and returns
// the response for the caller.
func (s *ServerStates) HandleSignaling(req core.Request) (core.Response, error) {
	switch r := req.(type) {
	case core.Offer:
		answer, err := s.acceptOffer(r)
		if err != nil {
			return nil, err
		}
		return core.Answer{Target: r.Target, SDP: answer}, nil
	case core.Leave:
		if !s.RemoveEndpoint(r.Key(), "leave") {
			s.log.Debug().Str("endpoint", r.Key().String()).Msg("leave for unknown endpoint")
		}
		return core.Ok{Target: r.Target}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
}

func (s *ServerStates) acceptOffer(offer core.Offer) ([]byte, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer.SDP, &desc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidOffer, desc.Type.String())
	}
	remote, err := parseOffer(desc.SDP)
	if err != nil {
		return nil, err
	}

	ufrag, pwd, err := s.credentials()
	if err != nil {
		return nil, err
	}
	raw, err := buildAnswer(remote, answerParams{
		ufrag:        ufrag,
		pwd:          pwd,
		fingerprints: s.config.Fingerprints,
		candidate:    s.local,
		maxMessage:   s.config.MaxMessageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("sfu: build answer: %w", err)
	}

	key := offer.Key()
	if s.RemoveEndpoint(key, "renegotiated") {
		s.log.Info().Str("endpoint", key.String()).Msg("replacing endpoint")
	}
	now := time.Now()
	ep := &Endpoint{
		key:         key,
		localUfrag:  ufrag,
		localPwd:    pwd,
		remoteUfrag: remote.ufrag,
		remotePwd:   remote.pwd,
		fingerprint: remote.fingerprint,
		hasData:     remote.hasData,
		receives:    remote.receives,
		created:     now,
		lastSeen:    now,
	}
	for _, m := range remote.media {
		if mid, ok := m.Attribute("mid"); ok {
			ep.mids = append(ep.mids, mid)
		}
	}
	s.addEndpoint(ep)
	s.log.Info().Str("endpoint", key.String()).Bool("data", ep.hasData).Int("media", len(remote.media)).Msg("endpoint added")

	return json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(raw)})
}

// credentials draws an ICE ufrag not used by any endpoint of the arena.
func (s *ServerStates) credentials() (string, string, error) {
	var ufrag string
	for {
		var err error
		ufrag, err = randutil.GenerateCryptoRandomString(ufragLength, iceRunes)
		if err != nil {
			return "", "", fmt.Errorf("sfu: ice ufrag: %w", err)
		}
		if _, taken := s.ufrags[ufrag]; !taken {
			break
		}
	}
	pwd, err := randutil.GenerateCryptoRandomString(pwdLength, iceRunes)
	if err != nil {
		return "", "", fmt.Errorf("sfu: ice pwd: %w", err)
	}
	return ufrag, pwd, nil
}
