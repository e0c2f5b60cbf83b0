package sfu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/pion/srtp/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

var testLocal = netip.MustParseAddrPort("127.0.0.1:3478")

func newTestStates(t *testing.T) *ServerStates {
	t.Helper()
	cfg, err := NewServerConfig(ServerOptions{})
	require.NoError(t, err)
	return NewServerStates(cfg, testLocal, nil, zerolog.Nop())
}

func fullPipeline(states *ServerStates) *Pipeline {
	return NewPipeline(zerolog.Nop()).
		AddBack(NewDemuxerHandler(states)).
		AddBack(NewSTUNHandler(states)).
		AddBack(NewDTLSHandler(states)).
		AddBack(NewSCTPHandler(states)).
		AddBack(NewDataChannelHandler(states)).
		AddBack(NewSRTPHandler(states)).
		AddBack(NewInterceptorHandler(states)).
		AddBack(NewGatewayHandler(states)).
		AddBack(NewExceptionHandler(zerolog.Nop()))
}

const testFingerprint = "sha-256 4A:AD:B9:B1:3F:82:18:3B:54:02:12:DF:3E:5D:49:6B:19:E5:7C:AB:3E:4F:15:2B:E1:0C:3A:9B:21:59:DE:36"

// offerSDP renders a browser-like offer with audio, video and a data channel.
func offerSDP(fingerprint, audioDir, videoDir string) string {
	lines := []string{
		"v=0",
		"o=- 4611731400430051336 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=group:BUNDLE 0 1 2",
		"a=extmap-allow-mixed",
		"a=msid-semantic: WMS stream",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=rtcp:9 IN IP4 0.0.0.0",
		"a=ice-ufrag:Rm0t",
		"a=ice-pwd:remotePasswordRemotePassword",
		"a=ice-options:trickle",
		"a=fingerprint:" + fingerprint,
		"a=setup:actpass",
		"a=mid:0",
		"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level",
		"a=" + audioDir,
		"a=rtcp-mux",
		"a=rtpmap:111 opus/48000/2",
		"a=rtcp-fb:111 transport-cc",
		"a=fmtp:111 minptime=10;useinbandfec=1",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=rtcp:9 IN IP4 0.0.0.0",
		"a=ice-ufrag:Rm0t",
		"a=ice-pwd:remotePasswordRemotePassword",
		"a=ice-options:trickle",
		"a=fingerprint:" + fingerprint,
		"a=setup:actpass",
		"a=mid:1",
		"a=" + videoDir,
		"a=rtcp-mux",
		"a=rtpmap:96 VP8/90000",
		"a=rtcp-fb:96 nack",
		"a=rtcp-fb:96 nack pli",
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel",
		"c=IN IP4 0.0.0.0",
		"a=ice-ufrag:Rm0t",
		"a=ice-pwd:remotePasswordRemotePassword",
		"a=ice-options:trickle",
		"a=fingerprint:" + fingerprint,
		"a=setup:actpass",
		"a=mid:2",
		"a=sctp-port:5000",
		"a=max-message-size:262144",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func offerJSON(t *testing.T, sdpText string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"type": "offer", "sdp": sdpText})
	require.NoError(t, err)
	return raw
}

func target(s, e uint64) core.Target {
	return core.Target{Session: domain.SessionID(s), Endpoint: domain.EndpointID(e)}
}

// addEndpoint negotiates an endpoint through HandleSignaling.
func addEndpoint(t *testing.T, states *ServerStates, s, e uint64) *Endpoint {
	t.Helper()
	resp, err := states.HandleSignaling(core.Offer{
		Target: target(s, e),
		SDP:    offerJSON(t, offerSDP(testFingerprint, "sendrecv", "sendrecv")),
	})
	require.NoError(t, err)
	require.IsType(t, core.Answer{}, resp)
	ep, ok := states.Endpoint(target(s, e).Key())
	require.True(t, ok)
	return ep
}

func newContext(t *testing.T, seed byte) *srtp.Context {
	t.Helper()
	ctx, err := srtp.CreateContext(
		bytes.Repeat([]byte{seed}, 16),
		bytes.Repeat([]byte{seed + 1}, 14),
		srtp.ProtectionProfileAes128CmHmacSha1_80,
	)
	require.NoError(t, err)
	return ctx
}

// client is the remote side of a connected endpoint.
type client struct {
	ep      *Endpoint
	peer    netip.AddrPort
	encrypt *srtp.Context
	decrypt *srtp.Context
}

// connect binds ep to peer and installs SRTP keys as a finished handshake would.
func connect(t *testing.T, states *ServerStates, ep *Endpoint, port uint16, seed byte) *client {
	t.Helper()
	peer := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
	states.BindPeer(ep, peer)
	ep.srtpRemote = newContext(t, seed)
	ep.srtpLocal = newContext(t, seed+100)
	return &client{
		ep:      ep,
		peer:    peer,
		encrypt: newContext(t, seed),
		decrypt: newContext(t, seed+100),
	}
}

func inbound(peer netip.AddrPort, raw []byte) *Message {
	return &Message{Now: time.Now(), Local: testLocal, Peer: peer, Raw: raw}
}

func drain(p *Pipeline) []Transmit {
	var out []Transmit
	for {
		tr, ok := p.PollTransmit()
		if !ok {
			return out
		}
		out = append(out, tr)
	}
}

func forPeer(out []Transmit, peer netip.AddrPort) []Transmit {
	var res []Transmit
	for _, tr := range out {
		if tr.Peer == peer {
			res = append(res, tr)
		}
	}
	return res
}

func describe(out []Transmit) string {
	var b strings.Builder
	for _, tr := range out {
		fmt.Fprintf(&b, "%s(%d) ", tr.Peer, len(tr.Message))
	}
	return b.String()
}
