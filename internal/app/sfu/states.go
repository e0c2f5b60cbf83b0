package sfu

import (
	"net/netip"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/sctp"
	"github.com/pion/srtp/v3"
	"github.com/rs/zerolog"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// Endpoint is the transport state of one participant.
type Endpoint struct {
	key domain.EndpointKey

	localUfrag  string
	localPwd    string
	remoteUfrag string
	remotePwd   string
	fingerprint Fingerprint
	mids        []string
	hasData     bool
	receives    bool

	peer     netip.AddrPort
	created  time.Time
	lastSeen time.Time

	dtls       *dtlsTransport
	srtpLocal  *srtp.Context
	srtpRemote *srtp.Context
	sctp       *sctp.Association
	channels   map[string]*datachannel.DataChannel

	streams    map[uint32]*streamStats
	nextReport time.Time
}

func (e *Endpoint) Key() domain.EndpointKey { return e.key }
func (e *Endpoint) Peer() netip.AddrPort    { return e.peer }
func (e *Endpoint) LocalUfrag() string      { return e.localUfrag }
func (e *Endpoint) LocalPwd() string        { return e.localPwd }
func (e *Endpoint) Bound() bool             { return e.peer.IsValid() }

// Connected reports whether SRTP keys have been negotiated.
func (e *Endpoint) Connected() bool { return e.srtpLocal != nil && e.srtpRemote != nil }

// Session groups the endpoints exchanging media.
type Session struct {
	id        domain.SessionID
	endpoints map[domain.EndpointID]*Endpoint
	relays    map[uint32]*Relay
}

func (s *Session) ID() domain.SessionID { return s.id }

// ServerStates is the arena of one worker. It holds no locks: only the
// worker goroutine may touch it. Helper goroutines talk back through channels
// and call Wake.
type ServerStates struct {
	config *ServerConfig
	local  netip.AddrPort

	sessions map[domain.SessionID]*Session
	ufrags   map[string]domain.EndpointKey
	peers    map[netip.AddrPort]domain.EndpointKey

	wake   func()
	closed chan struct{}
	log    zerolog.Logger
}

// NewServerStates binds the arena to the address advertised in answers.
// wake interrupts the worker's blocking read; it may be nil.
func NewServerStates(cfg *ServerConfig, local netip.AddrPort, wake func(), log zerolog.Logger) *ServerStates {
	if wake == nil {
		wake = func() {}
	}
	return &ServerStates{
		config:   cfg,
		local:    local,
		sessions: make(map[domain.SessionID]*Session),
		ufrags:   make(map[string]domain.EndpointKey),
		peers:    make(map[netip.AddrPort]domain.EndpointKey),
		wake:     wake,
		closed:   make(chan struct{}),
		log:      log,
	}
}

func (s *ServerStates) Config() *ServerConfig     { return s.config }
func (s *ServerStates) LocalAddr() netip.AddrPort { return s.local }

// Wake is safe to call from any goroutine.
func (s *ServerStates) Wake() { s.wake() }

// Closed is closed once the worker shuts the arena down.
func (s *ServerStates) Closed() <-chan struct{} { return s.closed }

func (s *ServerStates) Session(id domain.SessionID) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *ServerStates) Endpoint(key domain.EndpointKey) (*Endpoint, bool) {
	sess, ok := s.sessions[key.Session]
	if !ok {
		return nil, false
	}
	ep, ok := sess.endpoints[key.Endpoint]
	return ep, ok
}

// EndpointByPeer finds the endpoint a 5-tuple was bound to by STUN.
func (s *ServerStates) EndpointByPeer(peer netip.AddrPort) (*Endpoint, bool) {
	key, ok := s.peers[peer]
	if !ok {
		return nil, false
	}
	return s.Endpoint(key)
}

func (s *ServerStates) EndpointByUfrag(ufrag string) (*Endpoint, bool) {
	key, ok := s.ufrags[ufrag]
	if !ok {
		return nil, false
	}
	return s.Endpoint(key)
}

// EndpointCount is the number of endpoints across all sessions.
func (s *ServerStates) EndpointCount() int {
	n := 0
	for _, sess := range s.sessions {
		n += len(sess.endpoints)
	}
	return n
}

// Endpoints calls fn for every endpoint. fn must not add or remove endpoints.
func (s *ServerStates) Endpoints(fn func(*Endpoint)) {
	for _, sess := range s.sessions {
		for _, ep := range sess.endpoints {
			fn(ep)
		}
	}
}

func (s *ServerStates) addEndpoint(ep *Endpoint) {
	sess, ok := s.sessions[ep.key.Session]
	if !ok {
		sess = &Session{
			id:        ep.key.Session,
			endpoints: make(map[domain.EndpointID]*Endpoint),
			relays:    make(map[uint32]*Relay),
		}
		s.sessions[ep.key.Session] = sess
	}
	sess.endpoints[ep.key.Endpoint] = ep
	s.ufrags[ep.localUfrag] = ep.key
}

// BindPeer associates a remote 5-tuple with an endpoint. A previous
// address of the endpoint is released.
func (s *ServerStates) BindPeer(ep *Endpoint, peer netip.AddrPort) {
	if ep.peer == peer {
		return
	}
	if ep.peer.IsValid() {
		delete(s.peers, ep.peer)
	}
	if prev, ok := s.EndpointByPeer(peer); ok && prev != ep {
		prev.peer = netip.AddrPort{}
	}
	ep.peer = peer
	s.peers[peer] = ep.key
	if ep.dtls != nil {
		ep.dtls.pc.setPeer(peer)
	}
}

// RemoveEndpoint tears the endpoint down. It reports false when the endpoint
// does not exist.
func (s *ServerStates) RemoveEndpoint(key domain.EndpointKey, reason string) bool {
	sess, ok := s.sessions[key.Session]
	if !ok {
		return false
	}
	ep, ok := sess.endpoints[key.Endpoint]
	if !ok {
		return false
	}
	s.log.Debug().Str("endpoint", key.String()).Str("reason", reason).Msg("removing endpoint")

	ep.close()
	delete(sess.endpoints, key.Endpoint)
	if k, ok := s.ufrags[ep.localUfrag]; ok && k == key {
		delete(s.ufrags, ep.localUfrag)
	}
	if ep.peer.IsValid() {
		if k, ok := s.peers[ep.peer]; ok && k == key {
			delete(s.peers, ep.peer)
		}
	}
	for ssrc, relay := range sess.relays {
		if relay.publisher == key.Endpoint {
			relay.markAllDelete()
			delete(sess.relays, ssrc)
			continue
		}
		relay.markDelete(key.Endpoint)
	}
	if len(sess.endpoints) == 0 {
		delete(s.sessions, key.Session)
	}
	return true
}

// Close removes every endpoint and stops helper goroutines.
func (s *ServerStates) Close(reason string) {
	keys := make([]domain.EndpointKey, 0, s.EndpointCount())
	s.Endpoints(func(ep *Endpoint) { keys = append(keys, ep.key) })
	for _, k := range keys {
		s.RemoveEndpoint(k, reason)
	}
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (e *Endpoint) close() {
	for label, dc := range e.channels {
		_ = dc.Close()
		delete(e.channels, label)
	}
	if e.sctp != nil {
		_ = e.sctp.Close()
		e.sctp = nil
	}
	if e.dtls != nil {
		e.dtls.close()
		e.dtls = nil
	}
	e.srtpLocal = nil
	e.srtpRemote = nil
}
