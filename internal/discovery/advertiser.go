// Package discovery announces the signaling service on the local network.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	Service = "_beep-sfu._tcp"
	Domain  = "local."
)

var (
	ErrClosed         = errors.New("discovery: advertiser closed")
	ErrAlreadyStarted = errors.New("discovery: already advertising")
	ErrInvalidPort    = errors.New("discovery: invalid port")
)

// Server is a running mDNS registration.
type Server interface {
	Shutdown()
}

// ServerFactory registers mDNS services. Tests replace the zeroconf one.
type ServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error)
}

type zeroconfFactory struct{}

func (zeroconfFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

type AdvertiserConfig struct {
	// Instance defaults to "beep-sfu-" plus a random suffix.
	Instance   string
	Port       int
	MediaPorts []uint16
	Interfaces []net.Interface
	Factory    ServerFactory
}

type Advertiser struct {
	cfg     AdvertiserConfig
	factory ServerFactory
	mu      sync.Mutex
	server  Server
	closed  bool
}

func NewAdvertiser(cfg AdvertiserConfig) (*Advertiser, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	}
	if cfg.Instance == "" {
		cfg.Instance = "beep-sfu-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	factory := cfg.Factory
	if factory == nil {
		factory = zeroconfFactory{}
	}
	return &Advertiser{cfg: cfg, factory: factory}, nil
}

func (a *Advertiser) Instance() string { return a.cfg.Instance }

// TXT lists the records published with the service.
func (a *Advertiser) TXT() []string {
	txt := []string{"path=/offer"}
	if len(a.cfg.MediaPorts) > 0 {
		ports := make([]string, len(a.cfg.MediaPorts))
		for i, p := range a.cfg.MediaPorts {
			ports[i] = fmt.Sprint(p)
		}
		txt = append(txt, "media="+strings.Join(ports, ","))
	}
	return txt
}

func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return ErrClosed
	case a.server != nil:
		return ErrAlreadyStarted
	}

	server, err := a.factory.Register(a.cfg.Instance, Service, Domain, a.cfg.Port, a.TXT(), a.cfg.Interfaces)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", Service, err)
	}
	a.server = server
	log.Info().Str("module", "discovery").Str("instance", a.cfg.Instance).Int("port", a.cfg.Port).Msg("advertising signaling service")
	return nil
}

// Close withdraws the registration. It is safe to call more than once.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		log.Info().Str("module", "discovery").Str("instance", a.cfg.Instance).Msg("advertisement withdrawn")
	}
}
