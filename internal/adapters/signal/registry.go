package signal

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

type sessionEntry struct {
	Conn   *WsSignalConn
	Cancel context.CancelFunc
}

// Registry tracks the live signaling socket of every endpoint.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.EndpointKey]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.EndpointKey]*sessionEntry)}
}

// Bind records conn for key and cancels the socket it replaces.
func (r *Registry) Bind(key domain.EndpointKey, conn *WsSignalConn, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.sessions[key]
	r.sessions[key] = &sessionEntry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.Cancel != nil {
		prev.Cancel()
		log.Info().Str("module", "signal.registry").Str("endpoint", key.String()).Msg("replaced signal")
		return
	}
	log.Info().Str("module", "signal.registry").Str("endpoint", key.String()).Msg("bound signal")
}

// Unbind forgets key only while conn is still the registered socket.
func (r *Registry) Unbind(key domain.EndpointKey, conn *WsSignalConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[key]; ok && e.Conn == conn {
		delete(r.sessions, key)
		log.Info().Str("module", "signal.registry").Str("endpoint", key.String()).Msg("unbind signal")
	}
}

func (r *Registry) Has(key domain.EndpointKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel closes the socket bound to key.
func (r *Registry) Cancel(key domain.EndpointKey) bool {
	r.mu.RLock()
	e, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "signal.registry").Str("endpoint", key.String()).Msg("canceled signal")
	return true
}

// CancelAll closes every socket, used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	for _, e := range entries {
		if e.Cancel != nil {
			e.Cancel()
		}
	}
}
