package call

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rcsd/internal/bus"
	"rcsd/internal/contact"
)

// Network distinguishes the two call bearers a sharing session can ride
// on.
type Network string

const (
	NetworkCS Network = "CS" // circuit-switched voice call
	NetworkIP Network = "IP" // IP voice or video call
)

// Monitor tracks which contacts currently have a connected call on
// either bearer. The signaling transport reports call edges through
// CallStarted/CallEnded; the sharing service reads the state through
// IsCallConnectedWith.
type Monitor struct {
	logger *zap.Logger
	bus    *bus.Bus

	mu      sync.Mutex
	cs      map[contact.ID]struct{}
	ip      map[contact.ID]struct{}
	onEnded func(contact.ID)
}

// CallChange is the payload of "call.started" and "call.ended" events.
type CallChange struct {
	Contact contact.ID
	Network Network
}

// NewMonitor creates a monitor with no connected calls.
func NewMonitor(b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		logger: logger,
		bus:    b,
		cs:     make(map[contact.ID]struct{}),
		ip:     make(map[contact.ID]struct{}),
	}
}

// SetOnEnded installs the hook fired when a contact's last connected
// call goes away. Must be set before the transport starts reporting.
func (m *Monitor) SetOnEnded(fn func(contact.ID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = fn
}

// CallStarted records a connected call with the contact. Repeated
// reports for the same bearer are no-ops.
func (m *Monitor) CallStarted(id contact.ID, network Network) {
	m.mu.Lock()
	set := m.set(network)
	if _, ok := set[id]; ok {
		m.mu.Unlock()
		return
	}
	set[id] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("call connected",
		zap.String("contact", id.String()), zap.String("network", string(network)))
	m.publish("call.started", id, network)
}

// CallEnded clears a connected call. When the contact's last call on
// either bearer disappears, the OnEnded hook fires (outside the
// monitor's lock).
func (m *Monitor) CallEnded(id contact.ID, network Network) {
	m.mu.Lock()
	set := m.set(network)
	if _, ok := set[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(set, id)
	_, stillCS := m.cs[id]
	_, stillIP := m.ip[id]
	hook := m.onEnded
	m.mu.Unlock()

	m.logger.Info("call ended",
		zap.String("contact", id.String()), zap.String("network", string(network)))
	m.publish("call.ended", id, network)

	if !stillCS && !stillIP && hook != nil {
		hook(id)
	}
}

// IsCallConnectedWith reports whether a circuit-switched or IP call is
// currently connected with the contact.
func (m *Monitor) IsCallConnectedWith(id contact.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cs[id]; ok {
		return true
	}
	_, ok := m.ip[id]
	return ok
}

func (m *Monitor) set(network Network) map[contact.ID]struct{} {
	if network == NetworkIP {
		return m.ip
	}
	return m.cs
}

func (m *Monitor) publish(kind string, id contact.ID, network Network) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   CallChange{Contact: id, Network: network},
	})
}
