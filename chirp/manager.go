package chirp

import (
	"sync"

	"github.com/constellation-daq/constellation-core/logging"
	"github.com/constellation-daq/constellation-core/obsv"
)

// Manager owns the set of services this process advertises on CHIRP and the
// send side of discovery. A separate Listener on the same socket handles the
// receive side (Discovered, MarkDead); the Manager holds no Listener and does
// not answer inbound REQUEST messages.
type Manager struct {
	sock      Socket
	groupName string
	hostName  string
	logger    logging.Logger

	mu            sync.Mutex
	registrations map[registrationKey]struct{}
}

// NewManager builds a Manager that advertises as hostName in groupName over sock.
func NewManager(sock Socket, groupName, hostName string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Manager{
		sock:          sock,
		groupName:     groupName,
		hostName:      hostName,
		logger:        logging.Named(logger, "chirp.manager"),
		registrations: make(map[registrationKey]struct{}),
	}
}

// RegisterService advertises (service, port) with an OFFER and remembers it
// for unregistration and UnregisterServices; the OFFER is not repeated in
// answer to later REQUESTs. Registering the
// same pair twice without an intervening UnregisterService is an error.
func (m *Manager) RegisterService(service ServiceIdentifier, port uint16) error {
	if service == ServiceAny {
		return &AnyServiceForbiddenError{}
	}
	key := registrationKey{Service: service, Port: port}

	m.mu.Lock()
	if _, exists := m.registrations[key]; exists {
		m.mu.Unlock()
		return NewServiceAlreadyRegisteredError(service, port)
	}
	m.registrations[key] = struct{}{}
	m.mu.Unlock()

	return m.broadcast(MessageOffer, service, port)
}

// UnregisterService withdraws a previously registered (service, port) with a
// DEPART. Unregistering a pair that was never registered is an error.
func (m *Manager) UnregisterService(service ServiceIdentifier, port uint16) error {
	key := registrationKey{Service: service, Port: port}

	m.mu.Lock()
	if _, exists := m.registrations[key]; !exists {
		m.mu.Unlock()
		return NewServiceNotRegisteredError(service, port)
	}
	delete(m.registrations, key)
	m.mu.Unlock()

	return m.broadcast(MessageDepart, service, port)
}

// UnregisterServices withdraws every currently registered service with a
// DEPART each, and clears the registration table.
func (m *Manager) UnregisterServices() {
	m.mu.Lock()
	keys := make([]registrationKey, 0, len(m.registrations))
	for k := range m.registrations {
		keys = append(keys, k)
	}
	m.registrations = make(map[registrationKey]struct{})
	m.mu.Unlock()

	for _, k := range keys {
		if err := m.broadcast(MessageDepart, k.Service, k.Port); err != nil {
			m.logger.Warn("failed to broadcast depart", "service", k.Service, "port", k.Port, "error", err)
		}
	}
}

// SendRequest broadcasts a REQUEST for service (or ANY).
func (m *Manager) SendRequest(service ServiceIdentifier) error {
	return m.broadcast(MessageRequest, service, 0)
}

func (m *Manager) broadcast(msgType MessageType, service ServiceIdentifier, port uint16) error {
	msg := Message{
		GroupName: m.groupName,
		HostName:  m.hostName,
		Type:      msgType,
		Service:   service,
		Port:      port,
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := m.sock.Send(payload); err != nil {
		return err
	}
	obsv.RecordChirpSent(msgType.String())
	return nil
}
