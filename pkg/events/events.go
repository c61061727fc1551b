package events

import (
	"sync"

	"github.com/coagline/coagline/pkg/kernel"
)

// EventType identifies what kind of auth event is being emitted
type EventType string

const (
	// EventSessionsRevoked fires when one or more of an identity's sessions
	// are revoked, so connected clients can sign out without polling.
	EventSessionsRevoked EventType = "sessions_revoked"

	// EventRoleChanged fires after a role-affecting write so clients refresh
	// their credential instead of acting on stale embedded claims.
	EventRoleChanged EventType = "role_changed"

	// EventEntitlementChanged fires when billing state moves an account
	// between access levels.
	EventEntitlementChanged EventType = "entitlement_changed"
)

// Event is the structured payload delivered to every subscriber
type Event struct {
	Type EventType

	// IdentityID is the identity the event concerns
	IdentityID kernel.IdentityID

	// AccountID, when relevant, scopes the event to an account
	AccountID kernel.AccountID

	// EventSessionsRevoked: the session ids that were revoked; empty means all
	SessionIDs []string

	// EventRoleChanged: the new role, nil for owner
	Role *kernel.Role

	// Reason carries a machine-readable cause ("logout", "admin_forced", ...)
	Reason string
}

// Handler receives events as they happen
type Handler func(event Event)

// Bus is a typed in-process publish/subscribe channel. Delivery is
// synchronous and in subscription order; handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event to all handlers subscribed to its type.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
