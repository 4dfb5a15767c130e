// Package eventbus implements C13: an in-process synchronous publish/
// subscribe registry, plus an optional cross-process bridge (Redis or
// Kafka) that mirrors the same event types onto named channels for
// multi-process deployments (§4.12).
package eventbus

import (
	"sync"
)

// Type enumerates the event types the core emits (§4.12).
type Type string

const (
	MemoryCreated          Type = "memory.created"
	MemoryUpdated          Type = "memory.updated"
	MemoryDeleted          Type = "memory.deleted"
	MemoryEmbeddingDone    Type = "memory.embedding_complete"
	TenantUserJoined       Type = "tenant.user_joined"
	TenantUserLeft         Type = "tenant.user_left"
)

// Event is one published occurrence, always tenant-scoped so delivery can
// be filtered per-subscriber (§4.12, §5).
type Event struct {
	Type     Type
	TenantID string
	Payload  any
}

// Subscriber receives events. Delivery is best-effort and synchronous with
// respect to the bus's own iteration, but a slow subscriber only blocks
// that one broadcast — not future Publish calls from other goroutines,
// which serialize on the registry lock only for the snapshot copy.
type Subscriber interface {
	TenantID() string
	Notify(e Event)
}

// Bus is the in-process synchronous pub/sub registry. New subscribers
// registered mid-broadcast never see events from a broadcast already in
// flight, because Publish iterates a snapshot of the registry (§5).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	bridge      Bridge
}

// Bridge is the cross-process mirror: a Publish call also forwards the
// event onto a named channel (`memories:created`, etc.) so remote
// processes' buses can reinject it locally.
type Bridge interface {
	Forward(e Event) error
}

func New(bridge Bridge) *Bus {
	return &Bus{subscribers: make(map[string]Subscriber), bridge: bridge}
}

// Subscribe registers s under id, replacing any existing subscriber with
// the same id (a reconnect).
func (b *Bus) Subscribe(id string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = s
}

// Unsubscribe removes id from the registry.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish notifies every subscriber whose tenant matches e.TenantID, then
// best-effort forwards the event to the cross-process bridge if one is
// configured. No replay: a subscriber connecting after Publish returns
// never sees the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	snapshot := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.TenantID() == e.TenantID {
			s.Notify(e)
		}
	}

	if b.bridge != nil {
		_ = b.bridge.Forward(e)
	}
}

// ReceiveFromBridge is called by a bridge implementation when it gets an
// event from another process; it republishes locally without forwarding
// again (bridges never re-forward what they just received).
func (b *Bus) ReceiveFromBridge(e Event) {
	b.mu.RLock()
	snapshot := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		if s.TenantID() == e.TenantID {
			s.Notify(e)
		}
	}
}

// channelFor maps an event Type onto its cross-process channel name.
func channelFor(t Type) string {
	switch t {
	case MemoryCreated:
		return "memories:created"
	case MemoryUpdated:
		return "memories:updated"
	case MemoryDeleted:
		return "memories:deleted"
	case MemoryEmbeddingDone:
		return "memories:embedding_complete"
	default:
		return "memories:misc"
	}
}
