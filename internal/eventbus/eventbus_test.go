package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	tenantID string
	mu       sync.Mutex
	events   []Event
}

func (r *recordingSubscriber) TenantID() string { return r.tenantID }

func (r *recordingSubscriber) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSubscriber) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestPublishOnlyDeliversToMatchingTenant(t *testing.T) {
	bus := New(nil)
	subA := &recordingSubscriber{tenantID: "tenant-a"}
	subB := &recordingSubscriber{tenantID: "tenant-b"}
	bus.Subscribe("a", subA)
	bus.Subscribe("b", subB)

	bus.Publish(Event{Type: MemoryCreated, TenantID: "tenant-a", Payload: "m1"})

	require.Len(t, subA.received(), 1)
	require.Empty(t, subB.received())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)
	sub := &recordingSubscriber{tenantID: "tenant-a"}
	bus.Subscribe("a", sub)
	bus.Unsubscribe("a")

	bus.Publish(Event{Type: MemoryUpdated, TenantID: "tenant-a"})

	require.Empty(t, sub.received())
}

type fakeBridge struct {
	mu       sync.Mutex
	forwarded []Event
}

func (f *fakeBridge) Forward(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, e)
	return nil
}

func TestPublishForwardsToBridge(t *testing.T) {
	bridge := &fakeBridge{}
	bus := New(bridge)

	bus.Publish(Event{Type: MemoryDeleted, TenantID: "tenant-a"})

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	require.Len(t, bridge.forwarded, 1)
	require.Equal(t, MemoryDeleted, bridge.forwarded[0].Type)
}

func TestReceiveFromBridgeDoesNotReforward(t *testing.T) {
	bridge := &fakeBridge{}
	bus := New(bridge)
	sub := &recordingSubscriber{tenantID: "tenant-a"}
	bus.Subscribe("a", sub)

	bus.ReceiveFromBridge(Event{Type: MemoryCreated, TenantID: "tenant-a"})

	require.Len(t, sub.received(), 1)
	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	require.Empty(t, bridge.forwarded)
}
