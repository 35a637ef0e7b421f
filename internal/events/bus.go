// Package events provides a synchronous in-process publish/subscribe bus
// used to decouple telemetry emission from the components producing it.
package events

import "sync"

// Kind tags an event payload.
type Kind string

const (
	KindLagAlert         Kind = "lag_alert"
	KindMessageSearch    Kind = "message_search"
	KindOffsetSeek       Kind = "offset_seek"
	KindSchemaValidation Kind = "schema_validation"
)

// LagAlert is emitted when the lag monitor raises a notification.
// It carries counts only: no group IDs, no lag values, no credentials.
type LagAlert struct {
	Cluster        string
	CriticalGroups int
	WarningGroups  int
	TotalGroups    int
}

// MessageSearch is emitted after a filtered consume completes.
type MessageSearch struct {
	Cluster string
	Topic   string
	Matched int
	Scanned int
}

// OffsetSeek is emitted when a consume starts from an explicit offset.
type OffsetSeek struct {
	Cluster   string
	Topic     string
	Partition int32
	Offset    int64
}

// SchemaValidation is emitted when a produced payload is checked against
// a schema registry subject.
type SchemaValidation struct {
	Cluster string
	Topic   string
	Valid   bool
}

// Listener receives event payloads for one kind.
type Listener func(payload any)

type registration struct {
	id int
	fn Listener
}

// Bus dispatches events synchronously, in registration order, on the
// emitting caller's goroutine. A throwing listener is the emitter's
// problem; listeners must not panic for expected conditions.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[Kind][]registration
}

// NewBus returns an empty bus. One bus per composition root.
func NewBus() *Bus {
	return &Bus{listeners: make(map[Kind][]registration)}
}

// On registers a listener for kind and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (b *Bus) On(kind Kind, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], registration{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		regs := b.listeners[kind]
		for i, reg := range regs {
			if reg.id == id {
				b.listeners[kind] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes every listener currently registered for kind, once each,
// in registration order. The registration list is snapshotted first so
// listeners may unsubscribe (or subscribe) during dispatch.
func (b *Bus) Emit(kind Kind, payload any) {
	b.mu.Lock()
	regs := make([]registration, len(b.listeners[kind]))
	copy(regs, b.listeners[kind])
	b.mu.Unlock()

	for _, reg := range regs {
		reg.fn(payload)
	}
}

// RemoveAllListeners clears every registration. Used for teardown.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Kind][]registration)
}

// Len reports the number of listeners registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[kind])
}
