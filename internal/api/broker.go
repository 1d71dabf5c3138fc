package api

import (
	"sync"
)

// DispatchEvent is one schedule change fanned out to subscribers of a
// technician's stream.
type DispatchEvent struct {
	Type string
	Data map[string]any
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan DispatchEvent]struct{} // technicianId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan DispatchEvent]struct{}{}}
}

func (b *Broker) Subscribe(technicianID string) chan DispatchEvent {
	ch := make(chan DispatchEvent, 8)
	b.mu.Lock()
	if b.subs[technicianID] == nil {
		b.subs[technicianID] = map[chan DispatchEvent]struct{}{}
	}
	b.subs[technicianID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(technicianID string, ch chan DispatchEvent) {
	b.mu.Lock()
	if m := b.subs[technicianID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, technicianID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(technicianID string, evt DispatchEvent) {
	b.mu.Lock()
	m := b.subs[technicianID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
