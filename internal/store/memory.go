package store

import (
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore provides thread-safe storage with a publish-subscribe
// mechanism for live updates. Samples are keyed by subscription name, with
// new samples replacing previous values (except the payload, which survives
// failed polls so stale data can keep being shown).
//
// Subscribers receive updates via buffered channels (buffer size 100).
// Updates are sent non-blocking; if a subscriber's buffer is full, the
// update is dropped for that subscriber to prevent blocking the poll path.
type MemoryStore struct {
	mu          sync.RWMutex
	samples     map[string]Sample
	subscribers map[chan Sample]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		samples:     make(map[string]Sample),
		subscribers: make(map[chan Sample]struct{}),
	}
}

// Update stores a [Sample] and notifies all subscribers.
//
// The sample is keyed by its Subscription name. A sample without a payload
// (a failed poll) inherits the previously stored payload, so the last good
// data remains visible while the subscription is degraded.
func (m *MemoryStore) Update(sample Sample) {
	m.mu.Lock()
	if len(sample.Payload) == 0 {
		if prev, ok := m.samples[sample.Subscription]; ok {
			sample.Payload = prev.Payload
		}
	}
	m.samples[sample.Subscription] = sample
	m.mu.Unlock()

	m.notifySubscribers(sample)
}

// GetAll returns a snapshot of all currently stored samples.
//
// The returned slice is a copy; modifications do not affect the store.
// Order is not guaranteed.
func (m *MemoryStore) GetAll() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Sample, 0, len(m.samples))
	for _, sample := range m.samples {
		results = append(results, sample)
	}
	return results
}

// Subscribe creates a new subscription and returns a channel for receiving
// updates.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new updates are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource
// leaks.
func (m *MemoryStore) Subscribe() <-chan Sample {
	ch := make(chan Sample, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// updates will be sent. Safe to call multiple times or with an unknown
// channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Sample) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the sample to all active subscribers.
//
// This is non-blocking: if a subscriber's channel buffer is full, the
// message is dropped for that subscriber rather than blocking the poll path.
func (m *MemoryStore) notifySubscribers(sample Sample) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- sample:
		default:
			// subscriber is slow, drop the message
		}
	}
}
