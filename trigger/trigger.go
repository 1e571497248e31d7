// Package trigger provides a keyed, single-shot event broadcast registry.
// Components fire a signal for a key whenever something relevant changed and
// waiters obtain a channel that is closed on the next fire for that key.
package trigger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind classifies what a signal key refers to.
type Kind string

const (
	// KindUser signals that the user with the key id changed.
	KindUser Kind = "user"
	// KindTicker signals that the ticker of the game with the key id changed.
	KindTicker Kind = "ticker"
	// KindAdmin signals ticker activity in any game. The key id is always
	// uuid.Nil.
	KindAdmin Kind = "admin"
)

// signalKey identifies a signal in the registry.
type signalKey struct {
	kind Kind
	id   uuid.UUID
}

// Registry holds single-shot signals by key. A signal is consumed by firing:
// Fire closes the channel and removes it from the Registry, so the next Get
// for the same key returns a fresh, unsignaled channel. This prevents a late
// subscriber from observing a stale, already-consumed signal.
type Registry struct {
	logger *zap.Logger
	// signals holds the current signal channel for each key.
	signals map[signalKey]chan struct{}
	// signalsMutex locks signals.
	signalsMutex sync.Mutex
}

// NewRegistry creates a new empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		signals: make(map[signalKey]chan struct{}),
	}
}

// Get returns the current signal channel for the given key, creating one if
// absent. The channel is closed when the signal is fired. As firing consumes
// the signal, waiters that want to observe further changes need to call Get
// again after each receive.
func (r *Registry) Get(kind Kind, id uuid.UUID) <-chan struct{} {
	r.signalsMutex.Lock()
	defer r.signalsMutex.Unlock()
	key := signalKey{kind: kind, id: id}
	signal, ok := r.signals[key]
	if !ok {
		signal = make(chan struct{})
		r.signals[key] = signal
		r.logger.Debug("created signal",
			zap.String("kind", string(kind)),
			zap.String("id", id.String()))
	}
	return signal
}

// Len returns the number of signals currently held in the Registry. Each held
// signal has at least one waiter or was created by a Get whose waiter is gone,
// so the count approximates the number of live update streams.
func (r *Registry) Len() int {
	r.signalsMutex.Lock()
	defer r.signalsMutex.Unlock()
	return len(r.signals)
}

// Fire signals the current channel for the given key, if any, and removes it
// from the Registry. Firing with no subscribed waiter is a no-op: delivery is
// best-effort and clients resynchronize state on reconnect.
func (r *Registry) Fire(kind Kind, id uuid.UUID) {
	r.signalsMutex.Lock()
	defer r.signalsMutex.Unlock()
	key := signalKey{kind: kind, id: id}
	signal, ok := r.signals[key]
	if !ok {
		return
	}
	close(signal)
	delete(r.signals, key)
	r.logger.Debug("fired signal",
		zap.String("kind", string(kind)),
		zap.String("id", id.String()))
}

// Schedule fires the signal for the given key after the given delay. There is
// no cancellation: an outstanding scheduled fire always runs to completion.
// This is accepted for knockout-window expiry notifications where an early
// revive only causes one harmless extra refresh prompt.
func (r *Registry) Schedule(kind Kind, id uuid.UUID, delay time.Duration) {
	time.AfterFunc(delay, func() {
		r.Fire(kind, id)
	})
}
