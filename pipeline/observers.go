package pipeline

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Observer receives the samples produced by one update batch.
// A returned error is logged and does not affect other observers.
type Observer func(samples []Sample) error

// SubscriptionID identifies a registered observer
type SubscriptionID uint64

type observerRegistry struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	byID   *orderedmap.OrderedMap[SubscriptionID, Observer]
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{byID: orderedmap.New[SubscriptionID, Observer]()}
}

func (r *observerRegistry) add(fn Observer) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.byID.Set(r.nextID, fn)
	return r.nextID
}

func (r *observerRegistry) remove(id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, present := r.byID.Delete(id)
	return present
}

func (r *observerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID.Len()
}

type registeredObserver struct {
	id SubscriptionID
	fn Observer
}

// snapshot returns observers in registration order
func (r *observerRegistry) snapshot() []registeredObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]registeredObserver, 0, r.byID.Len())
	for pair := r.byID.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, registeredObserver{id: pair.Key, fn: pair.Value})
	}
	return out
}
