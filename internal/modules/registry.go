package modules

import (
	"sync"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// HostFunc returns the host storage of a chat.
type HostFunc func(chatID string) storage.Storage

// Registry keeps one Store per chat for the life of the process.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
	host   HostFunc
	deps   Deps
}

func NewRegistry(host HostFunc, deps Deps) *Registry {
	return &Registry{stores: make(map[string]*Store), host: host, deps: deps}
}

// Get returns the store of chatID, creating it on first use.
func (r *Registry) Get(chatID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[chatID]
	if !ok {
		s = NewStore(chatID, r.host(chatID), r.deps)
		r.stores[chatID] = s
	}
	return s
}

// Drop forgets the store of chatID. Its module states are lost.
func (r *Registry) Drop(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[chatID]; !ok {
		return false
	}
	delete(r.stores, chatID)
	return true
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
