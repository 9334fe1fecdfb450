package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mmrzaf/listmat/internal/domain"
)

// EntityRegistry holds the entity types lists can be defined over.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]*domain.EntityType
}

func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		entities: make(map[string]*domain.EntityType),
	}
}

func (r *EntityRegistry) Register(et *domain.EntityType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[et.Name] = et
}

func (r *EntityRegistry) Get(name string) (*domain.EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("entity type %s: %w", name, domain.ErrNotFound)
	}
	return et, nil
}

func (r *EntityRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader is anything that can enumerate entity types, such as the file repository.
type Loader interface {
	List() ([]*domain.EntityType, error)
}

// Load registers every entity type src returns.
func Load(src Loader) (*EntityRegistry, error) {
	all, err := src.List()
	if err != nil {
		return nil, err
	}
	r := NewEntityRegistry()
	for _, et := range all {
		r.Register(et)
	}
	return r, nil
}
