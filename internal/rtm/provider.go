package rtm

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/traceledger/internal/model"
)

// StatusProvider reports the approval state of an entity owned by a
// business module.
type StatusProvider interface {
	EntityStatus(ctx context.Context, entityType, entityID string) (model.EntityStatus, error)
}

// StatusProviderFunc adapts a function to StatusProvider.
type StatusProviderFunc func(ctx context.Context, entityType, entityID string) (model.EntityStatus, error)

// EntityStatus calls f.
func (f StatusProviderFunc) EntityStatus(ctx context.Context, entityType, entityID string) (model.EntityStatus, error) {
	return f(ctx, entityType, entityID)
}

// ProviderRegistry routes status lookups by entity type. It is safe for
// concurrent use.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]StatusProvider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]StatusProvider)}
}

// Register binds p to entityType, replacing any earlier provider.
func (r *ProviderRegistry) Register(entityType string, p StatusProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[entityType] = p
}

// Provider returns the provider for entityType.
func (r *ProviderRegistry) Provider(entityType string) (StatusProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[entityType]
	return p, ok
}

// StaticStatuses is a StatusProvider backed by a fixed map keyed by
// "type/id". Missing entities report unknown. Useful for imports and
// demos where no business module is attached.
type StaticStatuses map[string]model.EntityStatus

// EntityStatus implements StatusProvider.
func (s StaticStatuses) EntityStatus(_ context.Context, entityType, entityID string) (model.EntityStatus, error) {
	if st, ok := s[model.Ref(entityType, entityID).String()]; ok {
		return st, nil
	}
	return model.EntityUnknown, nil
}

func validEntityStatus(s model.EntityStatus) error {
	switch s {
	case model.EntityApproved, model.EntityPending, model.EntityRejected, model.EntityUnknown:
		return nil
	default:
		return fmt.Errorf("unknown entity status %q", s)
	}
}
