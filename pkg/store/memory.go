package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
)

// MemoryStore keeps intents in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*models.Intent
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*models.Intent),
		now:     time.Now,
	}
}

// Create adds a new intent
func (s *MemoryStore) Create(_ context.Context, intent *models.Intent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intents[intent.IntentID]; exists {
		return fmt.Errorf("intent %s already exists", intent.IntentID)
	}
	c := *intent
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = c.CreatedAt
	s.intents[c.IntentID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *intent
	return &c, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status models.IntentStatus) ([]*models.Intent, error) {
	return s.list(func(i *models.Intent) bool { return i.Status == status }), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*models.Intent, error) {
	return s.list(func(i *models.Intent) bool { return i.UserID == userID }), nil
}

func (s *MemoryStore) ListByResolver(_ context.Context, resolverID string) ([]*models.Intent, error) {
	return s.list(func(i *models.Intent) bool { return i.ResolverID == resolverID }), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, u Update) (*models.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := apply(intent, u, s.now()); err != nil {
		return nil, err
	}
	c := *intent
	return &c, nil
}

// list returns copies ordered by creation time
func (s *MemoryStore) list(match func(*models.Intent) bool) []*models.Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Intent
	for _, intent := range s.intents {
		if match(intent) {
			c := *intent
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].IntentID < out[j].IntentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
