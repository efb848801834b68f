package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// CreatorStore implements store.CreatorStore using in-memory storage.
// This implementation is for development and testing - data is lost on restart.
type CreatorStore struct {
	mu sync.RWMutex

	creators map[string]*models.Creator // creator_id -> Creator
	byTenant map[tenantKey]string        // (user, company) -> creator_id
}

type tenantKey struct {
	userID    string
	companyID string
}

// NewCreatorStore creates a new in-memory creator store.
func NewCreatorStore() *CreatorStore {
	return &CreatorStore{
		creators: make(map[string]*models.Creator),
		byTenant: make(map[tenantKey]string),
	}
}

// Create stores a new creator in memory.
func (s *CreatorStore) Create(ctx context.Context, creator *models.Creator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey{userID: creator.WhopUserID, companyID: creator.WhopCompanyID}
	if _, exists := s.byTenant[key]; exists {
		return store.ErrCreatorAlreadyExists
	}

	if creator.ID == "" {
		creator.ID = uuid.Must(uuid.NewV7()).String()
	}
	if _, exists := s.creators[creator.ID]; exists {
		return store.ErrCreatorAlreadyExists
	}

	now := time.Now()
	if creator.CreatedAt.IsZero() {
		creator.CreatedAt = now
	}
	creator.UpdatedAt = now

	clone := *creator
	s.creators[creator.ID] = &clone
	s.byTenant[key] = creator.ID

	return nil
}

// Get retrieves a creator by ID.
func (s *CreatorStore) Get(ctx context.Context, creatorID string) (*models.Creator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creator, exists := s.creators[creatorID]
	if !exists {
		return nil, store.ErrCreatorNotFound
	}

	clone := *creator
	return &clone, nil
}

// GetByUserAndCompany retrieves a creator by its (user, company) key.
func (s *CreatorStore) GetByUserAndCompany(ctx context.Context, whopUserID, whopCompanyID string) (*models.Creator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byTenant[tenantKey{userID: whopUserID, companyID: whopCompanyID}]
	if !exists {
		return nil, store.ErrCreatorNotFound
	}

	clone := *s.creators[id]
	return &clone, nil
}

// GetByCompany returns the oldest creator for a company.
func (s *CreatorStore) GetByCompany(ctx context.Context, whopCompanyID string) (*models.Creator, error) {
	matches := s.filter(func(c *models.Creator) bool { return c.WhopCompanyID == whopCompanyID })
	if len(matches) == 0 {
		return nil, store.ErrCreatorNotFound
	}
	return matches[0], nil
}

// ListByUser returns all creators owned by a Whop user.
func (s *CreatorStore) ListByUser(ctx context.Context, whopUserID string) ([]*models.Creator, error) {
	return s.filter(func(c *models.Creator) bool { return c.WhopUserID == whopUserID }), nil
}

// ListSetupComplete returns creators that have completed setup.
func (s *CreatorStore) ListSetupComplete(ctx context.Context) ([]*models.Creator, error) {
	return s.filter(func(c *models.Creator) bool { return c.IsSetupComplete }), nil
}

// Update writes the profile fields of an existing creator.
func (s *CreatorStore) Update(ctx context.Context, creator *models.Creator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.creators[creator.ID]
	if !exists {
		return store.ErrCreatorNotFound
	}

	oldKey := tenantKey{userID: existing.WhopUserID, companyID: existing.WhopCompanyID}
	newKey := tenantKey{userID: creator.WhopUserID, companyID: creator.WhopCompanyID}
	if oldKey != newKey {
		if _, taken := s.byTenant[newKey]; taken {
			return store.ErrCreatorAlreadyExists
		}
		delete(s.byTenant, oldKey)
		s.byTenant[newKey] = creator.ID
	}

	existing.WhopUserID = creator.WhopUserID
	existing.WhopCompanyID = creator.WhopCompanyID
	existing.MessageTemplate = creator.MessageTemplate
	existing.AudioFileURL = creator.AudioFileURL
	existing.FishAudioModelID = creator.FishAudioModelID
	existing.IsSetupComplete = creator.IsSetupComplete
	existing.UpdatedAt = time.Now()

	*creator = *existing

	return nil
}

// ApplyPlan writes the billing fields of an existing creator.
func (s *CreatorStore) ApplyPlan(ctx context.Context, creatorID string, change store.PlanChange) (*models.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.creators[creatorID]
	if !exists {
		return nil, store.ErrCreatorNotFound
	}

	existing.PlanType = change.PlanType
	existing.WhopPlanID = change.WhopPlanID
	existing.LastPurchaseDate = change.LastPurchaseDate
	if change.Credits != nil {
		existing.Credits = *change.Credits
	}
	existing.UpdatedAt = time.Now()

	clone := *existing
	return &clone, nil
}

// SetAutomation flips the automation flag.
func (s *CreatorStore) SetAutomation(ctx context.Context, creatorID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.creators[creatorID]
	if !exists {
		return store.ErrCreatorNotFound
	}

	existing.IsAutomationActive = active
	existing.UpdatedAt = time.Now()

	return nil
}

// DecrementCredits subtracts one credit under the store lock.
func (s *CreatorStore) DecrementCredits(ctx context.Context, creatorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creator, exists := s.creators[creatorID]
	if !exists {
		return 0, store.ErrCreatorNotFound
	}

	creator.Credits--
	creator.UpdatedAt = time.Now()

	return creator.Credits, nil
}

// filter returns clones of matching creators ordered by creation time.
func (s *CreatorStore) filter(match func(*models.Creator) bool) []*models.Creator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Creator
	for _, c := range s.creators {
		if match(c) {
			clone := *c
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result
}
