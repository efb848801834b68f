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

// CustomerStore implements store.CustomerStore using in-memory storage.
type CustomerStore struct {
	mu sync.RWMutex

	customers map[string]*models.Customer // customer_id -> Customer
	byMember  map[memberKey]string        // (creator, whop user) -> customer_id
}

type memberKey struct {
	creatorID  string
	whopUserID string
}

// NewCustomerStore creates a new in-memory customer store.
func NewCustomerStore() *CustomerStore {
	return &CustomerStore{
		customers: make(map[string]*models.Customer),
		byMember:  make(map[memberKey]string),
	}
}

// Create stores a new customer in memory.
func (s *CustomerStore) Create(ctx context.Context, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{creatorID: customer.CreatorID, whopUserID: customer.WhopUserID}
	if _, exists := s.byMember[key]; exists {
		return store.ErrCustomerAlreadyExists
	}

	if customer.ID == "" {
		customer.ID = uuid.Must(uuid.NewV7()).String()
	}

	now := time.Now()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	if customer.JoinedAt.IsZero() {
		customer.JoinedAt = now
	}
	customer.UpdatedAt = now

	clone := *customer
	s.customers[customer.ID] = &clone
	s.byMember[key] = customer.ID

	return nil
}

// Get retrieves a customer by ID.
func (s *CustomerStore) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[customerID]
	if !exists {
		return nil, store.ErrCustomerNotFound
	}

	clone := *customer
	return &clone, nil
}

// GetByWhopUser retrieves a creator's customer by Whop user ID.
func (s *CustomerStore) GetByWhopUser(ctx context.Context, creatorID, whopUserID string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byMember[memberKey{creatorID: creatorID, whopUserID: whopUserID}]
	if !exists {
		return nil, store.ErrCustomerNotFound
	}

	clone := *s.customers[id]
	return &clone, nil
}

// ListByCreator returns a creator's customers ordered by join time.
func (s *CustomerStore) ListByCreator(ctx context.Context, creatorID string) ([]*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Customer
	for _, c := range s.customers {
		if c.CreatorID == creatorID {
			clone := *c
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})

	return result, nil
}

// Update replaces an existing customer. The (creator, whop user) key cannot change.
func (s *CustomerStore) Update(ctx context.Context, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customers[customer.ID]
	if !exists {
		return store.ErrCustomerNotFound
	}

	customer.CreatorID = existing.CreatorID
	customer.WhopUserID = existing.WhopUserID
	customer.UpdatedAt = time.Now()

	clone := *customer
	s.customers[customer.ID] = &clone

	return nil
}
