package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// CustomerStore implements store.CustomerStore using Firestore.
type CustomerStore struct {
	client *gcfirestore.Client
}

func (s *CustomerStore) col() *gcfirestore.CollectionRef {
	return s.client.Collection(customersCollection)
}

func (s *CustomerStore) memberQuery(creatorID, whopUserID string) gcfirestore.Query {
	return s.col().Where("creatorId", "==", creatorID).Where("whopUserId", "==", whopUserID).Limit(1)
}

// Create stores a new customer document.
func (s *CustomerStore) Create(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		customer.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	if customer.JoinedAt.IsZero() {
		customer.JoinedAt = now
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		existing, err := tx.Documents(s.memberQuery(customer.CreatorID, customer.WhopUserID)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return store.ErrCustomerAlreadyExists
		}
		return tx.Create(s.col().Doc(customer.ID), customer)
	})
	if err != nil {
		if errors.Is(err, store.ErrCustomerAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// Get retrieves a customer by document ID.
func (s *CustomerStore) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	snap, err := s.col().Doc(customerID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer %q: %w", customerID, err)
	}
	return decodeCustomer(snap)
}

// GetByWhopUser retrieves a creator's customer by Whop user ID.
func (s *CustomerStore) GetByWhopUser(ctx context.Context, creatorID, whopUserID string) (*models.Customer, error) {
	customers, err := collect(s.memberQuery(creatorID, whopUserID).Documents(ctx), decodeCustomer)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	if len(customers) == 0 {
		return nil, store.ErrCustomerNotFound
	}
	return customers[0], nil
}

// ListByCreator returns a creator's customers in join order.
func (s *CustomerStore) ListByCreator(ctx context.Context, creatorID string) ([]*models.Customer, error) {
	customers, err := collect(s.col().Where("creatorId", "==", creatorID).
		OrderBy("joinedAt", gcfirestore.Asc).Documents(ctx), decodeCustomer)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers for creator %q: %w", creatorID, err)
	}
	return customers, nil
}

// Update replaces a customer document. CreatorID and WhopUserID keep their stored values.
func (s *CustomerStore) Update(ctx context.Context, customer *models.Customer) error {
	ref := s.col().Doc(customer.ID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return store.ErrCustomerNotFound
			}
			return err
		}
		current, err := decodeCustomer(snap)
		if err != nil {
			return err
		}

		customer.CreatorID = current.CreatorID
		customer.WhopUserID = current.WhopUserID
		customer.CreatedAt = current.CreatedAt
		customer.UpdatedAt = time.Now().UTC()

		return tx.Set(ref, customer)
	})
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return err
		}
		return fmt.Errorf("failed to update customer %q: %w", customer.ID, err)
	}
	return nil
}

func decodeCustomer(snap *gcfirestore.DocumentSnapshot) (*models.Customer, error) {
	var c models.Customer
	if err := snap.DataTo(&c); err != nil {
		return nil, fmt.Errorf("failed to decode customer %q: %w", snap.Ref.ID, err)
	}
	c.ID = snap.Ref.ID
	return &c, nil
}
