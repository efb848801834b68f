package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/whopvoice/internal/models"
)

// Sentinel errors for customer store operations
var (
	ErrCustomerNotFound      = errors.New("customer not found")
	ErrCustomerAlreadyExists = errors.New("customer already exists")
)

// CustomerStore defines the interface for customer (member) storage operations.
// A customer is unique per creator by WhopUserID.
type CustomerStore interface {
	// Create stores a new customer.
	// Returns ErrCustomerAlreadyExists if the creator already has this Whop user.
	Create(ctx context.Context, customer *models.Customer) error

	// Get retrieves a customer by ID.
	Get(ctx context.Context, customerID string) (*models.Customer, error)

	// GetByWhopUser retrieves a creator's customer by Whop user ID.
	GetByWhopUser(ctx context.Context, creatorID, whopUserID string) (*models.Customer, error)

	// ListByCreator returns a creator's customers in the order they joined.
	ListByCreator(ctx context.Context, creatorID string) ([]*models.Customer, error)

	// Update replaces a customer record and refreshes UpdatedAt.
	Update(ctx context.Context, customer *models.Customer) error
}
