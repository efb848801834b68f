package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// CustomerStore implements store.CustomerStore using PostgreSQL.
type CustomerStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewCustomerStore creates a new PostgreSQL-backed customer store.
func NewCustomerStore(pool *pgxpool.Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

const customerColumns = `
	customer_id, creator_id, whop_user_id, whop_member_id, whop_company_id,
	name, email, username, plan_name,
	joined_at, first_message_sent, created_at, updated_at`

// Create inserts a new customer.
func (s *CustomerStore) Create(ctx context.Context, customer *models.Customer) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if customer.ID == "" {
		customer.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now()
	if customer.JoinedAt.IsZero() {
		customer.JoinedAt = now
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now

	query := `INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		customer.ID,
		customer.CreatorID,
		customer.WhopUserID,
		customer.WhopMemberID,
		customer.WhopCompanyID,
		customer.Name,
		customer.Email,
		customer.Username,
		customer.PlanName,
		customer.JoinedAt,
		customer.FirstMessageSent,
		customer.CreatedAt,
		customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrCustomerAlreadyExists
		}
		return fmt.Errorf("failed to create customer: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("customer_id", customer.ID).
		Str("creator_id", customer.CreatorID).
		Str("whop_user_id", customer.WhopUserID).
		Msg("Created customer")

	return nil
}

// Get retrieves a customer by ID.
func (s *CustomerStore) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	return s.queryOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE customer_id = $1`, customerID)
}

// GetByWhopUser retrieves a creator's customer by Whop user ID.
func (s *CustomerStore) GetByWhopUser(ctx context.Context, creatorID, whopUserID string) (*models.Customer, error) {
	return s.queryOne(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE creator_id = $1 AND whop_user_id = $2`,
		creatorID, whopUserID)
}

// ListByCreator returns a creator's customers in join order.
func (s *CustomerStore) ListByCreator(ctx context.Context, creatorID string) ([]*models.Customer, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE creator_id = $1 ORDER BY joined_at, customer_id`,
		creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}

	return customers, rows.Err()
}

// Update replaces the mutable fields of a customer. CreatorID and WhopUserID are fixed.
func (s *CustomerStore) Update(ctx context.Context, customer *models.Customer) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	customer.UpdatedAt = time.Now()

	result, err := s.pool.Exec(ctx, `
		UPDATE customers SET
			whop_member_id = $2,
			whop_company_id = $3,
			name = $4,
			email = $5,
			username = $6,
			plan_name = $7,
			joined_at = $8,
			first_message_sent = $9,
			updated_at = $10
		WHERE customer_id = $1
	`,
		customer.ID,
		customer.WhopMemberID,
		customer.WhopCompanyID,
		customer.Name,
		customer.Email,
		customer.Username,
		customer.PlanName,
		customer.JoinedAt,
		customer.FirstMessageSent,
		customer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrCustomerNotFound
	}

	return nil
}

func (s *CustomerStore) queryOne(ctx context.Context, query string, args ...any) (*models.Customer, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	customer, err := scanCustomer(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", mapPostgresError(err))
	}
	return customer, nil
}

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(
		&c.ID,
		&c.CreatorID,
		&c.WhopUserID,
		&c.WhopMemberID,
		&c.WhopCompanyID,
		&c.Name,
		&c.Email,
		&c.Username,
		&c.PlanName,
		&c.JoinedAt,
		&c.FirstMessageSent,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
