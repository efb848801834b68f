//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*DB, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := &Config{
		PoolConfig: PoolConfig{
			ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		},
		AutoMigrate: true,
	}

	db, err := Open(ctx, cfg)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		_ = container.Terminate(ctx)
	}

	return db, cleanup
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	stores := db.Stores()

	creator := &models.Creator{
		WhopUserID:      "user_1",
		WhopCompanyID:   "biz_1",
		MessageTemplate: models.DefaultMessageTemplate,
		Credits:         50,
		PlanType:        models.PlanFree,
	}

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, RunMigrations(ctx, db.pool))
	})

	t.Run("create and fetch creator", func(t *testing.T) {
		require.NoError(t, stores.Creators.Create(ctx, creator))

		got, err := stores.Creators.GetByUserAndCompany(ctx, "user_1", "biz_1")
		require.NoError(t, err)
		require.Equal(t, creator.ID, got.ID)
		require.Equal(t, 50, got.Credits)
		require.Equal(t, models.PlanFree, got.PlanType)

		err = stores.Creators.Create(ctx, &models.Creator{WhopUserID: "user_1", WhopCompanyID: "biz_1"})
		require.ErrorIs(t, err, store.ErrCreatorAlreadyExists)

		_, err = stores.Creators.Get(ctx, "missing")
		require.ErrorIs(t, err, store.ErrCreatorNotFound)
	})

	t.Run("get by company returns oldest", func(t *testing.T) {
		second := &models.Creator{WhopUserID: "user_2", WhopCompanyID: "biz_1"}
		require.NoError(t, stores.Creators.Create(ctx, second))

		got, err := stores.Creators.GetByCompany(ctx, "biz_1")
		require.NoError(t, err)
		require.Equal(t, creator.ID, got.ID)
	})

	t.Run("concurrent decrement", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := stores.Creators.DecrementCredits(ctx, creator.ID)
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := stores.Creators.Get(ctx, creator.ID)
		require.NoError(t, err)
		require.Equal(t, 30, got.Credits)
	})

	t.Run("profile update keeps credits", func(t *testing.T) {
		stale, err := stores.Creators.Get(ctx, creator.ID)
		require.NoError(t, err)

		_, err = stores.Creators.DecrementCredits(ctx, creator.ID)
		require.NoError(t, err)
		require.NoError(t, stores.Creators.SetAutomation(ctx, creator.ID, false))

		stale.MessageTemplate = "Welcome {name}"
		require.NoError(t, stores.Creators.Update(ctx, stale))
		require.Equal(t, 29, stale.Credits)
		require.False(t, stale.IsAutomationActive)

		got, err := stores.Creators.Get(ctx, creator.ID)
		require.NoError(t, err)
		require.Equal(t, "Welcome {name}", got.MessageTemplate)
		require.Equal(t, 29, got.Credits)
	})

	var customer *models.Customer

	t.Run("customers", func(t *testing.T) {
		customer = &models.Customer{CreatorID: creator.ID, WhopUserID: "member_1", Name: "Ada"}
		require.NoError(t, stores.Customers.Create(ctx, customer))

		err := stores.Customers.Create(ctx, &models.Customer{CreatorID: creator.ID, WhopUserID: "member_1"})
		require.ErrorIs(t, err, store.ErrCustomerAlreadyExists)

		customer.FirstMessageSent = true
		require.NoError(t, stores.Customers.Update(ctx, customer))

		got, err := stores.Customers.GetByWhopUser(ctx, creator.ID, "member_1")
		require.NoError(t, err)
		require.True(t, got.FirstMessageSent)

		list, err := stores.Customers.ListByCreator(ctx, creator.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("audio message lifecycle", func(t *testing.T) {
		msg := &models.AudioMessage{
			CustomerID:         customer.ID,
			CreatorID:          creator.ID,
			PersonalizedScript: "Hi Ada",
			Status:             models.StatusGenerating,
		}
		require.NoError(t, stores.AudioMessages.Create(ctx, msg))

		msg.Status = models.StatusCompleted
		msg.AudioURL = "data:audio/mp3;base64,AAAA"
		require.NoError(t, stores.AudioMessages.Update(ctx, msg))

		msg.Status = models.StatusSent
		require.NoError(t, stores.AudioMessages.Update(ctx, msg))

		msg.Status = models.StatusGenerating
		require.ErrorIs(t, stores.AudioMessages.Update(ctx, msg), store.ErrInvalidTransition)

		msg.Status = models.StatusSent
		msg.PersonalizedScript = "rewritten"
		require.ErrorIs(t, stores.AudioMessages.Update(ctx, msg), store.ErrAudioMessageImmutable)

		played, err := stores.AudioMessages.RecordPlay(ctx, msg.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusPlayed, played.Status)
		require.Equal(t, 1, played.PlayCount)
		require.NotNil(t, played.PlayedAt)

		second := &models.AudioMessage{CustomerID: customer.ID, CreatorID: creator.ID, PersonalizedScript: "again"}
		require.NoError(t, stores.AudioMessages.Create(ctx, second))

		list, err := stores.AudioMessages.ListByCustomer(ctx, customer.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, second.ID, list[1].ID)
	})
}
