// Package firestore implements the store interfaces on Google Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wolfeidau/whopvoice/internal/store"
)

const (
	creatorsCollection      = "creators"
	customersCollection     = "customers"
	audioMessagesCollection = "audio_messages"
)

// Config selects the Firestore project and database.
type Config struct {
	ProjectID string

	// DatabaseID defaults to "(default)".
	DatabaseID string

	// CredentialsFile is a service account JSON path. Empty means application
	// default credentials, which also covers FIRESTORE_EMULATOR_HOST.
	CredentialsFile string
}

// DB owns the Firestore client shared by the stores.
type DB struct {
	client *gcfirestore.Client
}

// Open creates a Firestore client.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}

	databaseID := cfg.DatabaseID
	if databaseID == "" {
		databaseID = gcfirestore.DefaultDatabaseID
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcfirestore.NewClientWithDatabase(ctx, cfg.ProjectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	log.Info().Str("project_id", cfg.ProjectID).Str("database_id", databaseID).Msg("Firestore client initialised")

	return &DB{client: client}, nil
}

// Stores returns Firestore implementations of every store.
func (d *DB) Stores() store.Stores {
	return store.Stores{
		Creators:      &CreatorStore{client: d.client},
		Customers:     &CustomerStore{client: d.client},
		AudioMessages: &AudioMessageStore{client: d.client},
	}
}

// Ping reads a missing document to verify connectivity and credentials.
func (d *DB) Ping(ctx context.Context) error {
	_, err := d.client.Collection(creatorsCollection).Doc("_ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

// Close closes the underlying client.
func (d *DB) Close() error {
	return d.client.Close()
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// collect drains a document iterator, decoding each document with decode.
func collect[T any](iter *gcfirestore.DocumentIterator, decode func(*gcfirestore.DocumentSnapshot) (*T, error)) ([]*T, error) {
	defer iter.Stop()

	var out []*T
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		v, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
