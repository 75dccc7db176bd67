package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const instancesCollection = "instances"

// FirestoreProvider implements Database using Google Cloud Firestore. Every
// instance is one document in the "instances" collection holding the
// instance as a JSON string.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project id is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func decodeInstanceDoc(doc *firestore.DocumentSnapshot) (types.Instance, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.Instance{}, fmt.Errorf("instance %s missing json: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.Instance{}, fmt.Errorf("instance %s json not string", doc.Ref.ID)
	}
	var instance types.Instance
	if err := json.Unmarshal([]byte(jsonStr), &instance); err != nil {
		return types.Instance{}, fmt.Errorf("failed to unmarshal instance %s: %w", doc.Ref.ID, err)
	}
	return instance, nil
}

// ListInstances returns every stored instance ordered by id. Malformed
// documents are logged and skipped.
func (f *FirestoreProvider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	iter := f.client.Collection(instancesCollection).Documents(ctx)
	defer iter.Stop()

	var instances []types.Instance
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating instances: %w", err)
		}

		instance, err := decodeInstanceDoc(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed instance", slog.String("instanceID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
	return instances, nil
}

// GetInstance returns the instance with id or ErrInstanceNotFound.
func (f *FirestoreProvider) GetInstance(ctx context.Context, id string) (types.Instance, error) {
	if id == "" {
		return types.Instance{}, fmt.Errorf("instance id cannot be empty")
	}
	doc, err := f.client.Collection(instancesCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Instance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return types.Instance{}, fmt.Errorf("failed to get instance %s: %w", id, err)
	}
	instance, err := decodeInstanceDoc(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "malformed instance", slog.String("instanceID", id), slog.Any("error", err))
		return types.Instance{}, err
	}
	return instance, nil
}

// PutInstance creates or replaces the instance document.
func (f *FirestoreProvider) PutInstance(ctx context.Context, instance types.Instance) error {
	if instance.ID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}
	jsonBytes, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	_, err = f.client.Collection(instancesCollection).Doc(instance.ID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"username":  instance.Username,
		"createdAt": instance.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}
	return nil
}

// DeleteInstance removes the instance document. Deleting a missing instance
// returns ErrInstanceNotFound.
func (f *FirestoreProvider) DeleteInstance(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("instance id cannot be empty")
	}
	_, err := f.client.Collection(instancesCollection).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}
	return nil
}
