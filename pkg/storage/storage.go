package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var ErrInstanceNotFound = errors.New("instance not found")

// Database persists the configured instances. Consumption history is never
// stored, it only lives in the monitors.
type Database interface {
	ListInstances(ctx context.Context) ([]types.Instance, error)
	GetInstance(ctx context.Context, id string) (types.Instance, error)
	PutInstance(ctx context.Context, instance types.Instance) error
	DeleteInstance(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
