// Command seed imports instances from a TOML file into storage, e.g.
//
//	[[instance]]
//	id = "home"
//	name = "Home"
//	username = "user@example.com"
//	password = "hunter2"
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/monitor"
	"github.com/elektrummon/elektrummon/pkg/server"
	"github.com/elektrummon/elektrummon/pkg/storage"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/levenlabs/go-lflag"
)

type seedInstance struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type seedFile struct {
	Instances []seedInstance `toml:"instance"`
}

// loadSeedFile reads and validates the instances in path. Missing ids default
// to the unique id of the username.
func loadSeedFile(path string) ([]seedInstance, error) {
	var f seedFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	if len(f.Instances) == 0 {
		return nil, errors.New("no instances defined")
	}

	seen := make(map[string]bool, len(f.Instances))
	for i := range f.Instances {
		in := &f.Instances[i]
		if !(types.Credentials{Username: in.Username, Password: in.Password}).Valid() {
			return nil, fmt.Errorf("instance %d: username and password are required", i)
		}
		if in.ID == "" {
			in.ID = monitor.UniqueID(in.Username)
		}
		if seen[in.ID] {
			return nil, fmt.Errorf("instance %d: duplicate id %s", i, in.ID)
		}
		seen[in.ID] = true
	}
	return f.Instances, nil
}

func seed(ctx context.Context, db storage.Database, key string, instances []seedInstance, now time.Time) error {
	for _, in := range instances {
		encrypted, err := server.EncryptCredentials(ctx, key, types.Credentials{Username: in.Username, Password: in.Password})
		if err != nil {
			return err
		}
		err = db.PutInstance(ctx, types.Instance{
			ID:                   in.ID,
			Name:                 in.Name,
			Username:             in.Username,
			EncryptedCredentials: encrypted,
			CreatedAt:            now.UTC(),
		})
		if err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded instance", slog.String("instanceID", in.ID))
	}
	return nil
}

func main() {
	s := storage.Configured()
	path := lflag.RequiredString("instances-file", "TOML file listing the instances to import")
	key := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	instances, err := loadSeedFile(*path)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load instances file", slog.Any("error", err))
		os.Exit(1)
	}
	if err := seed(ctx, s, *key, instances, time.Now()); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed instances", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete", slog.Int("instances", len(instances)))
}
