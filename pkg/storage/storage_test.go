package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

// testDatabase runs the same checks against every Database implementation.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()
	created := time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)

	home := types.Instance{
		ID:                   "home",
		Name:                 "Home",
		Username:             "user@example.com",
		EncryptedCredentials: []byte{0x01, 0x02, 0x03},
		CreatedAt:            created,
	}
	cabin := types.Instance{
		ID:                   "cabin",
		Username:             "other@example.com",
		EncryptedCredentials: []byte{0x04},
		CreatedAt:            created.Add(time.Hour),
	}

	t.Run("empty", func(t *testing.T) {
		list, err := db.ListInstances(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = db.GetInstance(ctx, "home")
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, db.PutInstance(ctx, home))
		require.NoError(t, db.PutInstance(ctx, cabin))

		got, err := db.GetInstance(ctx, "home")
		require.NoError(t, err)
		assert.Equal(t, home.ID, got.ID)
		assert.Equal(t, home.Name, got.Name)
		assert.Equal(t, home.Username, got.Username)
		assert.Equal(t, home.EncryptedCredentials, got.EncryptedCredentials)
		assert.True(t, home.CreatedAt.Equal(got.CreatedAt))

		list, err := db.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "cabin", list[0].ID)
		assert.Equal(t, "home", list[1].ID)
	})

	t.Run("put replaces", func(t *testing.T) {
		updated := home
		updated.Name = "Apartment"
		updated.EncryptedCredentials = []byte{0x09}
		require.NoError(t, db.PutInstance(ctx, updated))

		got, err := db.GetInstance(ctx, "home")
		require.NoError(t, err)
		assert.Equal(t, "Apartment", got.Name)
		assert.Equal(t, []byte{0x09}, got.EncryptedCredentials)

		list, err := db.ListInstances(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("empty id", func(t *testing.T) {
		assert.Error(t, db.PutInstance(ctx, types.Instance{Username: "x"}))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, db.DeleteInstance(ctx, "home"))
		_, err := db.GetInstance(ctx, "home")
		assert.ErrorIs(t, err, ErrInstanceNotFound)
		assert.ErrorIs(t, db.DeleteInstance(ctx, "home"), ErrInstanceNotFound)

		list, err := db.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "cabin", list[0].ID)
	})
}
