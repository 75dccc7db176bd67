package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/levenlabs/go-lflag"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteProvider implements Database on a local SQLite file for single host
// deployments.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "elektrummon.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite returns an uninitialized SQLiteProvider for path.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database and applies the embedded migrations.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	// sqlite only supports a single writer
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database %s: %w", s.path, err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type instanceScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row instanceScanner) (types.Instance, error) {
	var instance types.Instance
	var createdAt int64
	if err := row.Scan(&instance.ID, &instance.Name, &instance.Username, &instance.EncryptedCredentials, &createdAt); err != nil {
		return types.Instance{}, err
	}
	instance.CreatedAt = time.UnixMilli(createdAt).UTC()
	return instance, nil
}

// ListInstances returns every stored instance ordered by id.
func (s *SQLiteProvider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, username, encrypted_credentials, created_at "+
			"FROM instances ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []types.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return instances, nil
}

// GetInstance returns the instance with id or ErrInstanceNotFound.
func (s *SQLiteProvider) GetInstance(ctx context.Context, id string) (types.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, username, encrypted_credentials, created_at "+
			"FROM instances WHERE id = ?",
		id,
	)
	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Instance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return types.Instance{}, fmt.Errorf("failed to get instance %s: %w", id, err)
	}
	return instance, nil
}

// PutInstance creates or replaces the instance.
func (s *SQLiteProvider) PutInstance(ctx context.Context, instance types.Instance) error {
	if instance.ID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO instances (id, name, username, encrypted_credentials, created_at) "+
			"VALUES (?, ?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET name = excluded.name, username = excluded.username, "+
			"encrypted_credentials = excluded.encrypted_credentials, created_at = excluded.created_at",
		instance.ID,
		instance.Name,
		instance.Username,
		instance.EncryptedCredentials,
		instance.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}
	return nil
}

// DeleteInstance removes the instance. Deleting a missing instance returns
// ErrInstanceNotFound.
func (s *SQLiteProvider) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return nil
}
