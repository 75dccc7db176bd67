package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/elektrummon/elektrummon/pkg/utility"
)

var (
	ErrUnknownInstance = errors.New("unknown instance")
	ErrInstanceExists  = errors.New("instance already configured")
)

// UniqueID returns the default instance id for a portal username.
func UniqueID(username string) string {
	return "elektrum_energy_monitor_" + username
}

// Registry owns the monitors of every configured instance. Nothing is shared
// between monitors other than the provider.
type Registry struct {
	provider utility.Provider
	opts     []Option

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewRegistry creates an empty Registry. opts are applied to every monitor it
// creates.
func NewRegistry(provider utility.Provider, opts ...Option) *Registry {
	return &Registry{
		provider: provider,
		opts:     opts,
		monitors: make(map[string]*Monitor),
	}
}

// CheckCredentials logs in once with creds and throws the session away.
func (r *Registry) CheckCredentials(ctx context.Context, creds types.Credentials) error {
	if !creds.Valid() {
		return errors.New("username and password are required")
	}
	if _, err := r.provider.Authenticate(ctx, creds); err != nil {
		return err
	}
	return nil
}

// Configure creates the monitor for an instance. An empty id defaults to
// UniqueID of the username. opts are applied after the registry's.
func (r *Registry) Configure(id string, creds types.Credentials, opts ...Option) (*Monitor, error) {
	if !creds.Valid() {
		return nil, errors.New("username and password are required")
	}
	if id == "" {
		id = UniqueID(creds.Username)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.monitors[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, id)
	}
	m := New(id, creds, r.provider, append(slices.Clone(r.opts), opts...)...)
	r.monitors[id] = m
	return m, nil
}

// Get returns the monitor for id.
func (r *Registry) Get(id string) (*Monitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.monitors[id]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
}

// Remove drops the monitor for id along with its history.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.monitors[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	delete(r.monitors, id)
	return nil
}

// List returns every monitor ordered by id.
func (r *Registry) List() []*Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].id < list[j].id
	})
	return list
}

// Refresh runs a refresh cycle for id.
func (r *Registry) Refresh(ctx context.Context, id string) (types.MonitorState, error) {
	m, err := r.Get(id)
	if err != nil {
		return types.MonitorState{}, err
	}
	return m.Refresh(ctx)
}

// State returns the last successful state of id.
func (r *Registry) State(id string) (types.MonitorState, error) {
	m, err := r.Get(id)
	if err != nil {
		return types.MonitorState{}, err
	}
	return m.State(), nil
}

// RefreshAll refreshes every monitor one after another and returns the
// errors keyed by instance id. A failing instance does not stop the others.
func (r *Registry) RefreshAll(ctx context.Context) map[string]error {
	monitors := r.List()
	errs := make(map[string]error)
	for _, m := range monitors {
		if _, err := m.Refresh(ctx); err != nil {
			errs[m.id] = err
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "refreshed all instances", slog.Int("instances", len(monitors)), slog.Int("failed", len(errs)))
	return errs
}
