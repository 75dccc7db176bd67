package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/elektrummon/elektrummon/pkg/utility"
)

// ErrRefreshInProgress is returned when Refresh is called while another
// refresh of the same monitor is still running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Phase is the step a refresh cycle is in.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAuthenticating Phase = "authenticating"
	PhaseFetching       Phase = "fetching"
	PhaseUpdated        Phase = "updated"
)

// Monitor tracks the daily consumption of one set of credentials. Each call
// to Refresh logs in from scratch, fetches yesterday's hourly readings and
// merges them into the in-memory history.
type Monitor struct {
	id       string
	name     string
	creds    types.Credentials
	provider utility.Provider
	location *time.Location
	now      func() time.Time

	// refreshMu is held for the whole cycle
	refreshMu sync.Mutex

	mu          sync.RWMutex
	state       types.MonitorState
	phase       Phase
	lastErr     error
	lastAttempt time.Time
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLocation sets the time zone used to decide what "yesterday" is.
func WithLocation(loc *time.Location) Option {
	return func(m *Monitor) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithName sets the display name of the instance.
func WithName(name string) Option {
	return func(m *Monitor) {
		m.name = name
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns an idle Monitor with an empty state.
func New(id string, creds types.Credentials, provider utility.Provider, opts ...Option) *Monitor {
	m := &Monitor{
		id:       id,
		creds:    creds,
		provider: provider,
		location: time.Local,
		now:      time.Now,
		phase:    PhaseIdle,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ID returns the instance id of the monitor.
func (m *Monitor) ID() string {
	return m.id
}

// Name returns the display name of the instance, the id if none was set.
func (m *Monitor) Name() string {
	if m.name == "" {
		return m.id
	}
	return m.name
}

// Username returns the portal username the monitor logs in with.
func (m *Monitor) Username() string {
	return m.creds.Username
}

// State returns a copy of the state of the last successful refresh.
func (m *Monitor) State() types.MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Phase returns the current phase of the refresh cycle.
func (m *Monitor) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// LastError returns the error of the last refresh, nil if it succeeded.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// LastAttempt returns when the last refresh started.
func (m *Monitor) LastAttempt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAttempt
}

func (m *Monitor) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Refresh runs one full cycle: authenticate, fetch yesterday's readings and
// merge them into the state. On any failure the state is left untouched and
// the error is returned. There are no retries.
func (m *Monitor) Refresh(ctx context.Context) (types.MonitorState, error) {
	if !m.refreshMu.TryLock() {
		return types.MonitorState{}, ErrRefreshInProgress
	}
	defer m.refreshMu.Unlock()

	now := m.now()
	day := TargetDay(now, m.location)
	ctx = log.WithAttrs(ctx, slog.String("instanceID", m.id), slog.String("date", day.Format(types.DateKeyLayout)))

	m.mu.Lock()
	m.lastAttempt = now
	m.mu.Unlock()

	m.setPhase(PhaseAuthenticating)
	session, err := m.provider.Authenticate(ctx, m.creds)
	if err != nil {
		return m.fail(ctx, err)
	}

	m.setPhase(PhaseFetching)
	next, err := FetchAndMerge(ctx, m.provider, session, day, m.State())
	if err != nil {
		return m.fail(ctx, err)
	}
	next.UpdatedAt = now

	m.mu.Lock()
	m.state = next
	m.phase = PhaseUpdated
	m.lastErr = nil
	m.mu.Unlock()

	log.Ctx(ctx).InfoContext(
		ctx,
		"appended hourly data",
		slog.Float64("totalKWH", next.CurrentTotal),
		slog.Int("hours", len(next.CurrentDayHourly)),
		slog.Int("days", len(next.History)),
	)
	return next.Clone(), nil
}

func (m *Monitor) fail(ctx context.Context, err error) (types.MonitorState, error) {
	m.mu.Lock()
	m.phase = PhaseIdle
	m.lastErr = err
	m.mu.Unlock()

	if errors.Is(err, utility.ErrNoData) {
		log.Ctx(ctx).WarnContext(ctx, "no consumption data, keeping previous state")
	} else {
		log.Ctx(ctx).ErrorContext(ctx, "refresh failed", slog.String("kind", utility.ErrorKind(err)), slog.Any("error", err))
	}
	return types.MonitorState{}, fmt.Errorf("refresh %s: %w", m.id, err)
}

// TargetDay returns the start of the day before now in loc.
func TargetDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	// AddDate is DST-safe, unlike Add(-24*time.Hour)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
}

// FetchAndMerge fetches the readings of day with an authenticated session and
// returns state with them merged in. state itself is never modified.
func FetchAndMerge(ctx context.Context, provider utility.Provider, session *utility.Session, day time.Time, state types.MonitorState) (types.MonitorState, error) {
	reading, err := provider.FetchConsumption(ctx, session, day)
	if err != nil {
		return types.MonitorState{}, err
	}
	return Merge(state, day.Format(types.DateKeyLayout), reading), nil
}

// Merge returns a copy of state where dateKey's entry in the history is
// replaced wholesale by reading and the current day is set to it. Other days
// in the history are left as they were.
func Merge(state types.MonitorState, dateKey string, reading types.HourlyReading) types.MonitorState {
	next := state.Clone()
	if next.History == nil {
		next.History = make(types.DailyHistory)
	}
	next.History[dateKey] = reading.Clone()
	next.CurrentDayHourly = reading.Clone()
	next.CurrentTotal = reading.Total()
	next.CurrentDate = dateKey
	return next
}
