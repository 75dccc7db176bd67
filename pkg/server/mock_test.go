package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/monitor"
	"github.com/elektrummon/elektrummon/pkg/storage/storagemock"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/elektrummon/elektrummon/pkg/utility"
	"github.com/stretchr/testify/mock"
)

const testKey = "01234567890123456789012345678901"

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockProvider struct {
	mock.Mock
}

var _ utility.Provider = (*mockProvider)(nil)

func (m *mockProvider) Authenticate(ctx context.Context, creds types.Credentials) (*utility.Session, error) {
	args := m.Called(ctx, creds)
	s, _ := args.Get(0).(*utility.Session)
	return s, args.Error(1)
}

func (m *mockProvider) FetchConsumption(ctx context.Context, session *utility.Session, day time.Time) (types.HourlyReading, error) {
	args := m.Called(ctx, session, day)
	r, _ := args.Get(0).(types.HourlyReading)
	return r, args.Error(1)
}

var (
	testSession = utility.NewSession(http.DefaultClient)
	testNow     = time.Date(2024, time.March, 8, 10, 0, 0, 0, time.UTC)
	testDay     = time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)
	testCreds   = types.Credentials{Username: "user@example.com", Password: "hunter2"}
	testReading = types.HourlyReading{{Hour: "01:00", KWH: 0.5}, {Hour: "02:00", KWH: 1.5}}
)

// newTestServer returns a Server with auth bypassed, backed by mocks. The
// registry runs in UTC with a fixed clock.
func newTestServer() (*Server, *mockProvider, *storagemock.MockDatabase) {
	p := &mockProvider{}
	db := &storagemock.MockDatabase{}
	r := monitor.NewRegistry(p, monitor.WithLocation(time.UTC), monitor.WithClock(func() time.Time { return testNow }))
	srv := &Server{
		registry:      r,
		storage:       db,
		bypassAuth:    true,
		encryptionKey: testKey,
		now:           func() time.Time { return testNow },
	}
	return srv, p, db
}
