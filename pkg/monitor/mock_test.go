package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/elektrummon/elektrummon/pkg/utility"
	"github.com/stretchr/testify/mock"
)

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
