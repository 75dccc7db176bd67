package storagemock

import (
	"context"

	"github.com/elektrummon/elektrummon/pkg/storage"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListInstances(ctx context.Context) ([]types.Instance, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		instances, _ := args.Get(0).([]types.Instance)
		return instances, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetInstance(ctx context.Context, id string) (types.Instance, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Instance), args.Error(1)
}

func (m *MockDatabase) PutInstance(ctx context.Context, instance types.Instance) error {
	args := m.Called(ctx, instance)
	return args.Error(0)
}

func (m *MockDatabase) DeleteInstance(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
