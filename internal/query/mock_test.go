package query

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/store"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) FindBusinesses(ctx context.Context, filter store.BusinessFilter) ([]model.Business, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Business), args.Error(1)
}

func (m *mockReader) CurrentMetadata(ctx context.Context) (*model.Metadata, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Metadata), args.Error(1)
}

func (m *mockReader) MetadataHistory(ctx context.Context, limit int) ([]model.Metadata, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Metadata), args.Error(1)
}
