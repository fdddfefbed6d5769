package guild

import (
	"context"

	"chat-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) GetChannel(ctx context.Context, channelId string) (types.Channel, error) {
	args := m.Called(ctx, channelId)
	return args.Get(0).(types.Channel), args.Error(1)
}

func (m *MockService) IsMember(ctx context.Context, userId, channelId string) (bool, error) {
	args := m.Called(ctx, userId, channelId)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) ListMembers(ctx context.Context, channelId string) ([]string, error) {
	args := m.Called(ctx, channelId)
	return args.Get(0).([]string), args.Error(1)
}
