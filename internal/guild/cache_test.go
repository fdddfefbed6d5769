package guild

import (
	"context"
	"testing"
	"time"

	"chat-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCache_IsMember_CachesWithinTTL(t *testing.T) {
	svc := &MockService{}
	svc.On("IsMember", mock.Anything, "user-1", "ch-1").Return(true, nil).Once()

	c := NewCache(svc, time.Minute)

	for i := 0; i < 3; i++ {
		member, err := c.IsMember(context.Background(), "user-1", "ch-1")
		require.NoError(t, err)
		assert.True(t, member)
	}

	svc.AssertExpectations(t)
}

func TestCache_IsMember_RefreshesAfterTTL(t *testing.T) {
	svc := &MockService{}
	svc.On("IsMember", mock.Anything, "user-1", "ch-1").Return(true, nil).Twice()

	c := NewCache(svc, time.Minute)

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.IsMember(context.Background(), "user-1", "ch-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = c.IsMember(context.Background(), "user-1", "ch-1")
	require.NoError(t, err)

	svc.AssertExpectations(t)
}

func TestCache_IsMember_Error(t *testing.T) {
	svc := &MockService{}
	svc.On("IsMember", mock.Anything, "user-1", "ch-1").Return(false, assert.AnError)

	c := NewCache(svc, time.Minute)

	_, err := c.IsMember(context.Background(), "user-1", "ch-1")
	assert.Error(t, err)
}

func TestCache_Invalidate(t *testing.T) {
	svc := &MockService{}
	svc.On("IsMember", mock.Anything, "user-1", "ch-1").Return(true, nil).Once()
	svc.On("IsMember", mock.Anything, "user-1", "ch-1").Return(false, nil).Once()

	c := NewCache(svc, time.Minute)

	member, err := c.IsMember(context.Background(), "user-1", "ch-1")
	require.NoError(t, err)
	assert.True(t, member)

	c.Invalidate("user-1", "ch-1")

	member, err = c.IsMember(context.Background(), "user-1", "ch-1")
	require.NoError(t, err)
	assert.False(t, member, "next check after invalidation goes back to the service")

	svc.AssertExpectations(t)
}

func TestCache_GetChannel(t *testing.T) {
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild, GuildId: "g-1"}

	svc := &MockService{}
	svc.On("GetChannel", mock.Anything, "ch-1").Return(ch, nil).Once()

	c := NewCache(svc, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := c.GetChannel(context.Background(), "ch-1")
		require.NoError(t, err)
		assert.Equal(t, ch, got)
	}

	svc.AssertExpectations(t)
}

func TestCache_GetChannel_Error(t *testing.T) {
	svc := &MockService{}
	svc.On("GetChannel", mock.Anything, "ch-1").Return(types.Channel{}, ErrChannelNotFound)

	c := NewCache(svc, time.Minute)

	_, err := c.GetChannel(context.Background(), "ch-1")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}
