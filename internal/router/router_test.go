package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/bus"
	"chat-relay/internal/protocol"
	"chat-relay/internal/testutil"
	"chat-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBus struct {
	mu       sync.Mutex
	attempts int
	failures int
	inner    *bus.MemoryBus
}

func (b *failingBus) Publish(ctx context.Context, partition string, value []byte) (int64, error) {
	b.mu.Lock()
	b.attempts++
	fail := b.attempts <= b.failures
	b.mu.Unlock()

	if fail {
		return 0, bus.ErrUnavailable
	}
	return b.inner.Publish(ctx, partition, value)
}

func (b *failingBus) Consume(ctx context.Context, group string, fn func(bus.Record) error) error {
	return b.inner.Consume(ctx, group, fn)
}

func (b *failingBus) Close() error { return b.inner.Close() }

func TestPartitionKey(t *testing.T) {
	tcases := []struct {
		name string
		ch   types.Channel
		key  string
	}{
		{
			name: "guild channel",
			ch:   types.Channel{Id: "ch-1", Kind: types.ChannelGuild},
			key:  "guild.ch-1",
		},
		{
			name: "direct channel sorted",
			ch:   types.Channel{Id: "d-1", Kind: types.ChannelDirect, Members: []string{"bob", "alice"}},
			key:  "direct.alice.bob",
		},
		{
			name: "direct channel already sorted",
			ch:   types.Channel{Id: "d-1", Kind: types.ChannelDirect, Members: []string{"alice", "bob"}},
			key:  "direct.alice.bob",
		},
		{
			name: "direct channel without members",
			ch:   types.Channel{Id: "d-1", Kind: types.ChannelDirect},
			key:  "direct.d-1",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.key, PartitionKey(tc.ch))
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	r := NewRouter(bus.NewMemoryBus(), testutil.TestLogger(t), WithMaxPayload(10))
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild}

	tcases := []struct {
		name    string
		content string
		rej     *protocol.Error
	}{
		{
			name:    "empty content",
			content: "",
			rej:     protocol.ErrEmptyPayload,
		},
		{
			name:    "whitespace only",
			content: "   \n\t",
			rej:     protocol.ErrEmptyPayload,
		},
		{
			name:    "oversized content",
			content: strings.Repeat("x", 11),
			rej:     protocol.ErrOversizedPayload,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			msg, rej := r.Publish(context.Background(), ch, "user-1", tc.content, nil)
			assert.Nil(t, msg)
			assert.Equal(t, tc.rej, rej)
		})
	}
}

func TestPublish_AssignsSequenceFromOffset(t *testing.T) {
	r := NewRouter(bus.NewMemoryBus(), testutil.TestLogger(t))
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild}

	first, rej := r.Publish(context.Background(), ch, "user-1", "hello", nil)
	require.Nil(t, rej)
	second, rej := r.Publish(context.Background(), ch, "user-1", "world", nil)
	require.Nil(t, rej)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.NotEmpty(t, first.Id)
	assert.NotEqual(t, first.Id, second.Id)
	assert.Equal(t, "ch-1", first.ChannelId)
	assert.Equal(t, "user-1", first.SenderId)
	assert.False(t, first.SentAt.IsZero())
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	fb := &failingBus{failures: 2, inner: bus.NewMemoryBus()}
	r := NewRouter(fb, testutil.TestLogger(t), WithRetry(5, time.Millisecond))
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild}

	msg, rej := r.Publish(context.Background(), ch, "user-1", "hello", nil)

	require.Nil(t, rej)
	assert.Equal(t, int64(1), msg.Sequence)
	assert.Equal(t, 3, fb.attempts)
}

func TestPublish_ExhaustedRetries(t *testing.T) {
	fb := &failingBus{failures: 100, inner: bus.NewMemoryBus()}
	r := NewRouter(fb, testutil.TestLogger(t), WithRetry(3, time.Millisecond))
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild}

	msg, rej := r.Publish(context.Background(), ch, "user-1", "hello", nil)

	assert.Nil(t, msg)
	assert.Equal(t, protocol.ErrBrokerUnavailable, rej)
	assert.Equal(t, 3, fb.attempts)
}

func TestPublish_CancelledContext(t *testing.T) {
	fb := &failingBus{failures: 100, inner: bus.NewMemoryBus()}
	r := NewRouter(fb, testutil.TestLogger(t), WithRetry(10, 50*time.Millisecond))
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, rej := r.Publish(ctx, ch, "user-1", "hello", nil)

	assert.Nil(t, msg)
	assert.Equal(t, protocol.ErrBrokerUnavailable, rej)
}

func TestPublish_ConcurrentSendersGetUniqueSequences(t *testing.T) {
	r := NewRouter(bus.NewMemoryBus(), testutil.TestLogger(t))
	ch := types.Channel{Id: "ch-1", Kind: types.ChannelGuild}

	const n = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[int64]struct{})
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			msg, rej := r.Publish(context.Background(), ch, "user-1", "hello", nil)
			if !assert.Nil(t, rej) {
				return
			}

			mu.Lock()
			seqs[msg.Sequence] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// No gaps, no duplicates.
	require.Len(t, seqs, n)
	for i := int64(1); i <= n; i++ {
		assert.Contains(t, seqs, i)
	}
}
