package session

import (
	"testing"

	"chat-relay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Queue(t *testing.T) {
	s := New("s1", "user-1", 2, Disconnect)

	assert.True(t, s.Queue(protocol.AckFrame(1, &protocol.Ack{})))
	assert.True(t, s.Queue(protocol.AckFrame(2, &protocol.Ack{})))

	frame := <-s.Outbound()
	assert.Equal(t, 1, frame.Id)
}

func TestSession_Queue_DisconnectPolicyOnOverflow(t *testing.T) {
	s := New("s1", "user-1", 1, Disconnect)

	assert.True(t, s.Queue(protocol.AckFrame(1, &protocol.Ack{})))
	assert.False(t, s.Queue(protocol.AckFrame(2, &protocol.Ack{})), "full buffer under Disconnect evicts")
}

func TestSession_Queue_DropOldestPolicyOnOverflow(t *testing.T) {
	s := New("s1", "user-1", 2, DropOldest)

	assert.True(t, s.Queue(protocol.AckFrame(1, &protocol.Ack{})))
	assert.True(t, s.Queue(protocol.AckFrame(2, &protocol.Ack{})))
	assert.True(t, s.Queue(protocol.AckFrame(3, &protocol.Ack{})), "overflow sheds, never evicts")

	first := <-s.Outbound()
	second := <-s.Outbound()
	assert.Equal(t, 2, first.Id, "oldest frame was shed")
	assert.Equal(t, 3, second.Id)
}

func TestSession_Queue_AfterClose(t *testing.T) {
	s := New("s1", "user-1", 2, DropOldest)
	s.Close()

	assert.False(t, s.Queue(protocol.AckFrame(1, &protocol.Ack{})))
}

func TestSession_Close_Idempotent(t *testing.T) {
	s := New("s1", "user-1", 2, Disconnect)

	s.Close()
	s.Close()

	assert.True(t, s.Closed())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestSession_Channels(t *testing.T) {
	s := New("s1", "user-1", 2, Disconnect)

	s.addChannel("ch-1")
	s.addChannel("ch-2")

	require.True(t, s.hasChannel("ch-1"))
	assert.ElementsMatch(t, []string{"ch-1", "ch-2"}, s.Channels())

	s.removeChannel("ch-1")
	assert.False(t, s.hasChannel("ch-1"))
}
