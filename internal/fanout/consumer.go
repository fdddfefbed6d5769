package fanout

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"chat-relay/internal/bus"
	"chat-relay/internal/protocol"
	"chat-relay/internal/session"
	"chat-relay/internal/stats"
	"chat-relay/internal/types"
)

// Group is the consumer group name shared by every relay process; the
// bus balances partitions across them.
const Group = "relay-fanout"

const rejoinDelay = 500 * time.Millisecond

// Evictor removes a session that fell behind under the Disconnect
// overflow policy.
type Evictor interface {
	Evict(sessionId string)
}

// Consumer reads committed records partition by partition and pushes each
// message to every locally subscribed session. The commit point advances
// only after local delivery, so a crash redelivers rather than loses;
// clients deduplicate on message id.
type Consumer struct {
	bus      bus.Bus
	registry *session.Registry
	evictor  Evictor
	stats    stats.StatsProvider
	log      *log.Logger
}

func NewConsumer(b bus.Bus, registry *session.Registry, evictor Evictor, sp stats.StatsProvider, logger *log.Logger) *Consumer {
	return &Consumer{
		bus:      b,
		registry: registry,
		evictor:  evictor,
		stats:    sp,
		log:      logger,
	}
}

// Run blocks consuming until ctx is cancelled. A bus session that ends
// with an error is rejoined; consumption resumes from the group's commit
// point, so undelivered records come around again.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.bus.Consume(ctx, Group, c.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Printf("consume session ended: %v, rejoining", err)
		select {
		case <-time.After(rejoinDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) handle(rec bus.Record) error {
	var msg types.Message
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		// A record that cannot be decoded never will be; commit past it
		// instead of wedging the partition.
		c.log.Printf("skipping undecodable record %s@%d: %v", rec.Partition, rec.Offset, err)
		return nil
	}

	// The partition offset is the authoritative order; the client-facing
	// sequence is derived from it, not from the stored payload.
	msg.Sequence = rec.Offset + 1

	frame := protocol.MessageFrame(&msg)
	for _, s := range c.registry.SessionsForChannel(msg.ChannelId) {
		if !s.Queue(frame) {
			c.log.Printf("session %s cannot keep up, evicting", s.Id)
			if c.evictor != nil {
				c.evictor.Evict(s.Id)
			}
			continue
		}
		if c.stats != nil {
			c.stats.Count(stats.MessagesDelivered)
		}
	}

	return nil
}
