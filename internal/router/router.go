package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"chat-relay/internal/bus"
	"chat-relay/internal/protocol"
	"chat-relay/internal/stats"
	"chat-relay/internal/types"
	"github.com/google/uuid"
)

const (
	defaultMaxPayload  = 4096
	defaultMaxAttempts = 5
	defaultBackoffBase = 50 * time.Millisecond
)

// Router maps channels to bus partitions and assigns per-channel total
// order on publish.
type Router struct {
	bus   bus.Bus
	log   *log.Logger
	stats stats.StatsProvider

	maxPayload  int
	maxAttempts int
	backoffBase time.Duration
}

type Option func(*Router)

func WithMaxPayload(n int) Option {
	return func(r *Router) { r.maxPayload = n }
}

func WithRetry(attempts int, base time.Duration) Option {
	return func(r *Router) {
		r.maxAttempts = attempts
		r.backoffBase = base
	}
}

func WithStats(sp stats.StatsProvider) Option {
	return func(r *Router) { r.stats = sp }
}

func NewRouter(b bus.Bus, logger *log.Logger, opts ...Option) *Router {
	r := &Router{
		bus:         b,
		log:         logger,
		maxPayload:  defaultMaxPayload,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PartitionKey is deterministic per channel. Guild channels key on the
// channel id. Direct channels key on the sorted participant pair, so both
// participants land on the same partition no matter who sends first.
func PartitionKey(ch types.Channel) string {
	if ch.Kind == types.ChannelDirect && len(ch.Members) == 2 {
		a, b := ch.Members[0], ch.Members[1]
		if b < a {
			a, b = b, a
		}
		return "direct." + a + "." + b
	}
	if ch.Kind == types.ChannelDirect {
		return "direct." + ch.Id
	}
	return "guild." + ch.Id
}

// Publish validates the payload, assigns message identity and submits to
// the channel's partition. It returns only after the log commits the
// write; transient broker failures are retried with bounded exponential
// backoff, and exhaustion surfaces as Broker_5031.
func (r *Router) Publish(ctx context.Context, ch types.Channel, senderId, content string, attachments []string) (*types.Message, *protocol.Error) {
	if strings.TrimSpace(content) == "" {
		return nil, protocol.ErrEmptyPayload
	}
	if len(content) > r.maxPayload {
		return nil, protocol.ErrOversizedPayload
	}

	msg := &types.Message{
		Id:          uuid.NewString(),
		ChannelId:   ch.Id,
		SenderId:    senderId,
		Content:     content,
		Attachments: attachments,
		SentAt:      time.Now().UTC().Round(time.Millisecond),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Printf("marshal message %s: %v", msg.Id, err)
		return nil, protocol.ErrUnknown
	}

	partition := PartitionKey(ch)

	offset, err := r.publishWithRetry(ctx, partition, data)
	if err != nil {
		r.log.Printf("publish to %q exhausted retries: %v", partition, err)
		return nil, protocol.ErrBrokerUnavailable
	}

	// The stream offset is zero-based; the client-facing sequence starts
	// at 1.
	msg.Sequence = offset + 1

	return msg, nil
}

func (r *Router) publishWithRetry(ctx context.Context, partition string, data []byte) (int64, error) {
	backoff := r.backoffBase

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		offset, err := r.bus.Publish(ctx, partition, data)
		if err == nil {
			return offset, nil
		}
		lastErr = err
		if r.stats != nil {
			r.stats.Count(stats.PublishRetries)
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if attempt == r.maxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		backoff *= 2
	}

	return 0, fmt.Errorf("after %d attempts: %w", r.maxAttempts, lastErr)
}
