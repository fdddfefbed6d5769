package bus

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Each partition key maps to its own single-partition topic so the log
// offset is the channel's own sequence source.
const topicPrefix = "chat.msg."

// KafkaBus implements Bus on a Kafka-compatible cluster via franz-go.
type KafkaBus struct {
	brokers  []string
	producer *kgo.Client
	log      *log.Logger
}

func NewKafkaBus(brokers []string, logger *log.Logger) (*KafkaBus, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.NoCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &KafkaBus{
		brokers:  brokers,
		producer: producer,
		log:      logger,
	}, nil
}

func topicFor(partition string) string {
	return topicPrefix + partition
}

func partitionFor(topic string) string {
	return strings.TrimPrefix(topic, topicPrefix)
}

// Publish produces synchronously and returns the broker-assigned offset.
// Any produce failure is reported as retryable; the caller owns the
// bounded retry policy.
func (b *KafkaBus) Publish(ctx context.Context, partition string, value []byte) (int64, error) {
	rec := &kgo.Record{
		Topic: topicFor(partition),
		Key:   []byte(partition),
		Value: value,
	}

	results := b.producer.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return 0, fmt.Errorf("produce to %q: %v: %w", partition, err, ErrUnavailable)
	}

	return results[0].Record.Offset, nil
}

// Consume joins the consumer group and processes records in order per
// partition, committing each record only after fn accepts it. The group
// protocol rebalances partitions across consumer processes and guarantees
// a single active consumer per partition.
//
// A handler or commit failure ends the session with nothing committed at
// or past the failed record; the poll position is already beyond it, so
// continuing would let a later commit swallow the failure. The caller
// rejoins and resumes from the commit point, redelivering the record.
func (b *KafkaBus) Consume(ctx context.Context, group string, fn func(Record) error) error {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeRegex(),
		kgo.ConsumeTopics("^"+strings.ReplaceAll(topicPrefix, ".", "[.]")+".*"),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
	)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			b.log.Printf("fetch error on %s/%d: %v", topic, partition, err)
		})

		var handlerErr error
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if handlerErr != nil {
				return
			}
			for _, rec := range p.Records {
				if err := fn(Record{
					Partition: partitionFor(rec.Topic),
					Offset:    rec.Offset,
					Value:     rec.Value,
				}); err != nil {
					handlerErr = fmt.Errorf("handle %s@%d: %w", rec.Topic, rec.Offset, err)
					return
				}

				if err := consumer.CommitRecords(ctx, rec); err != nil {
					handlerErr = fmt.Errorf("commit %s@%d: %w", rec.Topic, rec.Offset, err)
					return
				}
			}
		})
		if handlerErr != nil {
			b.log.Printf("leaving group %s: %v", group, handlerErr)
			return handlerErr
		}
	}
}

func (b *KafkaBus) Close() error {
	b.producer.Close()
	return nil
}
