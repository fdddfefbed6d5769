package bus

import (
	"context"
	"errors"
)

// ErrUnavailable marks a transient broker failure. Publishers retry these
// with bounded backoff; anything else is terminal.
var ErrUnavailable = errors.New("event bus unavailable")

// Record is one committed entry of a partition's ordered log.
type Record struct {
	Partition string
	Offset    int64
	Value     []byte
}

// Bus is the log-structured event bus the relay publishes through. Each
// partition is an independent append-only log; ordering is guaranteed
// only within a partition.
//
// Publish returns the record's offset within its partition and returns
// only once the write is committed by the log.
//
// Consume delivers committed records in order per partition and advances
// the group's commit point only after fn returns nil, which makes
// delivery at-least-once: a consumer restart may redeliver the last
// record(s). Consume blocks until ctx is cancelled, or returns early on
// an unrecoverable handler or commit failure; a subsequent Consume call
// resumes from the commit point, so the failed record is seen again.
type Bus interface {
	Publish(ctx context.Context, partition string, value []byte) (int64, error)
	Consume(ctx context.Context, group string, fn func(Record) error) error
	Close() error
}
