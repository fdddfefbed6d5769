package bus

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus: one append-only slice per partition,
// with per-group commit points. It backs tests and -dev single-process
// mode; durability is its only departure from the contract.
type MemoryBus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	logs    map[string][]Record
	commits map[string]map[string]int64
	closed  bool
}

func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{
		logs:    make(map[string][]Record),
		commits: make(map[string]map[string]int64),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBus) Publish(_ context.Context, partition string, value []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("publish to %q: %w", partition, ErrUnavailable)
	}

	offset := int64(len(b.logs[partition]))

	// Copy so the caller may reuse its buffer.
	data := make([]byte, len(value))
	copy(data, value)

	b.logs[partition] = append(b.logs[partition], Record{
		Partition: partition,
		Offset:    offset,
		Value:     data,
	})
	b.cond.Broadcast()

	return offset, nil
}

func (b *MemoryBus) Consume(ctx context.Context, group string, fn func(Record) error) error {
	// Wake the wait loop when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		b.cond.Broadcast()
	}()

	for {
		rec, ok := b.next(ctx, group)
		if !ok {
			return ctx.Err()
		}

		// A failing handler sees the same record again; the commit point
		// only moves on success.
		if err := fn(rec); err != nil {
			continue
		}

		b.commit(group, rec)
	}
}

// next blocks until an uncommitted record exists for the group or the
// context ends.
func (b *MemoryBus) next(ctx context.Context, group string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if ctx.Err() != nil || b.closed {
			return Record{}, false
		}

		commits := b.commits[group]
		for partition, log := range b.logs {
			committed := int64(0)
			if commits != nil {
				committed = commits[partition]
			}
			if committed < int64(len(log)) {
				return log[committed], true
			}
		}

		b.cond.Wait()
	}
}

func (b *MemoryBus) commit(group string, rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	commits := b.commits[group]
	if commits == nil {
		commits = make(map[string]int64)
		b.commits[group] = commits
	}
	if rec.Offset+1 > commits[rec.Partition] {
		commits[rec.Partition] = rec.Offset + 1
	}
}

// Committed reports the group's commit point for a partition.
func (b *MemoryBus) Committed(group, partition string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if commits, ok := b.commits[group]; ok {
		return commits[partition]
	}
	return 0
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
