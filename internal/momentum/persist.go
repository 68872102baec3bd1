package momentum

import (
	"context"
	"time"

	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/retry"
)

type opKind int

const (
	opUpsertHigh opKind = iota
	opUpsertLastAlert
	opClearAll
	opBarrier
)

type storeOp struct {
	kind         opKind
	symbol       string
	highOfDay    float64
	initialPrice float64
	at           time.Time
	done         chan struct{}
}

// persister applies store writes in enqueue order on its own goroutine so a
// slow or unreachable store never stalls a tick.
type persister struct {
	store   DayStateStore
	ops     chan storeOp
	timeout time.Duration
	policy  retry.Policy
	stopped chan struct{}
}

func newPersister(store DayStateStore, queueSize int, timeout time.Duration, policy retry.Policy) *persister {
	if queueSize < 1 {
		queueSize = 1
	}
	p := &persister{
		store:   store,
		ops:     make(chan storeOp, queueSize),
		timeout: timeout,
		policy:  policy,
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue drops the op when the queue is full; the in-memory map stays
// authoritative.
func (p *persister) enqueue(op storeOp) {
	select {
	case p.ops <- op:
	default:
		logger.Warn("Day state write queue full, dropping %s write for %s", op.name(), op.symbol)
	}
}

// barrier enqueues a marker and returns a channel closed once every op
// enqueued before it has been applied. Unlike enqueue it waits for room on a
// full queue, until ctx is done.
func (p *persister) barrier(ctx context.Context) (<-chan struct{}, error) {
	done := make(chan struct{})
	select {
	case p.ops <- storeOp{kind: opBarrier, done: done}:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *persister) close() {
	close(p.ops)
	<-p.stopped
}

func (p *persister) run() {
	defer close(p.stopped)
	for op := range p.ops {
		if op.kind == opBarrier {
			close(op.done)
			continue
		}
		if err := p.apply(op); err != nil {
			logger.Warn("Day state store write failed: %v", err)
		}
	}
}

func (p *persister) apply(op storeOp) error {
	return p.policy.Do(context.Background(), op.name(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		switch op.kind {
		case opUpsertHigh:
			return p.store.UpsertDayHigh(ctx, op.symbol, op.highOfDay, op.at, op.initialPrice)
		case opUpsertLastAlert:
			return p.store.UpsertLastAlert(ctx, op.symbol, op.at)
		case opClearAll:
			return p.store.ClearDayStates(ctx)
		}
		return nil
	})
}

func (op storeOp) name() string {
	switch op.kind {
	case opUpsertHigh:
		return "upsert day high " + op.symbol
	case opUpsertLastAlert:
		return "upsert last alert " + op.symbol
	case opClearAll:
		return "clear day states"
	}
	return "barrier"
}
