// Package sync runs the long-poll loop that turns the server's operation
// stream into conversation updates, and mirrors those updates into the
// search index.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/status"
	"github.com/matheus3301/lined/internal/talk"
	"go.uber.org/zap"
)

// ErrStopped is returned once the loop has reached the STOPPED state.
var ErrStopped = errors.New("sync loop stopped")

const (
	DefaultBatchSize     = 50
	DefaultRetryInterval = 5 * time.Second
)

// Source fetches operations after the revision cursor and owns the cursor.
type Source interface {
	FetchOperations(ctx context.Context, count int) ([]talk.Operation, error)
	CurrentRevision() int64
	Advance(rev int64) int64
}

// Applier applies a message to its conversation.
type Applier interface {
	Apply(ctx context.Context, conversationID string, raw talk.Message) (*chat.Conversation, chat.Message, error)
}

// Options tunes the engine.
type Options struct {
	BatchSize     int
	RetryInterval time.Duration
}

// Status is a point-in-time view of the engine.
type Status struct {
	State             status.State
	Revision          int64
	LastPollAt        time.Time
	OperationsApplied int64
	Deltas            int64
	LastError         string
}

// Engine is the sync loop. One goroutine drives it; Stop and Status may be
// called from anywhere.
type Engine struct {
	src        Source
	store      Applier
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options
	reconciler *Reconciler

	stopping   atomic.Bool
	applied    atomic.Int64
	deltas     atomic.Int64
	lastPollAt atomic.Int64

	mu      sync.Mutex
	lastErr error
	done    chan struct{}
}

// NewEngine creates an engine in the IDLE state.
func NewEngine(src Source, store Applier, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Engine{
		src:     src,
		store:   store,
		machine: machine,
		bus:     b,
		logger:  logger,
		opts:    opts,
	}
}

// SetReconciler makes the engine record a checkpoint after every batch.
func (e *Engine) SetReconciler(r *Reconciler) {
	e.reconciler = r
}

// Poll runs one iteration: fetch a batch at the cursor, apply it in order,
// advancing the cursor after each operation, and call emit for every
// applied message before moving to the next operation.
//
// A long-poll timeout is an empty batch and returns nil. A superseded
// session moves the engine to STOPPED. Other errors are returned unchanged
// and are not retried. Cancelling ctx can abort the fetch but never a batch
// that is being applied.
func (e *Engine) Poll(ctx context.Context, emit func(Delta)) error {
	if e.machine.Current() == status.Stopped {
		return ErrStopped
	}
	if e.stopping.Load() {
		e.halt()
		return ErrStopped
	}
	if err := e.machine.Enter(status.Polling); err != nil {
		return err
	}

	ops, err := e.src.FetchOperations(ctx, e.opts.BatchSize)
	e.lastPollAt.Store(time.Now().UnixMilli())
	switch {
	case err == nil:
	case errors.Is(err, talk.ErrTimeout):
		e.logger.Debug("long poll timed out", zap.Int64("revision", e.src.CurrentRevision()))
		return nil
	case errors.Is(err, talk.ErrSessionSuperseded):
		e.setErr(err)
		_ = e.machine.Enter(status.Stopped)
		e.bus.Publish(bus.Event{Kind: bus.KindSuperseded, Payload: err.Error()})
		e.logger.Error("session superseded, sync stopped", zap.Error(err))
		return err
	default:
		e.setErr(err)
		_ = e.machine.Enter(status.Idle)
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	if err := e.machine.Enter(status.Applying); err != nil {
		return err
	}
	// Seeding fetches must not be cut short by shutdown.
	applyCtx := context.WithoutCancel(ctx)
	for i, op := range ops {
		if err := e.apply(applyCtx, op, emit); err != nil {
			e.setErr(err)
			_ = e.machine.Enter(status.Idle)
			e.logger.Warn("operation not applied, batch abandoned",
				zap.Int64("revision", op.Revision),
				zap.Int("remaining", len(ops)-i),
				zap.Error(err),
			)
			return err
		}
		e.src.Advance(op.Revision)
		e.applied.Add(1)
	}
	e.logger.Debug("processed operation batch", zap.Int("operations", len(ops)), zap.Int64("revision", e.src.CurrentRevision()))
	e.checkpoint()
	return e.machine.Enter(status.Polling)
}

func (e *Engine) apply(ctx context.Context, op talk.Operation, emit func(Delta)) error {
	var conversationID string
	switch op.Type {
	case talk.OpEndOfOperation:
		e.logger.Debug("end of operation sequence", zap.Int64("revision", op.Revision))
		return nil
	case talk.OpSendMessage, talk.OpReceiveMessage:
		if op.Message == nil {
			e.logger.Warn("message operation without message", zap.Stringer("type", op.Type), zap.Int64("revision", op.Revision))
			return nil
		}
		conversationID = op.Message.From
		if op.Type == talk.OpSendMessage {
			conversationID = op.Message.To
		}
	case talk.OpReceiveMessageReceipt:
		e.logger.Debug("unhandled read receipt", zap.Int64("revision", op.Revision))
		return nil
	default:
		e.logger.Debug("unhandled operation", zap.Stringer("type", op.Type), zap.Int64("revision", op.Revision))
		return nil
	}

	conv, msg, err := e.store.Apply(ctx, conversationID, *op.Message)
	if err != nil {
		return fmt.Errorf("apply %s at revision %d: %w", op.Type, op.Revision, err)
	}
	d := Delta{
		ID:           uuid.New(),
		Kind:         NewMessage,
		Conversation: conv,
		Message:      msg,
		Revision:     op.Revision,
	}
	if emit != nil {
		emit(d)
	}
	e.deltas.Add(1)
	e.bus.Publish(bus.Event{Kind: bus.KindDelta, Payload: d})
	return nil
}

// Run polls until Stop is called, ctx is done, or an iteration fails.
func (e *Engine) Run(ctx context.Context, emit func(Delta)) error {
	for {
		if err := ctx.Err(); err != nil {
			_ = e.machine.Enter(status.Idle)
			return err
		}
		if err := e.Poll(ctx, emit); err != nil {
			if ctx.Err() != nil && e.machine.Current() != status.Stopped {
				_ = e.machine.Enter(status.Idle)
			}
			return err
		}
	}
}

// Stop asks the loop to stop at the next iteration boundary. A fetch in
// flight is not interrupted and a batch being applied is finished first.
func (e *Engine) Stop() {
	e.stopping.Store(true)
}

func (e *Engine) halt() {
	if e.machine.Current() != status.Stopped {
		_ = e.machine.Enter(status.Stopped)
		e.logger.Info("sync loop stopped", zap.Int64("revision", e.src.CurrentRevision()))
	}
}

// Start runs the loop in its own goroutine. Recoverable errors are retried
// after the retry interval; a superseded session or Stop ends the
// goroutine. Calling Start while that goroutine is still running does
// nothing.
func (e *Engine) Start(ctx context.Context, emit func(Delta)) {
	e.mu.Lock()
	if e.running() {
		e.mu.Unlock()
		e.logger.Warn("sync loop already running")
		return
	}
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		for {
			err := e.Run(ctx, emit)
			switch {
			case errors.Is(err, ErrStopped), errors.Is(err, talk.ErrSessionSuperseded):
				return
			case ctx.Err() != nil:
				return
			}
			e.logger.Warn("sync iteration failed, retrying",
				zap.Error(err),
				zap.Duration("retry_in", e.opts.RetryInterval),
			)
			t := time.NewTimer(e.opts.RetryInterval)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}()
}

// running reports whether a loop started by Start has not returned yet.
// e.mu must be held.
func (e *Engine) running() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the goroutine started by Start returns or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the engine's state and counters.
func (e *Engine) Status() Status {
	s := Status{
		State:             e.machine.Current(),
		Revision:          e.src.CurrentRevision(),
		OperationsApplied: e.applied.Load(),
		Deltas:            e.deltas.Load(),
	}
	if ms := e.lastPollAt.Load(); ms != 0 {
		s.LastPollAt = time.UnixMilli(ms)
	}
	e.mu.Lock()
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()
	return s
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) checkpoint() {
	if e.reconciler == nil {
		return
	}
	if err := e.reconciler.Record(e.src.CurrentRevision(), e.applied.Load()); err != nil {
		e.logger.Warn("failed to record sync checkpoint", zap.Error(err))
	}
}
