package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// Listener consumes the single ordered queue of user-stream push messages
// (balance, order, trade) and applies the same idempotent report contract
// as the REST loop, but reacting immediately. Messages are handled strictly
// in arrival order by the one Run goroutine; a malformed message is dropped
// with a warning and the listener continues.
type Listener struct {
	proc    *Processor
	adapter domain.MessageAdapter
	queue   chan []byte

	lastRecv atomic.Int64 // unix nanos of the last queued message

	mu       sync.RWMutex
	balances map[string]domain.BalanceUpdate

	logger *slog.Logger
}

// NewListener creates a Listener with the given queue capacity.
func NewListener(proc *Processor, adapter domain.MessageAdapter, queueSize int, logger *slog.Logger) *Listener {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Listener{
		proc:     proc,
		adapter:  adapter,
		queue:    make(chan []byte, queueSize),
		balances: make(map[string]domain.BalanceUpdate),
		logger:   logger.With(slog.String("component", "stream_listener")),
	}
}

// Enqueue appends one raw push frame to the queue, blocking if it is full
// so arrival order is preserved.
func (l *Listener) Enqueue(ctx context.Context, raw []byte) error {
	select {
	case l.queue <- raw:
		l.lastRecv.Store(l.proc.now().UnixNano())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRecv returns the time of the last queued message, or the zero time if
// nothing has arrived yet.
func (l *Listener) LastRecv() time.Time {
	ns := l.lastRecv.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Balance returns the last pushed balance for an asset.
func (l *Listener) Balance(asset string) (total, available decimal.Decimal, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.balances[asset]
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return b.Total, b.Available, true
}

// Run consumes queued messages until the context ends.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("stream listener started")
	defer l.logger.Info("stream listener stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-l.queue:
			l.handle(ctx, raw)
		}
	}
}

func (l *Listener) handle(ctx context.Context, raw []byte) {
	kind, err := l.adapter.Classify(raw)
	if err != nil {
		l.logger.Warn("dropping unclassifiable stream message",
			slog.Int("payload_len", len(raw)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch kind {
	case domain.KindOrder, domain.KindTrade:
		rep, err := l.adapter.ParseOrderReport(raw)
		if err != nil {
			l.logger.Warn("dropping malformed order event", slog.String("error", err.Error()))
			return
		}
		l.proc.Apply(ctx, rep)

	case domain.KindBalance:
		bal, err := l.adapter.ParseBalance(raw)
		if err != nil {
			l.logger.Warn("dropping malformed balance event", slog.String("error", err.Error()))
			return
		}
		l.mu.Lock()
		l.balances[bal.Asset] = bal
		l.mu.Unlock()
		l.proc.emit(bal)

	default:
		l.logger.Debug("ignoring stream message kind", slog.String("kind", string(kind)))
	}
}
