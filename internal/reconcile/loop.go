package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradewell/connector/internal/clock"
	"github.com/tradewell/connector/internal/domain"
	"github.com/tradewell/connector/internal/orders"
)

// LoopConfig tunes the REST reconciliation loop.
type LoopConfig struct {
	// ShortPollInterval applies while the user stream has been silent
	// longer than StreamSilence; LongPollInterval applies otherwise.
	ShortPollInterval time.Duration
	LongPollInterval  time.Duration
	StreamSilence     time.Duration

	// NotFoundLimit is the number of consecutive polls that must miss an
	// order before it is treated as lost and retired.
	NotFoundLimit int

	// UnresolvedTimeout is how long an order may wait for its exchange id
	// before each poll starts counting it as missed. Such orders cannot be
	// polled, so without this bound a lost placement would be tracked
	// forever. Zero disables the sweep.
	UnresolvedTimeout time.Duration

	// RequestTimeout bounds each REST call. A timed-out call is a
	// recoverable failure, never proof the action did not happen.
	RequestTimeout time.Duration
}

// Loop periodically diffs REST-reported order state against the registry.
// Polling is interval-gated, not interval-scheduled: Tick may be called at
// any granularity and bursts collapse to one poll per interval bucket.
type Loop struct {
	cfg       LoopConfig
	proc      *Processor
	registry  *orders.Registry
	client    domain.ExchangeClient
	auth      domain.Authenticator // optional
	gate      *clock.IntervalGate
	clock     clock.Clock
	lastRecv  func() time.Time // stream liveness signal; nil means always short-poll
	authFails int
	logger    *slog.Logger
}

// NewLoop creates a Loop. lastRecv reports the last user-stream receive
// time and may be nil.
func NewLoop(cfg LoopConfig, proc *Processor, reg *orders.Registry, client domain.ExchangeClient,
	auth domain.Authenticator, clk clock.Clock, lastRecv func() time.Time, logger *slog.Logger) *Loop {
	return &Loop{
		cfg:      cfg,
		proc:     proc,
		registry: reg,
		client:   client,
		auth:     auth,
		gate:     clock.NewIntervalGate(),
		clock:    clk,
		lastRecv: lastRecv,
		logger:   logger.With(slog.String("component", "reconcile_loop")),
	}
}

// Run drives Tick from a wall ticker until the context ends. The tick
// granularity is independent of the poll interval; gating decides when a
// poll actually happens.
func (l *Loop) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	l.logger.Info("reconcile loop started")
	defer l.logger.Info("reconcile loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick(ctx, l.clock.Now())
		}
	}
}

// Tick polls the exchange if the current interval bucket has not been
// polled yet. The interval shortens while the user stream is silent, the
// fallback the stream cannot provide itself.
func (l *Loop) Tick(ctx context.Context, ts time.Time) {
	interval := l.cfg.LongPollInterval
	if l.lastRecv == nil || ts.Sub(l.lastRecv()) > l.cfg.StreamSilence {
		interval = l.cfg.ShortPollInterval
	}
	if !l.gate.Allow(ts, interval) {
		return
	}
	if err := l.Poll(ctx); err != nil {
		// Logged and retried on the next interval, never fatal.
		l.logger.Warn("order status poll failed", slog.String("error", err.Error()))
	}
}

// Poll fetches current reports for every tracked order with a resolved
// exchange id, routes them through the shared processor, and counts orders
// the venue no longer knows about.
func (l *Loop) Poll(ctx context.Context) error {
	l.sweepUnresolved(ctx)

	targets := l.registry.PollTargets()
	if len(targets) == 0 {
		return nil
	}

	ids := make([]string, 0, len(targets))
	for _, xid := range targets {
		ids = append(ids, xid)
	}

	reports, err := l.fetch(ctx, ids)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(reports))
	for _, rep := range reports {
		if rep.ExchangeOrderID != "" {
			seen[rep.ExchangeOrderID] = struct{}{}
		}
		l.proc.Apply(ctx, rep)
	}

	for clientID, xid := range targets {
		if _, ok := seen[xid]; ok {
			continue
		}
		misses := l.registry.MarkNotFound(clientID)
		l.logger.Debug("tracked order missing from status response",
			slog.String("client_order_id", clientID),
			slog.Int("consecutive_misses", misses),
		)
		if misses >= l.cfg.NotFoundLimit {
			l.proc.RetireLost(ctx, clientID, misses)
		}
	}
	return nil
}

// sweepUnresolved applies not-found accounting to orders whose exchange id
// never arrived. They are invisible to PollTargets, so each poll past the
// age bound counts as a miss until the limit retires them.
func (l *Loop) sweepUnresolved(ctx context.Context) {
	if l.cfg.UnresolvedTimeout <= 0 {
		return
	}
	cutoff := l.clock.Now().Add(-l.cfg.UnresolvedTimeout)
	for _, clientID := range l.registry.UnresolvedSince(cutoff) {
		misses := l.registry.MarkNotFound(clientID)
		l.logger.Debug("order exchange id still unresolved",
			slog.String("client_order_id", clientID),
			slog.Int("consecutive_misses", misses),
		)
		if misses >= l.cfg.NotFoundLimit {
			l.proc.RetireLost(ctx, clientID, misses)
		}
	}
}

// fetch performs the status request, refreshing credentials and retrying
// once on an authentication failure.
func (l *Loop) fetch(ctx context.Context, ids []string) ([]domain.OrderReport, error) {
	reports, err := l.fetchOnce(ctx, ids)
	if err == nil {
		l.authFails = 0
		return reports, nil
	}
	if !errors.Is(err, domain.ErrAuthFailed) {
		return nil, err
	}

	l.authFails++
	if l.auth != nil {
		l.logger.Warn("authentication failure, invalidating credentials",
			slog.Int("consecutive_failures", l.authFails))
		l.auth.Invalidate()
	}
	reports, err = l.fetchOnce(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reconcile: retry after auth refresh: %w", err)
	}
	l.authFails = 0
	return reports, nil
}

func (l *Loop) fetchOnce(ctx context.Context, ids []string) ([]domain.OrderReport, error) {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()
	return l.client.OrderStatus(cctx, ids)
}
