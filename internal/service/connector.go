// Package service wires the order book tracker, order registry, and
// reconciliation loops into one connector instance per venue and exposes
// the read and trading surfaces used by strategy code.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tradewell/connector/internal/book"
	"github.com/tradewell/connector/internal/clock"
	"github.com/tradewell/connector/internal/domain"
	"github.com/tradewell/connector/internal/orders"
	"github.com/tradewell/connector/internal/reconcile"
)

// Config tunes one connector instance.
type Config struct {
	// Name identifies the venue in logs and client order ids.
	Name string

	TradingPairs []string

	// UniquePriceLevels must be true for venues that guarantee at most one
	// book entry per price.
	UniquePriceLevels bool

	RequestTimeout      time.Duration
	CancelAllTimeout    time.Duration
	RuleRefreshInterval time.Duration
	ReconcileTick       time.Duration
	Reconcile           reconcile.LoopConfig

	EventBuffer     int
	MarketQueueSize int
	StreamQueueSize int
}

// Connector owns one venue's market-data and trading state. All tracker and
// book mutation happens on the market-data goroutine; the registry is shared
// between the REST loop and the stream listener through its own lock. Every
// background task is spawned on the connector's errgroup and canceled on
// Stop; nothing is fired and forgotten.
type Connector struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	adapter domain.MessageAdapter
	client  domain.ExchangeClient
	auth    domain.Authenticator
	store   domain.OrderStore
	cache   domain.BookCache
	bus     domain.SignalBus

	registry *orders.Registry
	proc     *reconcile.Processor
	loop     *reconcile.Loop
	listener *reconcile.Listener

	booksMu  sync.RWMutex
	trackers map[string]*book.Tracker
	books    map[string]*book.OrderBook

	rulesMu sync.RWMutex
	rules   map[string]domain.TradingRule
	fees    domain.FeeSchedule

	marketQueue chan []byte
	events      chan domain.Event
	pubQueue    chan domain.Event

	runMu   sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// Deps bundles the external collaborators of a connector. store, cache and
// bus are optional.
type Deps struct {
	Adapter domain.MessageAdapter
	Client  domain.ExchangeClient
	Auth    domain.Authenticator
	Store   domain.OrderStore
	Cache   domain.BookCache
	Bus     domain.SignalBus
	Clock   clock.Clock
	Logger  *slog.Logger
}

// New creates a stopped connector.
func New(cfg Config, deps Deps) *Connector {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.MarketQueueSize <= 0 {
		cfg.MarketQueueSize = 1024
	}
	if cfg.ReconcileTick <= 0 {
		cfg.ReconcileTick = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.CancelAllTimeout <= 0 {
		cfg.CancelAllTimeout = 20 * time.Second
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Wall{}
	}
	logger := deps.Logger.With(slog.String("component", "connector"), slog.String("venue", cfg.Name))

	c := &Connector{
		cfg:         cfg,
		logger:      logger,
		clock:       clk,
		adapter:     deps.Adapter,
		client:      deps.Client,
		auth:        deps.Auth,
		store:       deps.Store,
		cache:       deps.Cache,
		bus:         deps.Bus,
		trackers:    make(map[string]*book.Tracker, len(cfg.TradingPairs)),
		books:       make(map[string]*book.OrderBook, len(cfg.TradingPairs)),
		rules:       make(map[string]domain.TradingRule),
		marketQueue: make(chan []byte, cfg.MarketQueueSize),
		events:      make(chan domain.Event, cfg.EventBuffer),
		pubQueue:    make(chan domain.Event, cfg.EventBuffer),
	}
	for _, pair := range cfg.TradingPairs {
		c.trackers[pair] = book.NewTracker(pair, cfg.UniquePriceLevels, logger)
		c.books[pair] = book.NewOrderBook(pair)
	}

	c.registry = orders.NewRegistry(c, clk, logger)
	c.proc = reconcile.NewProcessor(c.registry, c.emit, deps.Store, clk, logger)
	c.listener = reconcile.NewListener(c.proc, deps.Adapter, cfg.StreamQueueSize, logger)
	c.loop = reconcile.NewLoop(cfg.Reconcile, c.proc, c.registry, deps.Client, deps.Auth,
		clk, c.listener.LastRecv, logger)
	return c
}

// Start restores persisted orders, loads trading rules once, and spawns the
// reconciliation loop, stream listener, market-data loop, rule refresher,
// and event publisher. It returns once everything is running.
func (c *Connector) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started {
		return fmt.Errorf("connector %s: already started", c.cfg.Name)
	}

	if c.store != nil {
		recs, err := c.store.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("connector %s: restore orders: %w", c.cfg.Name, err)
		}
		n := c.registry.Restore(recs)
		c.logger.Info("restored in-flight orders", slog.Int("count", n))
	}

	if err := c.refreshRules(ctx); err != nil {
		// Trading stays blocked per-pair until a rule arrives; market data
		// does not depend on rules.
		c.logger.Warn("initial trading rule fetch failed", slog.String("error", err.Error()))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, runCtx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.group = g

	g.Go(func() error { return c.listener.Run(runCtx) })
	g.Go(func() error { return c.loop.Run(runCtx, c.cfg.ReconcileTick) })
	g.Go(func() error { return c.marketLoop(runCtx) })
	g.Go(func() error { return c.rulesLoop(runCtx) })
	g.Go(func() error { return c.publishLoop(runCtx) })

	c.started = true
	c.logger.Info("connector started", slog.Int("pairs", len(c.cfg.TradingPairs)))
	return nil
}

// Stop cancels all background tasks and waits for them to exit.
func (c *Connector) Stop() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.started {
		return nil
	}
	c.cancel()
	err := c.group.Wait()
	c.started = false
	close(c.events)
	c.logger.Info("connector stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Events returns the typed event stream. The channel is closed by Stop.
func (c *Connector) Events() <-chan domain.Event { return c.events }

// HandleMarketFrame is the feed sink for market-data frames. It blocks when
// the queue is full so venue ordering is preserved.
func (c *Connector) HandleMarketFrame(ctx context.Context, raw []byte) error {
	select {
	case c.marketQueue <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleUserFrame is the feed sink for user-stream frames.
func (c *Connector) HandleUserFrame(ctx context.Context, raw []byte) error {
	return c.listener.Enqueue(ctx, raw)
}

// Buy submits a buy order and returns the client order id immediately; the
// order is tracked before the exchange acknowledges it.
func (c *Connector) Buy(pair string, amount, price decimal.Decimal, orderType domain.OrderType) (string, error) {
	return c.submit(domain.TradeBuy, pair, amount, price, orderType)
}

// Sell submits a sell order and returns the client order id immediately.
func (c *Connector) Sell(pair string, amount, price decimal.Decimal, orderType domain.OrderType) (string, error) {
	return c.submit(domain.TradeSell, pair, amount, price, orderType)
}

func (c *Connector) submit(side domain.TradeType, pair string, amount, price decimal.Decimal,
	orderType domain.OrderType) (string, error) {
	c.runMu.Lock()
	started := c.started
	group := c.group
	c.runMu.Unlock()
	if !started {
		return "", fmt.Errorf("connector %s: not started", c.cfg.Name)
	}

	rule, ok := c.rule(pair)
	if !ok {
		return "", fmt.Errorf("connector %s: no trading rule for %s: %w", c.cfg.Name, pair, domain.ErrInvalidOrder)
	}
	qAmount := rule.QuantizeAmount(amount)
	qPrice := rule.QuantizePrice(price)
	if err := rule.Validate(qAmount, qPrice); err != nil {
		return "", fmt.Errorf("connector %s: %s %s amount=%s price=%s: %w",
			c.cfg.Name, side, pair, qAmount, qPrice, err)
	}

	clientOrderID := c.newClientOrderID(side)
	c.registry.StartTracking(clientOrderID, pair, orderType, side, qPrice, qAmount)

	req := domain.PlaceOrderRequest{
		ClientOrderID: clientOrderID,
		TradingPair:   pair,
		TradeType:     side,
		OrderType:     orderType,
		Price:         qPrice,
		Amount:        qAmount,
	}
	group.Go(func() error {
		c.placeOrder(req)
		return nil
	})
	return clientOrderID, nil
}

// placeOrder performs the actual submission on a supervised task. Placement
// failure is terminal for the order and surfaces as an OrderFailure event,
// never as a process error.
func (c *Connector) placeOrder(req domain.PlaceOrderRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	exchangeOrderID, err := c.client.PlaceOrder(ctx, req)
	if err != nil {
		c.logger.Warn("order submission failed",
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("pair", req.TradingPair),
			slog.String("error", err.Error()),
		)
		c.emit(domain.OrderFailure{
			ClientOrderID: req.ClientOrderID,
			TradingPair:   req.TradingPair,
			OrderType:     req.OrderType,
			Reason:        err.Error(),
			Timestamp:     c.clock.Now(),
		})
		c.registry.StopTracking(req.ClientOrderID)
		return
	}

	if exchangeOrderID != "" {
		c.registry.ResolveExchangeID(req.ClientOrderID, exchangeOrderID)
	}
	c.persistOrder(req.ClientOrderID)
	c.logger.Info("order placed",
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("exchange_order_id", exchangeOrderID),
		slog.String("pair", req.TradingPair),
		slog.String("side", string(req.TradeType)),
	)
}

// Cancel requests cancellation of one order. It waits for the exchange
// order id if the placement has not resolved yet. A successful return only
// means the request was accepted; the OrderCancelled event arrives through
// reconciliation.
func (c *Connector) Cancel(ctx context.Context, clientOrderID string) error {
	snap, ok := c.registry.Get(clientOrderID)
	if !ok {
		return fmt.Errorf("connector %s: cancel %q: %w", c.cfg.Name, clientOrderID, domain.ErrUnknownOrder)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	exchangeOrderID, err := c.registry.WaitExchangeID(waitCtx, clientOrderID)
	if err != nil {
		return fmt.Errorf("connector %s: cancel %q: resolve exchange id: %w", c.cfg.Name, clientOrderID, err)
	}

	callCtx, cancelCall := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancelCall()
	if err := c.client.CancelOrder(callCtx, snap.TradingPair, exchangeOrderID); err != nil {
		return fmt.Errorf("connector %s: cancel %q: %w", c.cfg.Name, clientOrderID, err)
	}
	return nil
}

// CancelAll cancels every tracked order under one overall deadline and
// reports per-order success or failure; it is never atomic.
func (c *Connector) CancelAll(ctx context.Context) []domain.CancellationResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CancelAllTimeout)
	defer cancel()

	snaps := c.registry.Snapshot()
	results := make([]domain.CancellationResult, 0, len(snaps))
	for _, snap := range snaps {
		err := c.Cancel(ctx, snap.ClientOrderID)
		results = append(results, domain.CancellationResult{
			ClientOrderID: snap.ClientOrderID,
			Success:       err == nil,
			Err:           err,
		})
		if err != nil {
			c.logger.Warn("cancel failed during cancel-all",
				slog.String("client_order_id", snap.ClientOrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return results
}

// BestPrice returns the best bid or ask for a pair.
func (c *Connector) BestPrice(pair string, side domain.BookSide) (decimal.Decimal, error) {
	c.booksMu.RLock()
	defer c.booksMu.RUnlock()
	ob, ok := c.books[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("connector %s: no book for %s: %w", c.cfg.Name, pair, domain.ErrNoSuchLevel)
	}
	return ob.BestPrice(side)
}

// InFlightOrders returns read-only snapshots of every tracked order.
func (c *Connector) InFlightOrders() []domain.OrderSnapshot {
	return c.registry.Snapshot()
}

// Balance returns the last streamed balance for an asset.
func (c *Connector) Balance(asset string) (total, available decimal.Decimal, ok bool) {
	return c.listener.Balance(asset)
}

// EstimateFee implements orders.FeeEstimator from the cached flat schedule.
// The fee is charged in the quote asset unless the schedule names another.
func (c *Connector) EstimateFee(pair string, orderType domain.OrderType, _ domain.TradeType,
	amount, price decimal.Decimal) (string, decimal.Decimal) {
	c.rulesMu.RLock()
	fees := c.fees
	c.rulesMu.RUnlock()

	rate := fees.TakerRate
	if orderType == domain.OrderTypeLimitMaker {
		rate = fees.MakerRate
	}
	asset := fees.FeeAsset
	if asset == "" {
		asset = quoteAsset(pair)
	}
	return asset, amount.Mul(price).Mul(rate)
}

func (c *Connector) newClientOrderID(side domain.TradeType) string {
	tag := "B"
	if side == domain.TradeSell {
		tag = "S"
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(c.cfg.Name), tag, uuid.NewString())
}

func (c *Connector) rule(pair string) (domain.TradingRule, bool) {
	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	r, ok := c.rules[pair]
	return r, ok
}

func (c *Connector) persistOrder(clientOrderID string) {
	if c.store == nil {
		return
	}
	rec, ok := c.registry.Record(clientOrderID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	if err := c.store.Upsert(ctx, rec); err != nil {
		c.logger.Warn("persist order failed",
			slog.String("client_order_id", clientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

// emit delivers an event to the in-process channel and queues it for the
// signal bus. Both paths drop under sustained backpressure rather than
// stall reconciliation, and every drop is logged.
func (c *Connector) emit(e domain.Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("event channel full, dropping event", slog.String("kind", domain.Kind(e)))
	}
	if c.bus == nil {
		return
	}
	select {
	case c.pubQueue <- e:
	default:
		c.logger.Warn("publish queue full, dropping event", slog.String("kind", domain.Kind(e)))
	}
}

// publishLoop serializes events to the signal bus for out-of-process
// consumers.
func (c *Connector) publishLoop(ctx context.Context) error {
	if c.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-c.pubQueue:
			payload, err := json.Marshal(struct {
				Event string       `json:"event"`
				Venue string       `json:"venue"`
				Data  domain.Event `json:"data"`
			}{Event: domain.Kind(e), Venue: c.cfg.Name, Data: e})
			if err != nil {
				c.logger.Warn("marshal event failed", slog.String("error", err.Error()))
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.bus.Publish(pctx, "orders:"+strings.ToLower(c.cfg.Name), payload)
			cancel()
			if err != nil {
				c.logger.Warn("publish event failed", slog.String("error", err.Error()))
			}
		}
	}
}

// quoteAsset extracts the quote asset from a BASE-QUOTE trading pair.
func quoteAsset(pair string) string {
	if i := strings.LastIndex(pair, "-"); i >= 0 {
		return pair[i+1:]
	}
	return pair
}
