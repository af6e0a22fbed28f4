// Package book converts adapter-normalized market-data messages into
// aggregate order book rows and maintains the queryable depth view built
// from them.
package book

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// Tracker owns the per-pair price ledgers for both sides and converts raw
// snapshot/diff messages into sequences of aggregate OrderBookRow deltas.
//
// Ledgers hold either aggregated depth (venues reporting price/size pairs)
// or individual resting orders keyed by order id; in the latter case the
// aggregate at a price is always the sum of the constituent remaining sizes.
// All mutation happens on the owning market-data goroutine; Tracker does no
// locking of its own.
type Tracker struct {
	tradingPair  string
	uniqueLevels bool // venue guarantees at most one entry per price
	bids         *ledger
	asks         *ledger
	lastUpdateID uint64
	logger       *slog.Logger
}

type ledger struct {
	side   domain.BookSide
	levels map[string]*level // keyed by canonical price string
}

type level struct {
	price     decimal.Decimal
	aggregate decimal.Decimal
	orders    map[string]decimal.Decimal // nil for aggregated-depth venues
}

// NewTracker creates a Tracker for one trading pair. uniqueLevels must be
// true for venues that guarantee at most one book entry per price, in which
// case an insert at an existing price is a protocol error.
func NewTracker(tradingPair string, uniqueLevels bool, logger *slog.Logger) *Tracker {
	return &Tracker{
		tradingPair:  tradingPair,
		uniqueLevels: uniqueLevels,
		bids:         newLedger(domain.SideBid),
		asks:         newLedger(domain.SideAsk),
		logger:       logger.With(slog.String("component", "book_tracker"), slog.String("pair", tradingPair)),
	}
}

func newLedger(side domain.BookSide) *ledger {
	return &ledger{side: side, levels: make(map[string]*level)}
}

// LastUpdateID returns the sequence id of the last applied snapshot or diff.
func (t *Tracker) LastUpdateID() uint64 { return t.lastUpdateID }

// ApplySnapshot discards all tracker state and repopulates both ledgers from
// the full listing in msg. It returns the entire current book as two row
// sequences: bids sorted by descending price, asks by ascending price. An
// empty side yields an empty (non-nil shape is not required) sequence,
// never an error.
func (t *Tracker) ApplySnapshot(msg domain.SnapshotMessage) (bidRows, askRows []domain.OrderBookRow) {
	t.bids = newLedger(domain.SideBid)
	t.asks = newLedger(domain.SideAsk)

	populate := func(ld *ledger, entries []domain.SnapshotEntry) {
		for _, e := range entries {
			key := e.Price.String()
			lv, ok := ld.levels[key]
			if !ok {
				lv = &level{price: e.Price}
				ld.levels[key] = lv
			}
			if e.OrderID != "" {
				if lv.orders == nil {
					lv.orders = make(map[string]decimal.Decimal)
				}
				lv.orders[e.OrderID] = e.Size
				lv.aggregate = lv.aggregate.Add(e.Size)
			} else {
				lv.aggregate = e.Size
			}
		}
	}
	populate(t.bids, msg.Bids)
	populate(t.asks, msg.Asks)
	t.lastUpdateID = msg.UpdateID

	return t.bids.rows(msg.UpdateID), t.asks.rows(msg.UpdateID)
}

// ApplyDiff applies one incremental update and returns the aggregate rows it
// produced. Rows always carry the aggregate amount at the touched price, not
// the per-order delta, because downstream consumers store per-level state.
//
// Updates and matches referencing an unknown price or order are dropped as
// already superseded. An action tag outside the canonical set returns
// ErrUnknownAction without touching the ledger; a diff at or below the last
// applied update id returns ErrStaleUpdate.
//
// Range deletes (delete_through, delete_from) emit one zero-amount row per
// cleared level rather than no rows, so consumers holding per-level state
// evict the cleared prices instead of serving them stale.
func (t *Tracker) ApplyDiff(msg domain.DiffMessage) ([]domain.OrderBookRow, error) {
	if msg.UpdateID != 0 && msg.UpdateID <= t.lastUpdateID {
		return nil, fmt.Errorf("book: diff %d after %d: %w", msg.UpdateID, t.lastUpdateID, domain.ErrStaleUpdate)
	}

	ld := t.bids
	if msg.Side == domain.SideAsk {
		ld = t.asks
	}

	var (
		rows []domain.OrderBookRow
		err  error
	)
	switch msg.Action {
	case domain.ActionInsert:
		rows, err = t.applyInsert(ld, msg)
	case domain.ActionUpdate:
		rows = t.applyUpdate(ld, msg)
	case domain.ActionMatch:
		rows = t.applyMatch(ld, msg)
	case domain.ActionDelete:
		rows = t.applyDelete(ld, msg)
	case domain.ActionDeleteThrough:
		rows = ld.clearWorse(msg.Price, msg.UpdateID)
	case domain.ActionDeleteFrom:
		rows = ld.clearBetter(msg.Price, msg.UpdateID)
	default:
		return nil, fmt.Errorf("book: action %q: %w", msg.Action, domain.ErrUnknownAction)
	}
	if err != nil {
		return nil, err
	}

	if msg.UpdateID != 0 {
		t.lastUpdateID = msg.UpdateID
	}
	return rows, nil
}

// ParseTrade validates an adapter-normalized trade message and produces the
// trade event emitted on the market-data path.
func (t *Tracker) ParseTrade(msg domain.TradeMessage) (domain.TradeEvent, error) {
	if msg.TradeID == "" || msg.Price.Sign() <= 0 || msg.Size.Sign() <= 0 {
		return domain.TradeEvent{}, fmt.Errorf("book: trade %q price=%s size=%s: %w",
			msg.TradeID, msg.Price, msg.Size, domain.ErrMalformedMessage)
	}
	if msg.Side != domain.TradeBuy && msg.Side != domain.TradeSell {
		return domain.TradeEvent{}, fmt.Errorf("book: trade %q side %q: %w",
			msg.TradeID, msg.Side, domain.ErrMalformedMessage)
	}
	return domain.TradeEvent{
		TradingPair: t.tradingPair,
		Side:        msg.Side,
		Price:       msg.Price,
		Size:        msg.Size,
		TradeID:     msg.TradeID,
		Timestamp:   msg.Timestamp,
	}, nil
}

func (t *Tracker) applyInsert(ld *ledger, msg domain.DiffMessage) ([]domain.OrderBookRow, error) {
	key := msg.Price.String()
	lv, ok := ld.levels[key]

	if ok && t.uniqueLevels {
		return nil, fmt.Errorf("book: insert at %s %s: %w", ld.side, key, domain.ErrLevelExists)
	}

	if msg.OrderID == "" {
		if !ok {
			lv = &level{price: msg.Price}
			ld.levels[key] = lv
		}
		lv.aggregate = msg.Size
		return []domain.OrderBookRow{row(lv, msg.UpdateID)}, nil
	}

	if !ok {
		lv = &level{price: msg.Price, orders: make(map[string]decimal.Decimal)}
		ld.levels[key] = lv
	} else if lv.orders == nil {
		lv.orders = make(map[string]decimal.Decimal)
	}
	lv.orders[msg.OrderID] = msg.Size
	lv.recompute()
	return []domain.OrderBookRow{row(lv, msg.UpdateID)}, nil
}

func (t *Tracker) applyUpdate(ld *ledger, msg domain.DiffMessage) []domain.OrderBookRow {
	key := msg.Price.String()
	lv, ok := ld.levels[key]
	if !ok {
		t.logger.Debug("dropping update for unknown level", slog.String("price", key))
		return nil
	}

	size := msg.Size
	if size.IsZero() && !msg.Notional.IsZero() && msg.Price.Sign() > 0 {
		size = msg.Notional.Div(msg.Price)
	}

	if msg.OrderID == "" {
		if size.Sign() <= 0 {
			return ld.remove(key, msg.UpdateID)
		}
		lv.aggregate = size
		return []domain.OrderBookRow{row(lv, msg.UpdateID)}
	}

	if _, tracked := lv.orders[msg.OrderID]; !tracked {
		t.logger.Debug("dropping update for unknown order",
			slog.String("price", key), slog.String("order_id", msg.OrderID))
		return nil
	}
	if size.Sign() <= 0 {
		delete(lv.orders, msg.OrderID)
	} else {
		lv.orders[msg.OrderID] = size
	}
	lv.recompute()
	if len(lv.orders) == 0 {
		return ld.remove(key, msg.UpdateID)
	}
	return []domain.OrderBookRow{row(lv, msg.UpdateID)}
}

func (t *Tracker) applyMatch(ld *ledger, msg domain.DiffMessage) []domain.OrderBookRow {
	key := msg.Price.String()
	lv, ok := ld.levels[key]
	if !ok {
		t.logger.Debug("dropping match for unknown level", slog.String("price", key))
		return nil
	}

	if msg.OrderID != "" {
		rem, tracked := lv.orders[msg.OrderID]
		if !tracked {
			t.logger.Debug("dropping match for unknown order",
				slog.String("price", key), slog.String("order_id", msg.OrderID))
			return nil
		}
		rem = rem.Sub(msg.Size)
		if rem.Sign() <= 0 {
			delete(lv.orders, msg.OrderID)
		} else {
			lv.orders[msg.OrderID] = rem
		}
		lv.recompute()
		if len(lv.orders) == 0 {
			return ld.remove(key, msg.UpdateID)
		}
		return []domain.OrderBookRow{row(lv, msg.UpdateID)}
	}

	lv.aggregate = lv.aggregate.Sub(msg.Size)
	if lv.aggregate.Sign() <= 0 {
		return ld.remove(key, msg.UpdateID)
	}
	return []domain.OrderBookRow{row(lv, msg.UpdateID)}
}

func (t *Tracker) applyDelete(ld *ledger, msg domain.DiffMessage) []domain.OrderBookRow {
	key := msg.Price.String()
	lv, ok := ld.levels[key]
	if !ok {
		t.logger.Debug("dropping delete for unknown level", slog.String("price", key))
		return nil
	}

	if msg.OrderID != "" {
		if _, tracked := lv.orders[msg.OrderID]; !tracked {
			t.logger.Debug("dropping delete for unknown order",
				slog.String("price", key), slog.String("order_id", msg.OrderID))
			return nil
		}
		delete(lv.orders, msg.OrderID)
		lv.recompute()
		if len(lv.orders) == 0 {
			return ld.remove(key, msg.UpdateID)
		}
		return []domain.OrderBookRow{row(lv, msg.UpdateID)}
	}

	return ld.remove(key, msg.UpdateID)
}

func (lv *level) recompute() {
	sum := decimal.Zero
	for _, rem := range lv.orders {
		sum = sum.Add(rem)
	}
	lv.aggregate = sum
}

func row(lv *level, updateID uint64) domain.OrderBookRow {
	return domain.OrderBookRow{Price: lv.price, Amount: lv.aggregate, UpdateID: updateID}
}

// remove deletes a price key and emits the explicit zero-amount row that
// tells downstream consumers to evict the level.
func (ld *ledger) remove(key string, updateID uint64) []domain.OrderBookRow {
	lv, ok := ld.levels[key]
	if !ok {
		return nil
	}
	delete(ld.levels, key)
	return []domain.OrderBookRow{{Price: lv.price, Amount: decimal.Zero, UpdateID: updateID}}
}

// clearWorse removes every level strictly worse than the pivot: lower-priced
// bids, higher-priced asks. Each removed level yields a zero-amount row so
// downstream views evict it too.
func (ld *ledger) clearWorse(pivot decimal.Decimal, updateID uint64) []domain.OrderBookRow {
	var out []domain.OrderBookRow
	for key, lv := range ld.levels {
		worse := ld.side == domain.SideBid && lv.price.LessThan(pivot) ||
			ld.side == domain.SideAsk && lv.price.GreaterThan(pivot)
		if worse {
			delete(ld.levels, key)
			out = append(out, domain.OrderBookRow{Price: lv.price, Amount: decimal.Zero, UpdateID: updateID})
		}
	}
	return out
}

// clearBetter removes every level strictly better than the pivot.
func (ld *ledger) clearBetter(pivot decimal.Decimal, updateID uint64) []domain.OrderBookRow {
	var out []domain.OrderBookRow
	for key, lv := range ld.levels {
		better := ld.side == domain.SideBid && lv.price.GreaterThan(pivot) ||
			ld.side == domain.SideAsk && lv.price.LessThan(pivot)
		if better {
			delete(ld.levels, key)
			out = append(out, domain.OrderBookRow{Price: lv.price, Amount: decimal.Zero, UpdateID: updateID})
		}
	}
	return out
}

// rows returns the ledger contents as aggregate rows, bids sorted by
// descending price and asks ascending.
func (ld *ledger) rows(updateID uint64) []domain.OrderBookRow {
	out := make([]domain.OrderBookRow, 0, len(ld.levels))
	for _, lv := range ld.levels {
		out = append(out, row(lv, updateID))
	}
	sort.Slice(out, func(i, j int) bool {
		if ld.side == domain.SideBid {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
