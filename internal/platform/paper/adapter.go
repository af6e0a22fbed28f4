// Package paper implements a simulated venue. Orders fill instantly at
// their limit price and market data is replayed from a simple JSON envelope
// format, which makes the connector runnable without exchange credentials.
package paper

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// envelope is the wire format for all paper-venue frames.
type envelope struct {
	Type        string          `json:"type"`
	TradingPair string          `json:"trading_pair"`
	UpdateID    uint64          `json:"update_id"`
	Timestamp   int64           `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
}

type levelJSON struct {
	OrderID string `json:"order_id,omitempty"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
}

type snapshotJSON struct {
	Bids []levelJSON `json:"bids"`
	Asks []levelJSON `json:"asks"`
}

type diffJSON struct {
	Action  string `json:"action"`
	Side    string `json:"side"`
	OrderID string `json:"order_id,omitempty"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
}

type tradeJSON struct {
	TradeID string `json:"trade_id"`
	Price   string `json:"price"`
	Amount  string `json:"amount"`
	Side    string `json:"side"`
}

type orderJSON struct {
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"exchange_order_id"`
	Status          string `json:"status"`
	FilledBase      string `json:"filled_base"`
	TotalSize       string `json:"total_size"`
	FillPrice       string `json:"fill_price,omitempty"`
	TradeID         string `json:"trade_id,omitempty"`
	FeeAmount       string `json:"fee_amount,omitempty"`
	FeeAsset        string `json:"fee_asset,omitempty"`
}

type balanceJSON struct {
	Asset     string `json:"asset"`
	Total     string `json:"total"`
	Available string `json:"available"`
}

// Adapter implements domain.MessageAdapter for the paper envelope format.
type Adapter struct{}

// NewAdapter returns a paper-format adapter.
func NewAdapter() *Adapter { return &Adapter{} }

// Classify inspects a frame's type field.
func (a *Adapter) Classify(raw []byte) (domain.MessageKind, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("paper: classify: %w", domain.ErrMalformedMessage)
	}
	switch env.Type {
	case "snapshot":
		return domain.KindSnapshot, nil
	case "diff":
		return domain.KindDiff, nil
	case "trade":
		return domain.KindTrade, nil
	case "order":
		return domain.KindOrder, nil
	case "balance":
		return domain.KindBalance, nil
	default:
		return "", fmt.Errorf("paper: classify %q: %w", env.Type, domain.ErrMalformedMessage)
	}
}

// ParseSnapshot decodes a full book snapshot frame.
func (a *Adapter) ParseSnapshot(raw []byte) (domain.SnapshotMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.SnapshotMessage{}, fmt.Errorf("paper: snapshot: %w", domain.ErrMalformedMessage)
	}
	var body snapshotJSON
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return domain.SnapshotMessage{}, fmt.Errorf("paper: snapshot payload: %w", domain.ErrMalformedMessage)
	}

	msg := domain.SnapshotMessage{
		TradingPair: env.TradingPair,
		UpdateID:    env.UpdateID,
		Timestamp:   time.UnixMilli(env.Timestamp),
	}
	var err error
	if msg.Bids, err = parseLevels(body.Bids); err != nil {
		return domain.SnapshotMessage{}, err
	}
	if msg.Asks, err = parseLevels(body.Asks); err != nil {
		return domain.SnapshotMessage{}, err
	}
	return msg, nil
}

func parseLevels(in []levelJSON) ([]domain.SnapshotEntry, error) {
	out := make([]domain.SnapshotEntry, 0, len(in))
	for _, lvl := range in {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return nil, fmt.Errorf("paper: level price %q: %w", lvl.Price, domain.ErrMalformedMessage)
		}
		amount, err := decimal.NewFromString(lvl.Amount)
		if err != nil {
			return nil, fmt.Errorf("paper: level amount %q: %w", lvl.Amount, domain.ErrMalformedMessage)
		}
		out = append(out, domain.SnapshotEntry{OrderID: lvl.OrderID, Price: price, Size: amount})
	}
	return out, nil
}

// ParseDiff decodes an incremental book change frame.
func (a *Adapter) ParseDiff(raw []byte) (domain.DiffMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.DiffMessage{}, fmt.Errorf("paper: diff: %w", domain.ErrMalformedMessage)
	}
	var body diffJSON
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return domain.DiffMessage{}, fmt.Errorf("paper: diff payload: %w", domain.ErrMalformedMessage)
	}

	action, err := parseAction(body.Action)
	if err != nil {
		return domain.DiffMessage{}, err
	}
	side, err := parseSide(body.Side)
	if err != nil {
		return domain.DiffMessage{}, err
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return domain.DiffMessage{}, fmt.Errorf("paper: diff price %q: %w", body.Price, domain.ErrMalformedMessage)
	}
	amount := decimal.Zero
	if body.Amount != "" {
		if amount, err = decimal.NewFromString(body.Amount); err != nil {
			return domain.DiffMessage{}, fmt.Errorf("paper: diff amount %q: %w", body.Amount, domain.ErrMalformedMessage)
		}
	}

	return domain.DiffMessage{
		TradingPair: env.TradingPair,
		UpdateID:    env.UpdateID,
		Timestamp:   time.UnixMilli(env.Timestamp),
		Action:      action,
		Side:        side,
		OrderID:     body.OrderID,
		Price:       price,
		Size:        amount,
	}, nil
}

func parseAction(s string) (domain.DiffAction, error) {
	switch s {
	case "insert":
		return domain.ActionInsert, nil
	case "update":
		return domain.ActionUpdate, nil
	case "match":
		return domain.ActionMatch, nil
	case "delete":
		return domain.ActionDelete, nil
	case "delete_through":
		return domain.ActionDeleteThrough, nil
	case "delete_from":
		return domain.ActionDeleteFrom, nil
	default:
		return "", fmt.Errorf("paper: action %q: %w", s, domain.ErrUnknownAction)
	}
}

func parseSide(s string) (domain.BookSide, error) {
	switch s {
	case "bid", "buy":
		return domain.SideBid, nil
	case "ask", "sell":
		return domain.SideAsk, nil
	default:
		return "", fmt.Errorf("paper: side %q: %w", s, domain.ErrMalformedMessage)
	}
}

// ParseTrade decodes a public trade frame.
func (a *Adapter) ParseTrade(raw []byte) (domain.TradeMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.TradeMessage{}, fmt.Errorf("paper: trade: %w", domain.ErrMalformedMessage)
	}
	var body tradeJSON
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return domain.TradeMessage{}, fmt.Errorf("paper: trade payload: %w", domain.ErrMalformedMessage)
	}
	side, err := parseTradeSide(body.Side)
	if err != nil {
		return domain.TradeMessage{}, err
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return domain.TradeMessage{}, fmt.Errorf("paper: trade price %q: %w", body.Price, domain.ErrMalformedMessage)
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return domain.TradeMessage{}, fmt.Errorf("paper: trade amount %q: %w", body.Amount, domain.ErrMalformedMessage)
	}
	return domain.TradeMessage{
		TradingPair: env.TradingPair,
		TradeID:     body.TradeID,
		Side:        side,
		Price:       price,
		Size:        amount,
		Timestamp:   time.UnixMilli(env.Timestamp),
	}, nil
}

func parseTradeSide(s string) (domain.TradeType, error) {
	switch s {
	case "buy", "bid":
		return domain.TradeBuy, nil
	case "sell", "ask":
		return domain.TradeSell, nil
	default:
		return "", fmt.Errorf("paper: trade side %q: %w", s, domain.ErrMalformedMessage)
	}
}

// ParseOrderReport decodes a private order update frame.
func (a *Adapter) ParseOrderReport(raw []byte) (domain.OrderReport, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.OrderReport{}, fmt.Errorf("paper: order report: %w", domain.ErrMalformedMessage)
	}
	var body orderJSON
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return domain.OrderReport{}, fmt.Errorf("paper: order payload: %w", domain.ErrMalformedMessage)
	}
	return orderReportFromJSON(env, body)
}

func orderReportFromJSON(env envelope, body orderJSON) (domain.OrderReport, error) {
	status, err := parseStatus(body.Status)
	if err != nil {
		return domain.OrderReport{}, err
	}
	rep := domain.OrderReport{
		ClientOrderID:   body.ClientOrderID,
		ExchangeOrderID: body.ExchangeOrderID,
		TradingPair:     env.TradingPair,
		Status:          status,
		NativeStatus:    body.Status,
		TradeID:         body.TradeID,
		FeeAsset:        body.FeeAsset,
		Timestamp:       time.UnixMilli(env.Timestamp),
	}
	if rep.FilledBase, err = decimal.NewFromString(body.FilledBase); err != nil {
		return domain.OrderReport{}, fmt.Errorf("paper: filled_base %q: %w", body.FilledBase, domain.ErrMalformedMessage)
	}
	if rep.TotalSize, err = decimal.NewFromString(body.TotalSize); err != nil {
		return domain.OrderReport{}, fmt.Errorf("paper: total_size %q: %w", body.TotalSize, domain.ErrMalformedMessage)
	}
	if body.FillPrice != "" {
		if rep.FillPrice, err = decimal.NewFromString(body.FillPrice); err != nil {
			return domain.OrderReport{}, fmt.Errorf("paper: fill_price %q: %w", body.FillPrice, domain.ErrMalformedMessage)
		}
	}
	if body.FeeAmount != "" {
		if rep.FeeAmount, err = decimal.NewFromString(body.FeeAmount); err != nil {
			return domain.OrderReport{}, fmt.Errorf("paper: fee_amount %q: %w", body.FeeAmount, domain.ErrMalformedMessage)
		}
	}
	return rep, nil
}

func parseStatus(s string) (domain.OrderStatus, error) {
	switch s {
	case "open", "working":
		return domain.OrderStatusOpen, nil
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled, nil
	case "filled":
		return domain.OrderStatusFilled, nil
	case "canceled":
		return domain.OrderStatusCanceled, nil
	case "rejected":
		return domain.OrderStatusRejected, nil
	case "expired":
		return domain.OrderStatusExpired, nil
	default:
		return "", fmt.Errorf("paper: status %q: %w", s, domain.ErrMalformedMessage)
	}
}

// ParseBalance decodes a balance update frame.
func (a *Adapter) ParseBalance(raw []byte) (domain.BalanceUpdate, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.BalanceUpdate{}, fmt.Errorf("paper: balance: %w", domain.ErrMalformedMessage)
	}
	var body balanceJSON
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return domain.BalanceUpdate{}, fmt.Errorf("paper: balance payload: %w", domain.ErrMalformedMessage)
	}

	upd := domain.BalanceUpdate{
		Asset:     body.Asset,
		Timestamp: time.UnixMilli(env.Timestamp),
	}
	var err error
	if upd.Total, err = decimal.NewFromString(body.Total); err != nil {
		return domain.BalanceUpdate{}, fmt.Errorf("paper: balance total %q: %w", body.Total, domain.ErrMalformedMessage)
	}
	if upd.Available, err = decimal.NewFromString(body.Available); err != nil {
		return domain.BalanceUpdate{}, fmt.Errorf("paper: balance available %q: %w", body.Available, domain.ErrMalformedMessage)
	}
	return upd, nil
}

// Compile-time interface check.
var _ domain.MessageAdapter = (*Adapter)(nil)
