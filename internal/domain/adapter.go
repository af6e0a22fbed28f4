package domain

import "context"

// MessageKind classifies a raw push frame before full decoding.
type MessageKind string

const (
	KindSnapshot MessageKind = "snapshot"
	KindDiff     MessageKind = "diff"
	KindTrade    MessageKind = "trade"
	KindOrder    MessageKind = "order"
	KindBalance  MessageKind = "balance"
)

// MessageAdapter maps exchange-native payloads onto the canonical message
// shapes. One implementation exists per venue; the tracker, registry, and
// reconciliation code are written once against this interface.
//
// Every parser must fully normalize venue conventions: side sign/enum
// encodings, ask ordering (ascending), status strings (canonical set), and
// cumulative-vs-delta fill quantities (always cumulative).
type MessageAdapter interface {
	// Classify identifies a raw frame. Frames that belong to none of the
	// known kinds return ErrMalformedMessage.
	Classify(raw []byte) (MessageKind, error)

	ParseSnapshot(raw []byte) (SnapshotMessage, error)
	ParseDiff(raw []byte) (DiffMessage, error)
	ParseTrade(raw []byte) (TradeMessage, error)

	// ParseOrderReport decodes a user-stream order or trade event into the
	// same report shape the REST poller produces.
	ParseOrderReport(raw []byte) (OrderReport, error)

	// ParseBalance decodes a user-stream balance event.
	ParseBalance(raw []byte) (BalanceUpdate, error)
}

// ExchangeClient is the REST boundary of a venue. Transport, authentication
// and field mapping live behind it; every call is context-aware and carries
// the caller's timeout.
type ExchangeClient interface {
	// PlaceOrder submits an order and returns the exchange order id. Venues
	// that assign ids asynchronously may return an empty id; the id is then
	// resolved later through a stream or status report.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error)

	// CancelOrder requests cancellation by exchange order id. A successful
	// return means the request was accepted, not that the order is gone;
	// confirmation arrives through reconciliation.
	CancelOrder(ctx context.Context, tradingPair, exchangeOrderID string) error

	// OrderStatus returns current reports for the given exchange order ids.
	// Orders unknown to the venue are simply absent from the result.
	OrderStatus(ctx context.Context, exchangeOrderIDs []string) ([]OrderReport, error)

	// TradingRules fetches current venue constraints for all pairs.
	TradingRules(ctx context.Context) ([]TradingRule, error)

	// FeeRates fetches the current flat fee schedule.
	FeeRates(ctx context.Context) (FeeSchedule, error)
}

// Authenticator owns cached credentials or session tokens. Invalidate is
// called after repeated authentication failures so the next request
// re-authenticates instead of crashing the owning loop.
type Authenticator interface {
	Invalidate()
}
