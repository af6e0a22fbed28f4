package domain

import "context"

// OrderStore persists in-flight orders so the registry can be restored after
// a restart without losing fill accounting or the trade de-duplication set.
type OrderStore interface {
	// Upsert writes the current state of one order.
	Upsert(ctx context.Context, rec OrderRecord) error

	// Delete removes a retired order.
	Delete(ctx context.Context, clientOrderID string) error

	// ListActive returns every persisted order in a non-terminal state.
	ListActive(ctx context.Context) ([]OrderRecord, error)
}
