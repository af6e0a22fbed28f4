package domain

import "errors"

var (
	// ErrUnknownAction reports a diff action tag outside the canonical set.
	// Malformed protocol framing fails loudly; it is fatal to the message,
	// never to the component.
	ErrUnknownAction = errors.New("unknown book action")

	// ErrStaleUpdate reports a diff whose update id is at or below the last
	// applied sequence. Stale diffs are dropped, not applied.
	ErrStaleUpdate = errors.New("stale book update")

	// ErrLevelExists reports an insert at a price that already exists on a
	// venue that guarantees price uniqueness.
	ErrLevelExists = errors.New("price level already exists")

	// ErrNoSuchLevel reports a best-price query against an empty book side.
	ErrNoSuchLevel = errors.New("no such price level")

	// ErrUnknownOrder reports evidence about an order the registry does not
	// track, usually because it was already retired.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInvalidOrder reports order parameters that violate the pair's
	// trading rule. Such orders are rejected before submission.
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrAuthFailed reports an authentication failure from the exchange.
	// The owning loop invalidates cached credentials and retries once.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound is the generic missing-row error from stores and caches.
	ErrNotFound = errors.New("not found")

	// ErrMalformedMessage reports a push frame the adapter cannot decode.
	ErrMalformedMessage = errors.New("malformed message")
)
