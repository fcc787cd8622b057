package shopcore

import (
	"context"

	"go.uber.org/zap"
)

type PublisherEvent struct {
	Name      string            `json:"name,omitempty"`
	Id        string            `json:"id,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Value     string            `json:"value,omitempty"`

	// The system that generated this event.
	System System `json:"-"`
	// Source ID represents the identifier of the event source, such as an item key.
	SourceId string `json:"-"`
	// Source represents the origin of the event, such as an item definition.
	Source any `json:"-"`
}

// Well-known event names emitted by the engine systems.
const (
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventSessionFailed   = "session_failed"
	EventCreditAdjust    = "credit_adjust"
	EventPurchase        = "purchase"
	EventItemGrant       = "item_grant"
	EventItemRevoke      = "item_revoke"
	EventLostWrite       = "lost_write"
	EventCatalogMutation = "catalog_mutation"
)

// The Publisher describes a service or similar target implementation that wishes to receive and process
// analytics-style events generated server-side by the economy engine systems.
//
// Each Publisher may choose to process or ignore each event as it sees fit. It may also choose to buffer
// events for batch processing at its discretion.
//
// Publisher implementations must safely handle concurrent calls.
//
// Implementations must handle any errors or retries internally, callers will not repeat calls in case
// of errors.
type Publisher interface {
	// SessionStart is called every time a player session finishes loading and becomes active.
	SessionStart(ctx context.Context, logger *zap.Logger, identity string, token SessionToken)

	// SessionEnd is called when a session is retired. The 'clean' flag is false when the final
	// write did not complete and the session was force-retired.
	SessionEnd(ctx context.Context, logger *zap.Logger, identity string, token SessionToken, clean bool)

	// Send is called when there are one or more events generated.
	Send(ctx context.Context, logger *zap.Logger, identity string, events []*PublisherEvent)
}
