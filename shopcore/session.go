package shopcore

import "time"

// SessionToken addresses one connected player's live economic state. Tokens
// increase monotonically and are never reused, even when the underlying
// connection slot is reassigned to a different player.
type SessionToken uint64

// NoSession is the invalid zero token.
const NoSession SessionToken = 0

// SessionState models the session lifecycle.
type SessionState int32

const (
	SessionStateUnknown SessionState = iota
	// SessionStateLoading covers the window between join and load completion.
	SessionStateLoading
	// SessionStateActive sessions accept synchronous mutations.
	SessionStateActive
	// SessionStateFlushing sessions are writing their final state after leave.
	SessionStateFlushing
	// SessionStateRetired sessions have been destroyed after a completed or
	// timed-out final write.
	SessionStateRetired
	// SessionStateFailed is terminal, reached on unrecoverable store errors.
	SessionStateFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateLoading:
		return "loading"
	case SessionStateActive:
		return "active"
	case SessionStateFlushing:
		return "flushing"
	case SessionStateRetired:
		return "retired"
	case SessionStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OwnedItem records one inventory entry with its acquisition metadata.
type OwnedItem struct {
	Item        ItemHandle `json:"-"`
	CategoryKey string     `json:"category_key"`
	ItemKey     string     `json:"item_key"`
	PricePaid   int64      `json:"price_paid"`
	AcquiredAt  int64      `json:"acquired_at"`
}

// Receipt is the result of a successful purchase.
type Receipt struct {
	Token       SessionToken `json:"-"`
	Item        ItemHandle   `json:"-"`
	CategoryKey string       `json:"category_key"`
	ItemKey     string       `json:"item_key"`
	PricePaid   int64        `json:"price_paid"`
	Balance     int64        `json:"balance"`
	AcquiredAt  int64        `json:"acquired_at"`
}

// The SessionSystem caches one live record per connected player, populated
// from the Gateway on join, mutated synchronously in memory and flushed back
// on leave or on the periodic schedule. All asynchronous correlation uses the
// session token or the durable identity, never the transient connection slot.
type SessionSystem interface {
	System

	// OnJoin allocates a new session in the loading state and issues the load
	// request keyed by the durable identity. The returned token is valid
	// immediately but the session must not be assumed usable until active.
	OnJoin(slot int32, identity string) (SessionToken, error)

	// OnLeave transitions the session towards retirement, flushing its final
	// state. Safe to call while the session is still loading.
	OnLeave(token SessionToken) error

	// TokenForSlot resolves the connection slot currently bound to a session,
	// generation-checked so a reused slot never resolves to a stale session.
	TokenForSlot(slot int32) (SessionToken, bool)

	// State reports the session lifecycle state, SessionStateUnknown if the
	// token does not resolve.
	State(token SessionToken) SessionState

	// Identity reports the durable identity the session was loaded for.
	Identity(token SessionToken) (string, error)

	// Balance reports the current credit balance. Valid while loading only
	// after the load has populated the record, so callers should gate on
	// State or handle ErrSessionNotActive.
	Balance(token SessionToken) (int64, error)

	// AdjustCredits applies a synchronous balance mutation. Fails with
	// ErrInsufficientFunds when a negative delta would drop the balance
	// below the configured floor, leaving state untouched.
	AdjustCredits(token SessionToken, delta int64, reason string) (int64, error)

	// GrantItem adds an item to the owned set without charging credits.
	GrantItem(token SessionToken, item ItemHandle) error

	// RevokeItem removes an item from the owned set.
	RevokeItem(token SessionToken, item ItemHandle) error

	// HasItem reports ownership of one item.
	HasItem(token SessionToken, item ItemHandle) (bool, error)

	// OwnedItems snapshots the owned set with acquisition metadata.
	OwnedItems(token SessionToken) ([]*OwnedItem, error)

	// Purchase validates the item and balance, then debits credits and grants
	// the item in one in-memory step. Both succeed or neither does. The price
	// is snapshotted at validation time; concurrent admin price changes apply
	// only to subsequent purchases.
	Purchase(token SessionToken, item ItemHandle) (*Receipt, error)

	// Tick drives scheduled flushes of dirty sessions and enforces load and
	// flush deadlines. The host calls it once per simulation tick.
	Tick(now time.Time)

	// FlushAll transitions every live session towards retirement, flushing
	// final state. Used at server shutdown.
	FlushAll(now time.Time)

	// Remaining reports how many sessions have not yet been retired.
	Remaining() int

	// SetShopcore wires the hub reference for cross-system access to the
	// gateway, registry and publishers.
	SetShopcore(sc Shopcore)
}

// SessionsConfig is the data definition for the SessionSystem type.
type SessionsConfig struct {
	// StartingBalance seeds accounts with no stored row.
	StartingBalance int64 `json:"starting_balance"`
	// CreditFloor is the inclusive lower balance bound. May be negative.
	CreditFloor int64 `json:"credit_floor"`
	// CreditCeiling is the inclusive upper bound; 0 means unbounded.
	CreditCeiling int64 `json:"credit_ceiling,omitempty"`
	// FlushCronexpr schedules periodic flushes of dirty sessions, in cron
	// syntax with a seconds field. Defaults to every 30 seconds.
	FlushCronexpr string `json:"flush_cronexpr,omitempty"`
	// LoadTimeoutSec bounds the wait for a pending load. Defaults to 10.
	LoadTimeoutSec int `json:"load_timeout_sec,omitempty"`
	// FlushTimeoutSec bounds the wait for a final flush before the session is
	// force-retired and the write reported lost. Defaults to 10.
	FlushTimeoutSec int `json:"flush_timeout_sec,omitempty"`
}

func (c *SessionsConfig) applyDefaults() {
	if c.FlushCronexpr == "" {
		c.FlushCronexpr = "*/30 * * * * *"
	}
	if c.LoadTimeoutSec <= 0 {
		c.LoadTimeoutSec = 10
	}
	if c.FlushTimeoutSec <= 0 {
		c.FlushTimeoutSec = 10
	}
}
