package shopcore

// StoreCategory pairs a category definition with its item definitions, in
// registration order, for presentation layers.
type StoreCategory struct {
	Category *CategoryDefinition `json:"category"`
	Items    []*ItemDefinition   `json:"items"`
}

// StoreListing is the full catalog snapshot returned by StoreGet.
type StoreListing struct {
	Categories []*StoreCategory `json:"categories"`
}

// PlayerState is a snapshot of one session's economic state.
type PlayerState struct {
	Token    SessionToken `json:"-"`
	Identity string       `json:"identity"`
	State    string       `json:"state"`
	Balance  int64        `json:"balance"`
	Items    []*OwnedItem `json:"items"`
}

// The EconomySystem is the narrow contract collaborator modules use to
// register catalog content and to read or modify a player's economic state.
// It insulates callers from the internal representation: every operation
// validates handles and tokens defensively and returns a typed failure on
// stale or foreign values.
type EconomySystem interface {
	System

	// StoreGet enumerates the catalog for presentation layers. Inactive
	// categories are skipped; items are included with their flags so menus
	// can grey out entries that are not for sale.
	StoreGet() *StoreListing

	// Purchase buys an item for the session's credits.
	Purchase(token SessionToken, item ItemHandle) (*Receipt, error)

	// PurchaseByKey buys an item addressed by its category-scoped key pair.
	PurchaseByKey(token SessionToken, categoryKey, itemKey string) (*Receipt, error)

	// GrantCredits adds credits to the session balance. Amount must be > 0.
	GrantCredits(token SessionToken, amount int64, reason string) (int64, error)

	// TakeCredits removes credits from the session balance. Amount must be
	// > 0; fails with ErrInsufficientFunds below the configured floor.
	TakeCredits(token SessionToken, amount int64, reason string) (int64, error)

	// GrantItemByKey grants an item without charging credits.
	GrantItemByKey(token SessionToken, categoryKey, itemKey string) error

	// RevokeItemByKey removes an item from the session's owned set.
	RevokeItemByKey(token SessionToken, categoryKey, itemKey string) error

	// PlayerState snapshots the session's balance and inventory.
	PlayerState(token SessionToken) (*PlayerState, error)

	// SetShopcore wires the hub reference for cross-system access.
	SetShopcore(sc Shopcore)
}

// EconomyConfig is the data definition for the EconomySystem type.
type EconomyConfig struct {
	// MaxGrant caps a single GrantCredits amount; 0 means uncapped.
	MaxGrant int64 `json:"max_grant,omitempty"`
	// ListInactiveItems includes deactivated items in StoreGet output when
	// true. Deactivated categories are never listed.
	ListInactiveItems bool `json:"list_inactive_items,omitempty"`
}
