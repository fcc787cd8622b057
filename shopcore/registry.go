package shopcore

// CategoryHandle is an opaque stable reference to a registered category.
// Handles are never reused for a different entity within one process run.
type CategoryHandle uint64

// ItemHandle is an opaque stable reference to a registered item.
// Handles are never reused for a different entity within one process run.
type ItemHandle uint64

// NoCategory and NoItem are the invalid zero handles.
const (
	NoCategory CategoryHandle = 0
	NoItem     ItemHandle     = 0
)

// CategoryDefinition is a snapshot of a registered category. Mutating the
// snapshot has no effect on the registry.
type CategoryDefinition struct {
	Handle      CategoryHandle `json:"-"`
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Active      bool           `json:"active"`
	// Items lists the category's item handles in registration order.
	Items []ItemHandle `json:"-"`
}

// ItemDefinition is a snapshot of a registered item. Mutating the snapshot
// has no effect on the registry.
type ItemDefinition struct {
	Handle      ItemHandle     `json:"-"`
	Category    CategoryHandle `json:"-"`
	CategoryKey string         `json:"category_key"`
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type,omitempty"`
	Price       int64          `json:"price"`
	// Sealed marks the item as registered for sale. Price and name changes on
	// a sealed item are explicit administrative operations.
	Sealed bool `json:"sealed"`
	Active bool `json:"active"`
}

// The RegistrySystem owns immutable-after-registration definitions of
// categories and items, each addressed by an opaque stable handle. It
// performs no I/O.
type RegistrySystem interface {
	System

	// RegisterCategory allocates a new category under a process-unique key.
	// Fails with ErrDuplicateKey if the key is already taken.
	RegisterCategory(key, name, description string) (CategoryHandle, error)

	// RegisterItem allocates a new item inside a category. The item key must
	// be unique within the category and the price must be >= 0. The item is
	// created unsealed; call SealItem to register it for sale.
	RegisterItem(category CategoryHandle, key, name string, price int64) (ItemHandle, error)

	// LookupCategory resolves a category handle to its current definition.
	LookupCategory(handle CategoryHandle) (*CategoryDefinition, error)

	// LookupItem resolves an item handle to its current definition.
	LookupItem(handle ItemHandle) (*ItemDefinition, error)

	// LookupCategoryByKey resolves a category key (case-sensitive exact match).
	LookupCategoryByKey(key string) (CategoryHandle, error)

	// LookupByKey resolves a category-scoped item key pair.
	LookupByKey(categoryKey, itemKey string) (ItemHandle, error)

	// SetPrice mutates a published item price, observable to all holders of
	// the handle immediately.
	SetPrice(handle ItemHandle, price int64) error

	// SetName mutates a published item display name.
	SetName(handle ItemHandle, name string) error

	// SetItemType mutates an item's arbitrary type tag.
	SetItemType(handle ItemHandle, itemType string) error

	// SealItem marks an item as registered for sale.
	SealItem(handle ItemHandle) error

	// DeactivateItem retires an item. The handle keeps resolving to the same
	// logical entity with Active=false; the item can no longer be purchased.
	DeactivateItem(handle ItemHandle) error

	// DeactivateCategory retires a category and all of its items.
	DeactivateCategory(handle CategoryHandle) error

	// ListCategories returns all categories in registration order.
	ListCategories() []*CategoryDefinition

	// ListItems returns a category's items in registration order.
	ListItems(category CategoryHandle) ([]*ItemDefinition, error)
}

// RegistryConfig is the data definition for the RegistrySystem type. Catalog
// content listed here is registered and sealed during Init; collaborator
// modules may register more content afterwards through the system itself.
type RegistryConfig struct {
	Categories []*RegistryConfigCategory `json:"categories,omitempty"`
}

type RegistryConfigCategory struct {
	Key         string                `json:"key"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Items       []*RegistryConfigItem `json:"items,omitempty"`
}

type RegistryConfigItem struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Price       int64  `json:"price"`
	// NotForSale leaves the item unsealed so the host can finish configuring
	// it before exposing it to players.
	NotForSale bool `json:"not_for_sale,omitempty"`
}
