package shopcore

import (
	"sync"

	"go.uber.org/zap"
)

// RegistrySystemImpl implements the RegistrySystem interface with in-memory
// handle arenas. Handles are allocated from a single monotonic counter shared
// by categories and items, so a handle observed at any point in the process
// lifetime resolves to the same logical entity or a definite not-found.
type RegistrySystemImpl struct {
	config *RegistryConfig
	logger *zap.Logger

	sync.RWMutex
	nextHandle uint64

	categories    map[CategoryHandle]*categoryRecord
	categoryByKey map[string]CategoryHandle
	categoryOrder []CategoryHandle
	items         map[ItemHandle]*itemRecord
	itemByKey     map[string]map[string]ItemHandle // category key -> item key -> handle
}

type categoryRecord struct {
	handle      CategoryHandle
	key         string
	name        string
	description string
	active      bool
	items       []ItemHandle
}

type itemRecord struct {
	handle      ItemHandle
	category    CategoryHandle
	categoryKey string
	key         string
	name        string
	description string
	itemType    string
	price       int64
	sealed      bool
	active      bool
}

// NewRegistrySystem creates a new instance of the RegistrySystem
// implementation and preloads any catalog content in the config.
func NewRegistrySystem(config *RegistryConfig, logger *zap.Logger) (*RegistrySystemImpl, error) {
	if config == nil {
		config = &RegistryConfig{}
	}
	r := &RegistrySystemImpl{
		config:        config,
		logger:        logger,
		categories:    make(map[CategoryHandle]*categoryRecord),
		categoryByKey: make(map[string]CategoryHandle),
		items:         make(map[ItemHandle]*itemRecord),
		itemByKey:     make(map[string]map[string]ItemHandle),
	}

	for _, cat := range config.Categories {
		catHandle, err := r.RegisterCategory(cat.Key, cat.Name, cat.Description)
		if err != nil {
			return nil, err
		}
		for _, item := range cat.Items {
			itemHandle, err := r.RegisterItem(catHandle, item.Key, item.Name, item.Price)
			if err != nil {
				return nil, err
			}
			if item.Description != "" {
				r.setDescription(itemHandle, item.Description)
			}
			if item.Type != "" {
				if err := r.SetItemType(itemHandle, item.Type); err != nil {
					return nil, err
				}
			}
			if !item.NotForSale {
				if err := r.SealItem(itemHandle); err != nil {
					return nil, err
				}
			}
		}
	}

	return r, nil
}

// GetType provides the runtime type of the system.
func (r *RegistrySystemImpl) GetType() SystemType {
	return SystemTypeRegistry
}

// GetConfig returns the configuration type of the system.
func (r *RegistrySystemImpl) GetConfig() any {
	return r.config
}

func (r *RegistrySystemImpl) RegisterCategory(key, name, description string) (CategoryHandle, error) {
	if key == "" {
		return NoCategory, ErrBadInput
	}

	r.Lock()
	defer r.Unlock()

	if _, exists := r.categoryByKey[key]; exists {
		return NoCategory, ErrDuplicateKey
	}

	r.nextHandle++
	handle := CategoryHandle(r.nextHandle)
	r.categories[handle] = &categoryRecord{
		handle:      handle,
		key:         key,
		name:        name,
		description: description,
		active:      true,
	}
	r.categoryByKey[key] = handle
	r.categoryOrder = append(r.categoryOrder, handle)
	r.itemByKey[key] = make(map[string]ItemHandle)

	return handle, nil
}

func (r *RegistrySystemImpl) RegisterItem(category CategoryHandle, key, name string, price int64) (ItemHandle, error) {
	if key == "" {
		return NoItem, ErrBadInput
	}
	if price < 0 {
		return NoItem, ErrBadInput
	}

	r.Lock()
	defer r.Unlock()

	cat, ok := r.categories[category]
	if !ok || !cat.active {
		return NoItem, ErrInvalidCategory
	}
	if _, exists := r.itemByKey[cat.key][key]; exists {
		return NoItem, ErrDuplicateKey
	}

	r.nextHandle++
	handle := ItemHandle(r.nextHandle)
	r.items[handle] = &itemRecord{
		handle:      handle,
		category:    category,
		categoryKey: cat.key,
		key:         key,
		name:        name,
		price:       price,
		active:      true,
	}
	r.itemByKey[cat.key][key] = handle
	cat.items = append(cat.items, handle)

	return handle, nil
}

func (r *RegistrySystemImpl) LookupCategory(handle CategoryHandle) (*CategoryDefinition, error) {
	r.RLock()
	defer r.RUnlock()

	cat, ok := r.categories[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return cat.definition(), nil
}

func (r *RegistrySystemImpl) LookupItem(handle ItemHandle) (*ItemDefinition, error) {
	r.RLock()
	defer r.RUnlock()

	item, ok := r.items[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return item.definition(), nil
}

func (r *RegistrySystemImpl) LookupCategoryByKey(key string) (CategoryHandle, error) {
	r.RLock()
	defer r.RUnlock()

	handle, ok := r.categoryByKey[key]
	if !ok {
		return NoCategory, ErrNotFound
	}
	return handle, nil
}

func (r *RegistrySystemImpl) LookupByKey(categoryKey, itemKey string) (ItemHandle, error) {
	r.RLock()
	defer r.RUnlock()

	itemKeys, ok := r.itemByKey[categoryKey]
	if !ok {
		return NoItem, ErrNotFound
	}
	handle, ok := itemKeys[itemKey]
	if !ok {
		return NoItem, ErrNotFound
	}
	return handle, nil
}

func (r *RegistrySystemImpl) SetPrice(handle ItemHandle, price int64) error {
	if price < 0 {
		return ErrBadInput
	}

	r.Lock()
	defer r.Unlock()

	item, ok := r.items[handle]
	if !ok {
		return ErrNotFound
	}
	if item.sealed && r.logger != nil {
		r.logger.Info("admin price change on sealed item",
			zap.String("category", item.categoryKey),
			zap.String("item", item.key),
			zap.Int64("old_price", item.price),
			zap.Int64("new_price", price))
	}
	item.price = price
	return nil
}

func (r *RegistrySystemImpl) SetName(handle ItemHandle, name string) error {
	if name == "" {
		return ErrBadInput
	}

	r.Lock()
	defer r.Unlock()

	item, ok := r.items[handle]
	if !ok {
		return ErrNotFound
	}
	item.name = name
	return nil
}

func (r *RegistrySystemImpl) SetItemType(handle ItemHandle, itemType string) error {
	r.Lock()
	defer r.Unlock()

	item, ok := r.items[handle]
	if !ok {
		return ErrNotFound
	}
	item.itemType = itemType
	return nil
}

func (r *RegistrySystemImpl) SealItem(handle ItemHandle) error {
	r.Lock()
	defer r.Unlock()

	item, ok := r.items[handle]
	if !ok {
		return ErrNotFound
	}
	item.sealed = true
	return nil
}

func (r *RegistrySystemImpl) DeactivateItem(handle ItemHandle) error {
	r.Lock()
	defer r.Unlock()

	item, ok := r.items[handle]
	if !ok {
		return ErrNotFound
	}
	item.active = false
	return nil
}

func (r *RegistrySystemImpl) DeactivateCategory(handle CategoryHandle) error {
	r.Lock()
	defer r.Unlock()

	cat, ok := r.categories[handle]
	if !ok {
		return ErrNotFound
	}
	cat.active = false
	for _, itemHandle := range cat.items {
		if item, ok := r.items[itemHandle]; ok {
			item.active = false
		}
	}
	return nil
}

func (r *RegistrySystemImpl) ListCategories() []*CategoryDefinition {
	r.RLock()
	defer r.RUnlock()

	defs := make([]*CategoryDefinition, 0, len(r.categoryOrder))
	for _, handle := range r.categoryOrder {
		defs = append(defs, r.categories[handle].definition())
	}
	return defs
}

func (r *RegistrySystemImpl) ListItems(category CategoryHandle) ([]*ItemDefinition, error) {
	r.RLock()
	defer r.RUnlock()

	cat, ok := r.categories[category]
	if !ok {
		return nil, ErrInvalidCategory
	}
	defs := make([]*ItemDefinition, 0, len(cat.items))
	for _, handle := range cat.items {
		defs = append(defs, r.items[handle].definition())
	}
	return defs, nil
}

func (r *RegistrySystemImpl) setDescription(handle ItemHandle, description string) {
	r.Lock()
	defer r.Unlock()

	if item, ok := r.items[handle]; ok {
		item.description = description
	}
}

func (c *categoryRecord) definition() *CategoryDefinition {
	items := make([]ItemHandle, len(c.items))
	copy(items, c.items)
	return &CategoryDefinition{
		Handle:      c.handle,
		Key:         c.key,
		Name:        c.name,
		Description: c.description,
		Active:      c.active,
		Items:       items,
	}
}

func (i *itemRecord) definition() *ItemDefinition {
	return &ItemDefinition{
		Handle:      i.handle,
		Category:    i.category,
		CategoryKey: i.categoryKey,
		Key:         i.key,
		Name:        i.name,
		Description: i.description,
		Type:        i.itemType,
		Price:       i.price,
		Sealed:      i.sealed,
		Active:      i.active,
	}
}
