package shopcore

import (
	"go.uber.org/zap"
)

// EconomySystemImpl implements the EconomySystem interface by delegating to
// the registry and session systems through the hub.
type EconomySystemImpl struct {
	config   *EconomyConfig
	logger   *zap.Logger
	shopcore Shopcore
}

var _ EconomySystem = (*EconomySystemImpl)(nil)

// NewEconomySystem creates a new instance of the EconomySystem implementation.
func NewEconomySystem(config *EconomyConfig, logger *zap.Logger) *EconomySystemImpl {
	if config == nil {
		config = &EconomyConfig{}
	}
	return &EconomySystemImpl{config: config, logger: logger}
}

// GetType provides the runtime type of the system.
func (e *EconomySystemImpl) GetType() SystemType {
	return SystemTypeEconomy
}

// GetConfig returns the configuration type of the system.
func (e *EconomySystemImpl) GetConfig() any {
	return e.config
}

// SetShopcore wires the hub reference for cross-system communication.
func (e *EconomySystemImpl) SetShopcore(sc Shopcore) {
	e.shopcore = sc
}

func (e *EconomySystemImpl) registry() RegistrySystem {
	if e.shopcore == nil {
		return nil
	}
	return e.shopcore.GetRegistrySystem()
}

func (e *EconomySystemImpl) sessions() SessionSystem {
	if e.shopcore == nil {
		return nil
	}
	return e.shopcore.GetSessionSystem()
}

func (e *EconomySystemImpl) StoreGet() *StoreListing {
	reg := e.registry()
	listing := &StoreListing{Categories: make([]*StoreCategory, 0)}
	if reg == nil {
		return listing
	}

	for _, cat := range reg.ListCategories() {
		if !cat.Active {
			continue
		}
		items, err := reg.ListItems(cat.Handle)
		if err != nil {
			continue
		}
		filtered := make([]*ItemDefinition, 0, len(items))
		for _, item := range items {
			if !item.Active && !e.config.ListInactiveItems {
				continue
			}
			filtered = append(filtered, item)
		}
		listing.Categories = append(listing.Categories, &StoreCategory{
			Category: cat,
			Items:    filtered,
		})
	}
	return listing
}

func (e *EconomySystemImpl) Purchase(token SessionToken, item ItemHandle) (*Receipt, error) {
	sess := e.sessions()
	if sess == nil {
		return nil, ErrSystemNotAvailable
	}
	return sess.Purchase(token, item)
}

func (e *EconomySystemImpl) PurchaseByKey(token SessionToken, categoryKey, itemKey string) (*Receipt, error) {
	reg := e.registry()
	if reg == nil {
		return nil, ErrSystemNotAvailable
	}
	item, err := reg.LookupByKey(categoryKey, itemKey)
	if err != nil {
		return nil, err
	}
	return e.Purchase(token, item)
}

func (e *EconomySystemImpl) GrantCredits(token SessionToken, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ErrBadInput
	}
	if e.config.MaxGrant > 0 && amount > e.config.MaxGrant {
		return 0, ErrBadInput
	}
	sess := e.sessions()
	if sess == nil {
		return 0, ErrSystemNotAvailable
	}
	return sess.AdjustCredits(token, amount, reason)
}

func (e *EconomySystemImpl) TakeCredits(token SessionToken, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ErrBadInput
	}
	sess := e.sessions()
	if sess == nil {
		return 0, ErrSystemNotAvailable
	}
	return sess.AdjustCredits(token, -amount, reason)
}

func (e *EconomySystemImpl) GrantItemByKey(token SessionToken, categoryKey, itemKey string) error {
	reg := e.registry()
	sess := e.sessions()
	if reg == nil || sess == nil {
		return ErrSystemNotAvailable
	}
	item, err := reg.LookupByKey(categoryKey, itemKey)
	if err != nil {
		return err
	}
	return sess.GrantItem(token, item)
}

func (e *EconomySystemImpl) RevokeItemByKey(token SessionToken, categoryKey, itemKey string) error {
	reg := e.registry()
	sess := e.sessions()
	if reg == nil || sess == nil {
		return ErrSystemNotAvailable
	}
	item, err := reg.LookupByKey(categoryKey, itemKey)
	if err != nil {
		return err
	}
	return sess.RevokeItem(token, item)
}

func (e *EconomySystemImpl) PlayerState(token SessionToken) (*PlayerState, error) {
	sess := e.sessions()
	if sess == nil {
		return nil, ErrSystemNotAvailable
	}

	identity, err := sess.Identity(token)
	if err != nil {
		return nil, err
	}
	balance, err := sess.Balance(token)
	if err != nil {
		return nil, err
	}
	items, err := sess.OwnedItems(token)
	if err != nil {
		return nil, err
	}

	return &PlayerState{
		Token:    token,
		Identity: identity,
		State:    sess.State(token).String(),
		Balance:  balance,
		Items:    items,
	}, nil
}
