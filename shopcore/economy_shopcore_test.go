package shopcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreGet_FiltersRetiredContent(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.registerItem(t, "weapons", "ak47", 1500)
	retired := e.registerItem(t, "weapons", "musket", 100)
	require.NoError(t, e.registry.DeactivateItem(retired))

	hidden, err := e.registry.RegisterCategory("seasonal", "Seasonal", "")
	require.NoError(t, err)
	_, err = e.registry.RegisterItem(hidden, "pumpkin", "Pumpkin", 5)
	require.NoError(t, err)
	require.NoError(t, e.registry.DeactivateCategory(hidden))

	listing := e.economy.StoreGet()
	require.Len(t, listing.Categories, 1)
	assert.Equal(t, "weapons", listing.Categories[0].Category.Key)
	require.Len(t, listing.Categories[0].Items, 1)
	assert.Equal(t, "ak47", listing.Categories[0].Items[0].Key)
}

func TestStoreGet_ListInactiveItems(t *testing.T) {
	e := newTestEngine(t, nil, &EconomyConfig{ListInactiveItems: true})
	e.registerItem(t, "weapons", "ak47", 1500)
	retired := e.registerItem(t, "weapons", "musket", 100)
	require.NoError(t, e.registry.DeactivateItem(retired))

	listing := e.economy.StoreGet()
	require.Len(t, listing.Categories, 1)
	assert.Len(t, listing.Categories[0].Items, 2)
}

func TestPurchaseByKey(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.registerItem(t, "weapons", "ak47", 1500)
	e.gateway.users["soldier"] = 2000
	token := e.join(t, 1, "soldier")

	receipt, err := e.economy.PurchaseByKey(token, "weapons", "ak47")
	require.NoError(t, err)
	assert.Equal(t, int64(500), receipt.Balance)

	_, err = e.economy.PurchaseByKey(token, "weapons", "bazooka")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGrantCredits_ValidatesAmountAndCap(t *testing.T) {
	e := newTestEngine(t, nil, &EconomyConfig{MaxGrant: 500})
	token := e.join(t, 1, "rookie")

	balance, err := e.economy.GrantCredits(token, 500, "signup_bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	_, err = e.economy.GrantCredits(token, 0, "nothing")
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = e.economy.GrantCredits(token, -10, "negative")
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = e.economy.GrantCredits(token, 501, "too much")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestTakeCredits(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.gateway.users["payer"] = 100
	token := e.join(t, 1, "payer")

	balance, err := e.economy.TakeCredits(token, 60, "repair")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	_, err = e.economy.TakeCredits(token, 41, "repair")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = e.economy.TakeCredits(token, -1, "refund")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestGrantAndRevokeItemByKey(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	badge := e.registerItem(t, "cosmetics", "badge", 50)
	token := e.join(t, 1, "collector")

	require.NoError(t, e.economy.GrantItemByKey(token, "cosmetics", "badge"))
	owned, err := e.sessions.HasItem(token, badge)
	require.NoError(t, err)
	assert.True(t, owned)

	require.NoError(t, e.economy.RevokeItemByKey(token, "cosmetics", "badge"))
	owned, _ = e.sessions.HasItem(token, badge)
	assert.False(t, owned)

	assert.ErrorIs(t, e.economy.GrantItemByKey(token, "cosmetics", "crown"), ErrNotFound)
}

func TestPlayerState_Snapshot(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.registerItem(t, "weapons", "ak47", 1500)
	e.gateway.users["soldier"] = 2000
	token := e.join(t, 1, "soldier")

	_, err := e.economy.PurchaseByKey(token, "weapons", "ak47")
	require.NoError(t, err)

	state, err := e.economy.PlayerState(token)
	require.NoError(t, err)
	assert.Equal(t, "soldier", state.Identity)
	assert.Equal(t, "active", state.State)
	assert.Equal(t, int64(500), state.Balance)
	require.Len(t, state.Items, 1)
	assert.Equal(t, "ak47", state.Items[0].ItemKey)

	_, err = e.economy.PlayerState(SessionToken(999))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEconomySystem_UnwiredFailsClosed(t *testing.T) {
	economy := NewEconomySystem(nil, zap.NewNop())

	listing := economy.StoreGet()
	assert.Empty(t, listing.Categories)

	_, err := economy.Purchase(NoSession, NoItem)
	assert.ErrorIs(t, err, ErrSystemNotAvailable)
	_, err = economy.GrantCredits(NoSession, 10, "x")
	assert.ErrorIs(t, err, ErrSystemNotAvailable)
}
