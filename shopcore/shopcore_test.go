package shopcore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func initTestShopcore(t *testing.T, gateway Gateway) Shopcore {
	t.Helper()
	dir := t.TempDir()
	registryFile := writeConfigFile(t, dir, "registry.json", `{
		"categories": [
			{
				"key": "weapons",
				"name": "Weapons",
				"items": [
					{"key": "ak47", "name": "AK-47", "type": "rifle", "price": 1500},
					{"key": "pistol", "name": "Pistol", "price": 800}
				]
			}
		]
	}`)
	sessionsFile := writeConfigFile(t, dir, "sessions.json", `{
		"starting_balance": 2000,
		"flush_timeout_sec": 3600
	}`)
	economyFile := writeConfigFile(t, dir, "economy.json", `{"max_grant": 10000}`)

	sc, err := Init(context.Background(), zap.NewNop(),
		WithGatewaySystem("", gateway),
		WithRegistrySystem(registryFile),
		WithSessionSystem(sessionsFile),
		WithEconomySystem(economyFile),
	)
	require.NoError(t, err)
	return sc
}

func TestInit_WiresSystemsFromConfigFiles(t *testing.T) {
	gateway := newFakeGateway()
	sc := initTestShopcore(t, gateway)

	require.NotNil(t, sc.GetRegistrySystem())
	require.NotNil(t, sc.GetGatewaySystem())
	require.NotNil(t, sc.GetSessionSystem())
	require.NotNil(t, sc.GetEconomySystem())
	assert.Same(t, gateway, sc.GetGatewaySystem().(*fakeGateway))

	// The preloaded catalog is live and sealed.
	item, err := sc.GetRegistrySystem().LookupByKey("weapons", "ak47")
	require.NoError(t, err)
	def, err := sc.GetRegistrySystem().LookupItem(item)
	require.NoError(t, err)
	assert.True(t, def.Sealed)
	assert.Equal(t, int64(1500), def.Price)
}

func TestInit_FullPurchaseFlow(t *testing.T) {
	gateway := newFakeGateway()
	sc := initTestShopcore(t, gateway)
	pub := &fakePublisher{}
	sc.AddPublisher(pub)

	sessions := sc.GetSessionSystem()
	token, err := sessions.OnJoin(1, "soldier")
	require.NoError(t, err)
	for sc.Pump(0) > 0 {
	}
	require.Equal(t, SessionStateActive, sessions.State(token))

	receipt, err := sc.GetEconomySystem().PurchaseByKey(token, "weapons", "ak47")
	require.NoError(t, err)
	assert.Equal(t, int64(500), receipt.Balance)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sc.Shutdown(ctx))

	assert.Equal(t, 0, sessions.Remaining())
	assert.Equal(t, int64(500), gateway.users["soldier"])
	require.Len(t, gateway.inventories["soldier"], 1)
	assert.Equal(t, "ak47", gateway.inventories["soldier"][0]["item_key"])
	require.Len(t, pub.ends, 1)
	assert.True(t, pub.ends[0].clean)
}

func TestInit_SessionsRequireGateway(t *testing.T) {
	_, err := Init(context.Background(), zap.NewNop(), WithSessionSystem(""))
	assert.ErrorIs(t, err, ErrSystemNotAvailable)
}

func TestInit_MissingConfigFile(t *testing.T) {
	_, err := Init(context.Background(), zap.NewNop(),
		WithRegistrySystem(filepath.Join(t.TempDir(), "absent.json")))
	require.Error(t, err)
}

func TestInit_MalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	broken := writeConfigFile(t, dir, "registry.json", `{"categories": [`)
	_, err := Init(context.Background(), zap.NewNop(), WithRegistrySystem(broken))
	require.Error(t, err)
}

func TestInit_EmptyConfigFilesUseDefaults(t *testing.T) {
	sc, err := Init(context.Background(), zap.NewNop(),
		WithGatewaySystem("", newFakeGateway()),
		WithRegistrySystem(""),
		WithSessionSystem(""),
		WithEconomySystem(""),
	)
	require.NoError(t, err)
	assert.Empty(t, sc.GetRegistrySystem().ListCategories())
}

func TestSystemType_String(t *testing.T) {
	assert.Equal(t, "registry", SystemTypeRegistry.String())
	assert.Equal(t, "gateway", SystemTypeGateway.String())
	assert.Equal(t, "sessions", SystemTypeSessions.String())
	assert.Equal(t, "economy", SystemTypeEconomy.String())
	assert.Equal(t, "unknown", SystemTypeUnknown.String())
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "loading", SessionStateLoading.String())
	assert.Equal(t, "active", SessionStateActive.String())
	assert.Equal(t, "flushing", SessionStateFlushing.String())
	assert.Equal(t, "retired", SessionStateRetired.String())
	assert.Equal(t, "failed", SessionStateFailed.String())
	assert.Equal(t, "unknown", SessionStateUnknown.String())
}
