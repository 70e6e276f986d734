package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nymectl/internal/kvstore"
)

func TestCacheUpdateAndAll(t *testing.T) {
	kv := kvstore.NewMemStore()
	c, err := NewCache(kv, 30*24*time.Hour)
	require.NoError(t, err)

	mac, _ := ParseMacAddress("aa:bb:cc:dd:ee:ff")
	now := time.Now()
	err = c.Update(NetworkDeviceInfo{
		Address:          "192.168.1.42",
		HostName:         "box",
		NetworkInterface: "eth0",
		MacAddressInfos:  []MacAddressInfo{{Address: mac, Vendor: "Acme", VendorSet: true}},
	}, now)
	require.NoError(t, err)

	all, err := c.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "192.168.1.42", all[0].Address)
	assert.Equal(t, "box", all[0].HostName)
	assert.Equal(t, "eth0", all[0].NetworkInterface)
	require.Len(t, all[0].MacAddressInfos, 1)
	assert.Equal(t, "Acme", all[0].MacAddressInfos[0].Vendor)
}

func TestCacheIgnoresEmptyAddress(t *testing.T) {
	kv := kvstore.NewMemStore()
	c, err := NewCache(kv, 0)
	require.NoError(t, err)

	require.NoError(t, c.Update(NetworkDeviceInfo{}, time.Now()))
	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCacheLastSeenMonotonicAndMinuteRounded(t *testing.T) {
	kv := kvstore.NewMemStore()
	c, err := NewCache(kv, 0)
	require.NoError(t, err)

	t1 := time.Date(2026, 1, 1, 10, 30, 15, 0, time.UTC)
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.1", NetworkInterface: "eth0"}, t1))

	seen, ok := c.LastSeen("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, t1.Truncate(time.Minute).UnixMilli(), seen.UnixMilli())

	t2 := t1.Add(5 * time.Minute)
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.1", NetworkInterface: "eth0"}, t2))
	seen2, ok := c.LastSeen("10.0.0.1")
	require.True(t, ok)
	assert.True(t, !seen2.Before(seen), "lastSeen must never move backward")
}

func TestCacheOrderPreservedAcrossUpdates(t *testing.T) {
	kv := kvstore.NewMemStore()
	c, err := NewCache(kv, 0)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.3", NetworkInterface: "eth0"}, now))
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.1", NetworkInterface: "eth0"}, now))
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.3", NetworkInterface: "eth0", HostName: "again"}, now))

	all, err := c.All()
	require.NoError(t, err)
	require.Len(t, all, 2, "re-updating an existing address must not duplicate its cache entry")
	assert.Equal(t, "10.0.0.3", all[0].Address, "first-seen order is preserved across updates")
	assert.Equal(t, "again", all[0].HostName)
	assert.Equal(t, "10.0.0.1", all[1].Address)
}

func TestCacheEvictStale(t *testing.T) {
	kv := kvstore.NewMemStore()
	retention := 30 * 24 * time.Hour
	c, err := NewCache(kv, retention)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.1", NetworkInterface: "eth0"}, now.Add(-40*24*time.Hour)))
	require.NoError(t, c.Update(NetworkDeviceInfo{Address: "10.0.0.2", NetworkInterface: "eth0"}, now))

	require.NoError(t, c.EvictStale(now))

	all, err := c.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "10.0.0.2", all[0].Address)
}

func TestCacheUpdateMigratesMacFromOldAddress(t *testing.T) {
	kv := kvstore.NewMemStore()
	c, err := NewCache(kv, 0)
	require.NoError(t, err)

	mac, err := ParseMacAddress("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	now := time.Now()

	require.NoError(t, c.Update(NetworkDeviceInfo{
		Address:          "192.168.1.10",
		NetworkInterface: "eth0",
		HostName:         "old-host",
		MacAddressInfos:  []MacAddressInfo{{Address: mac, Vendor: "Acme", VendorSet: true}},
	}, now))

	require.NoError(t, c.Update(NetworkDeviceInfo{
		Address:          "192.168.1.20",
		NetworkInterface: "eth0",
		HostName:         "new-host",
		MacAddressInfos:  []MacAddressInfo{{Address: mac, Vendor: "Acme", VendorSet: true}},
	}, now))

	all, err := c.All()
	require.NoError(t, err)

	var oldEntry, newEntry *NetworkDeviceInfo
	for i := range all {
		switch all[i].Address {
		case "192.168.1.10":
			oldEntry = &all[i]
		case "192.168.1.20":
			newEntry = &all[i]
		}
	}
	assert.Nil(t, oldEntry, "the old address must be absent entirely once its MAC reappears elsewhere")
	require.NotNil(t, newEntry)
	require.Len(t, newEntry.MacAddressInfos, 1)
	assert.Equal(t, mac.String(), newEntry.MacAddressInfos[0].Address.String())
}

func TestCacheVersionMismatchDiscardsGroup(t *testing.T) {
	kv := kvstore.NewMemStore()
	require.NoError(t, kv.CreateBucket(cacheBucket))
	require.NoError(t, kv.SetJSON(cacheBucket, versionKey, 999))
	require.NoError(t, kv.SetJSON(cacheBucket, orderKey, []string{"10.0.0.5"}))
	require.NoError(t, kv.SetJSON(cacheBucket, "10.0.0.5", cacheEntry{HostName: "stale"}))

	c, err := NewCache(kv, 0)
	require.NoError(t, err)

	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all, "a version mismatch must discard the whole cached group")
}
