package discovery

import (
	"time"

	"grimm.is/nymectl/internal/kvstore"
)

const (
	cacheBucket  = "discovery_cache"
	cacheVersion = 1

	versionKey = "__version__"
	orderKey   = "__order__"
)

// cacheEntry is the persisted shape of one cached network device, keyed
// by IP address. LastSeenMillis is minute-rounded to keep repeated
// updates from thrashing storage.
type cacheEntry struct {
	HostName       string            `json:"hostName"`
	Interface      string            `json:"interface"`
	LastSeenMillis int64             `json:"lastSeen"`
	Macs           []cacheMacEntry   `json:"mac"`
}

type cacheMacEntry struct {
	Mac    string `json:"mac"`
	Vendor string `json:"vendor"`
}

// Cache is the long-lived, persisted reachability cache: every address
// ever seen by a discovery run, its most recently observed hostname,
// interface, MAC/vendor pairs, and last-seen time. Entries unseen for
// longer than retention are evicted on load.
type Cache struct {
	kv        kvstore.Store
	retention time.Duration
}

// NewCache wraps kv as a discovery Cache, creating its bucket if absent
// and discarding any previously stored group whose version does not
// match the current cacheVersion.
func NewCache(kv kvstore.Store, retention time.Duration) (*Cache, error) {
	buckets, err := kv.ListBuckets()
	if err != nil {
		return nil, err
	}
	found := false
	for _, b := range buckets {
		if b == cacheBucket {
			found = true
			break
		}
	}
	if !found {
		if err := kv.CreateBucket(cacheBucket); err != nil {
			return nil, err
		}
	}

	c := &Cache{kv: kv, retention: retention}

	var storedVersion int
	err = kv.GetJSON(cacheBucket, versionKey, &storedVersion)
	switch {
	case err == kvstore.ErrNotFound:
		if err := kv.SetJSON(cacheBucket, versionKey, cacheVersion); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case storedVersion != cacheVersion:
		if err := c.wipe(); err != nil {
			return nil, err
		}
		if err := kv.SetJSON(cacheBucket, versionKey, cacheVersion); err != nil {
			return nil, err
		}
	}

	if err := c.EvictStale(time.Now()); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Cache) wipe() error {
	keys, err := c.kv.ListKeys(cacheBucket)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.kv.Delete(cacheBucket, k); err != nil && err != kvstore.ErrNotFound {
			return err
		}
	}
	return nil
}

func (c *Cache) loadOrder() ([]string, error) {
	var order []string
	err := c.kv.GetJSON(cacheBucket, orderKey, &order)
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	return order, err
}

func (c *Cache) saveOrder(order []string) error {
	return c.kv.SetJSON(cacheBucket, orderKey, order)
}

// Update records or refreshes one reconciled device at now, minute-rounded.
// Invariant: a MAC never appears as owner of two cache entries at once. If
// one of info's MACs was previously bound to a different address, that
// whole stale entry is removed before the new one is written — the old
// address is absent afterward, not merely stripped of the MAC (§3
// invariant 2; original_source/libnymea-core/hardware/network/
// networkdevicediscoveryimpl.cpp's migration path calls
// removeFromNetworkDeviceCache(oldAddress) wholesale, not a partial strip).
func (c *Cache) Update(info NetworkDeviceInfo, now time.Time) error {
	if info.Address == "" {
		return nil
	}

	order, err := c.loadOrder()
	if err != nil {
		return err
	}

	order, err = c.migrateMacs(order, info)
	if err != nil {
		return err
	}

	entry := cacheEntry{
		HostName:       info.HostName,
		Interface:      info.NetworkInterface,
		LastSeenMillis: now.Truncate(time.Minute).UnixMilli(),
	}
	for _, mi := range info.MacAddressInfos {
		entry.Macs = append(entry.Macs, cacheMacEntry{Mac: mi.Address.String(), Vendor: mi.Vendor})
	}

	exists := false
	for _, addr := range order {
		if addr == info.Address {
			exists = true
			break
		}
	}
	if !exists {
		order = append(order, info.Address)
	}
	if err := c.saveOrder(order); err != nil {
		return err
	}

	return c.kv.SetJSON(cacheBucket, info.Address, entry)
}

// migrateMacs removes, in full, any other cached address's entry that owns
// one of info's MACs, so a MAC that reappeared at a new address leaves the
// old address absent from the cache rather than merely missing that MAC.
// Returns the address order with any removed addresses dropped.
func (c *Cache) migrateMacs(order []string, info NetworkDeviceInfo) ([]string, error) {
	if len(info.MacAddressInfos) == 0 {
		return order, nil
	}
	incoming := make(map[string]struct{}, len(info.MacAddressInfos))
	for _, mi := range info.MacAddressInfos {
		incoming[mi.Address.String()] = struct{}{}
	}

	kept := order[:0:0]
	changed := false
	for _, addr := range order {
		if addr == info.Address {
			kept = append(kept, addr)
			continue
		}
		var existing cacheEntry
		if err := c.kv.GetJSON(cacheBucket, addr, &existing); err != nil {
			if err == kvstore.ErrNotFound {
				continue
			}
			return nil, err
		}

		stale := false
		for _, m := range existing.Macs {
			if _, conflict := incoming[m.Mac]; conflict {
				stale = true
				break
			}
		}
		if stale {
			if err := c.kv.Delete(cacheBucket, addr); err != nil && err != kvstore.ErrNotFound {
				return nil, err
			}
			changed = true
			continue
		}
		kept = append(kept, addr)
	}
	if !changed {
		return order, nil
	}
	return kept, nil
}

// All returns every cached device, in the order they were first recorded,
// as NetworkDeviceInfo with MonitorMode left unset (the cache has no
// opinion on monitor identity).
func (c *Cache) All() ([]NetworkDeviceInfo, error) {
	order, err := c.loadOrder()
	if err != nil {
		return nil, err
	}

	infos := make([]NetworkDeviceInfo, 0, len(order))
	for _, addr := range order {
		var entry cacheEntry
		if err := c.kv.GetJSON(cacheBucket, addr, &entry); err != nil {
			if err == kvstore.ErrNotFound {
				continue
			}
			return nil, err
		}
		info := NetworkDeviceInfo{
			Address:          addr,
			HostName:         entry.HostName,
			NetworkInterface: entry.Interface,
		}
		for _, m := range entry.Macs {
			mac, parseErr := ParseMacAddress(m.Mac)
			if parseErr != nil {
				continue
			}
			info.MacAddressInfos = append(info.MacAddressInfos, MacAddressInfo{
				Address:   mac,
				Vendor:    m.Vendor,
				VendorSet: true,
			})
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// LastSeen returns the last-seen time of addr, rounded to the minute it
// was recorded at.
func (c *Cache) LastSeen(addr string) (time.Time, bool) {
	var entry cacheEntry
	if err := c.kv.GetJSON(cacheBucket, addr, &entry); err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(entry.LastSeenMillis), true
}

// EvictStale removes every cached address whose last-seen time is older
// than retention relative to now.
func (c *Cache) EvictStale(now time.Time) error {
	if c.retention <= 0 {
		return nil
	}
	order, err := c.loadOrder()
	if err != nil {
		return err
	}
	cutoff := now.Add(-c.retention).UnixMilli()

	kept := make([]string, 0, len(order))
	for _, addr := range order {
		var entry cacheEntry
		if err := c.kv.GetJSON(cacheBucket, addr, &entry); err != nil {
			continue
		}
		if entry.LastSeenMillis < cutoff {
			if err := c.kv.Delete(cacheBucket, addr); err != nil && err != kvstore.ErrNotFound {
				return err
			}
			continue
		}
		kept = append(kept, addr)
	}
	if len(kept) != len(order) {
		return c.saveOrder(kept)
	}
	return nil
}
