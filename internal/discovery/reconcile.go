package discovery

import "sync"

// reconciler accumulates one discovery run's observations keyed by IP
// address before the coordinator finalizes them into NetworkDeviceInfos.
type reconciler struct {
	mu      sync.Mutex
	byAddr  map[string]*pendingDevice
	macSeen map[string]int // mac string -> distinct addresses it was observed with
}

type pendingDevice struct {
	address  string
	iface    string
	hostName string
	macs     map[string]struct{}
}

func newReconciler() *reconciler {
	return &reconciler{
		byAddr:  make(map[string]*pendingDevice),
		macSeen: make(map[string]int),
	}
}

func (r *reconciler) getOrCreate(addr, iface string) *pendingDevice {
	d, ok := r.byAddr[addr]
	if !ok {
		d = &pendingDevice{address: addr, iface: iface, macs: make(map[string]struct{})}
		r.byAddr[addr] = d
	}
	return d
}

// recordAddress notes addr as reachable without asserting a MAC, e.g.
// from a successful ICMP echo reply.
func (r *reconciler) recordAddress(addr, iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(addr, iface)
}

// recordHostName attaches a resolved hostname to addr.
func (r *reconciler) recordHostName(addr, iface, hostName string) {
	if hostName == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.getOrCreate(addr, iface)
	d.hostName = hostName
}

// recordMAC notes that addr answered with mac, e.g. from an ARP reply
// or the kernel's warm-start neighbor table.
func (r *reconciler) recordMAC(addr, iface string, mac MacAddress) {
	if mac.IsNull() || mac.IsBroadcast() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.getOrCreate(addr, iface)
	key := mac.String()
	if _, ok := d.macs[key]; !ok {
		d.macs[key] = struct{}{}
		r.macSeen[key]++
	}
}

// finalize resolves every accumulated device's vendor names and monitor
// mode, sorts them, and marks them force-complete: a discovery result is
// published as soon as a run ends, never withheld pending a slow vendor
// lookup.
func (r *reconciler) finalize(lookup vendorLookup) []NetworkDeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]NetworkDeviceInfo, 0, len(r.byAddr))
	for _, d := range r.byAddr {
		info := NetworkDeviceInfo{
			Address:          d.address,
			HostName:         d.hostName,
			NetworkInterface: d.iface,
		}

		singleUniqueMac := len(d.macs) == 1
		for macStr := range d.macs {
			mac, err := ParseMacAddress(macStr)
			if err != nil {
				continue
			}
			vendorName := ""
			if lookup != nil {
				vendorName = lookup.Vendor(macStr)
			}
			info.MacAddressInfos = append(info.MacAddressInfos, MacAddressInfo{
				Address:   mac,
				Vendor:    vendorName,
				VendorSet: true,
			})
			if r.macSeen[macStr] != 1 {
				singleUniqueMac = false
			}
		}

		info.MonitorMode = SelectMonitorMode(info.MacAddressInfos, info.HostName, singleUniqueMac)
		info.ForceComplete()
		infos = append(infos, info)
	}

	SortNetworkDeviceInfos(infos)
	return infos
}

// vendorLookup is the subset of vendor.Lookup the reconciler depends on,
// kept narrow so discovery need not import the vendor package's worker
// lifecycle machinery, just the single synchronous call.
type vendorLookup interface {
	Vendor(mac string) string
}
