// Package discovery implements the network device discovery coordinator:
// it combines link-layer ARP probing with ICMP echo across every usable
// local interface, reconciles the results, and maintains the long-lived
// reachability cache and per-device monitors the rule engine's things
// feed off.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// MacAddress is a six-octet hardware address, canonicalized to lowercase
// colon-separated hex.
type MacAddress [6]byte

// ParseMacAddress parses a colon- or dash-separated MAC string.
func ParseMacAddress(s string) (MacAddress, error) {
	var m MacAddress
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, err
	}
	if len(hw) != 6 {
		return m, fmt.Errorf("discovery: not a 6-octet MAC: %q", s)
	}
	copy(m[:], hw)
	return m, nil
}

// MacAddressFromBytes builds a MacAddress from six raw octets.
func MacAddressFromBytes(b []byte) MacAddress {
	var m MacAddress
	copy(m[:], b)
	return m
}

// BroadcastMac is ff:ff:ff:ff:ff:ff.
var BroadcastMac = MacAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// String canonicalizes to lowercase colon-separated hex.
func (m MacAddress) String() string {
	return strings.ToLower(net.HardwareAddr(m[:]).String())
}

// IsNull reports whether every octet is zero.
func (m MacAddress) IsNull() bool {
	return m == MacAddress{}
}

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MacAddress) IsBroadcast() bool {
	return m == BroadcastMac
}

// MacAddressInfo pairs a MAC with an optional, possibly-empty vendor name.
// VendorSet distinguishes "never looked up" from "looked up, vendor
// unknown".
type MacAddressInfo struct {
	Address   MacAddress `json:"address"`
	Vendor    string     `json:"vendor,omitempty"`
	VendorSet bool       `json:"vendorSet"`
}

// Complete reports whether the vendor lookup has resolved (even to empty).
func (i MacAddressInfo) Complete() bool {
	return i.VendorSet
}

// MonitorMode is the identity under which a network device is tracked.
type MonitorMode string

const (
	MonitorModeMac      MonitorMode = "mac"
	MonitorModeHostName MonitorMode = "hostName"
	MonitorModeIp       MonitorMode = "ip"
)

// NetworkDeviceInfo is one reconciled discovery result.
type NetworkDeviceInfo struct {
	Address          string           `json:"address"`
	HostName         string           `json:"hostName"`
	MacAddressInfos  []MacAddressInfo `json:"macAddressInfos"`
	NetworkInterface string           `json:"networkInterface"`
	MonitorMode      MonitorMode      `json:"monitorMode"`
	forceComplete    bool
}

// IsValid requires a valid interface and either a non-null address or a
// non-empty MAC list.
func (i NetworkDeviceInfo) IsValid() bool {
	if i.NetworkInterface == "" {
		return false
	}
	if i.Address != "" && net.ParseIP(i.Address) == nil {
		return false
	}
	return i.Address != "" || len(i.MacAddressInfos) > 0
}

// IsComplete requires address, host name, and interface to be set, and
// every MAC info to have its vendor resolved, unless force-completed.
func (i NetworkDeviceInfo) IsComplete() bool {
	if i.forceComplete {
		return true
	}
	if i.Address == "" || i.HostName == "" || i.NetworkInterface == "" {
		return false
	}
	for _, mi := range i.MacAddressInfos {
		if !mi.Complete() {
			return false
		}
	}
	return true
}

// ForceComplete marks i complete for publication even with unresolved
// fields.
func (i *NetworkDeviceInfo) ForceComplete() {
	i.forceComplete = true
}

// SortNetworkDeviceInfos sorts by IPv4 address ascending; entries without
// a parseable address sort last, stable on ties to preserve monitor mode
// stability across repeated runs.
func SortNetworkDeviceInfos(infos []NetworkDeviceInfo) {
	sort.SliceStable(infos, func(a, b int) bool {
		ia := net.ParseIP(infos[a].Address)
		ib := net.ParseIP(infos[b].Address)
		if ia == nil && ib == nil {
			return false
		}
		if ia == nil {
			return false
		}
		if ib == nil {
			return true
		}
		return ipv4Uint32(ia) < ipv4Uint32(ib)
	})
}

func ipv4Uint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// SelectMonitorMode implements the end-of-discovery monitor mode table:
// mac wins when a device has exactly one MAC unique across the whole
// result set, otherwise hostName wins if known, otherwise ip.
func SelectMonitorMode(macs []MacAddressInfo, hostName string, macUniqueInResult bool) MonitorMode {
	switch {
	case len(macs) == 0:
		if hostName == "" {
			return MonitorModeIp
		}
		return MonitorModeHostName
	case len(macs) == 1:
		if macUniqueInResult {
			return MonitorModeMac
		}
		if hostName == "" {
			return MonitorModeIp
		}
		return MonitorModeHostName
	default:
		if hostName == "" {
			return MonitorModeIp
		}
		return MonitorModeHostName
	}
}
