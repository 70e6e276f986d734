package discovery

import (
	"net"

	"github.com/vishvananda/netlink"
)

// Netlinker abstracts the netlink calls the interface enumerator needs,
// so tests can substitute a fake rather than touching the real kernel
// routing table.
type Netlinker interface {
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// realNetlink is the production Netlinker, backed directly by the
// vishvananda/netlink package calls.
type realNetlink struct{}

func (realNetlink) LinkList() ([]netlink.Link, error) { return netlink.LinkList() }

func (realNetlink) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

// NewNetlinker returns the production Netlinker backed by the real
// kernel routing table.
func NewNetlinker() Netlinker {
	return realNetlink{}
}

// Interface is one eligible local network interface to probe.
type Interface struct {
	Name         string
	Network      net.IP
	Netmask      net.IPMask
	Address      net.IP
	HardwareAddr net.HardwareAddr
}

// EligibleInterfaces enumerates local interfaces suitable for discovery:
// not loopback, administratively and operationally up, carrying a
// hardware address, with an IPv4 address whose subnet prefix is at
// least minPrefixLen bits, deduplicated by (network, netmask).
func EligibleInterfaces(nl Netlinker, minPrefixLen int) ([]Interface, error) {
	links, err := nl.LinkList()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Interface

	for _, link := range links {
		attrs := link.Attrs()
		if attrs == nil {
			continue
		}
		if attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if attrs.Flags&net.FlagUp == 0 {
			continue
		}
		if attrs.OperState != netlink.OperUp {
			continue
		}
		if len(attrs.HardwareAddr) == 0 {
			continue
		}

		addrs, err := nl.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if addr.IP == nil || addr.IP.To4() == nil {
				continue
			}
			ones, _ := addr.IPNet.Mask.Size()
			if ones < minPrefixLen {
				continue
			}
			network := addr.IPNet.IP.Mask(addr.IPNet.Mask)
			key := network.String() + "/" + addr.IPNet.Mask.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Interface{
				Name:         attrs.Name,
				Network:      network,
				Netmask:      addr.IPNet.Mask,
				Address:      addr.IP,
				HardwareAddr: attrs.HardwareAddr,
			})
		}
	}

	return out, nil
}

// maxHostsPerInterface caps how many addresses one probe round will
// enumerate for a single interface, guarding against a misconfigured
// MinInterfacePrefixLen opening up an unreasonably large subnet.
const maxHostsPerInterface = 1024

// HostAddresses enumerates every usable host address in ifc's subnet
// (excluding the network and broadcast addresses and the interface's own
// address), capped at maxHostsPerInterface.
func HostAddresses(ifc Interface) []net.IP {
	ones, bits := ifc.Netmask.Size()
	hostBits := bits - ones
	if hostBits <= 0 || hostBits > 24 {
		return nil
	}
	total := 1 << uint(hostBits)

	base := ifc.Network.To4()
	if base == nil {
		return nil
	}
	baseVal := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])

	addrs := make([]net.IP, 0, total)
	for i := 1; i < total-1 && len(addrs) < maxHostsPerInterface; i++ {
		v := baseVal + uint32(i)
		ip := net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
		if ip.Equal(ifc.Address) {
			continue
		}
		addrs = append(addrs, ip)
	}
	return addrs
}
