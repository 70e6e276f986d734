package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

type fakeNetlink struct {
	links []netlink.Link
	addrs map[string][]netlink.Addr // keyed by link name
	err   error
}

func (f *fakeNetlink) LinkList() ([]netlink.Link, error) {
	return f.links, f.err
}

func (f *fakeNetlink) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return f.addrs[link.Attrs().Name], nil
}

func dummyLink(name string, flags net.Flags, operState netlink.LinkOperState, hw net.HardwareAddr) netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{
		Name:         name,
		Flags:        flags,
		OperState:    operState,
		HardwareAddr: hw,
	}}
}

func ipAddr(t *testing.T, cidr string) netlink.Addr {
	t.Helper()
	ip, ipnet, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	ipnet.IP = ip
	return netlink.Addr{IPNet: ipnet}
}

func TestEligibleInterfacesSkipsLoopback(t *testing.T) {
	nl := &fakeNetlink{
		links: []netlink.Link{
			dummyLink("lo", net.FlagLoopback|net.FlagUp, netlink.OperUp, net.HardwareAddr{0, 0, 0, 0, 0, 0}),
		},
	}
	ifaces, err := EligibleInterfaces(nl, 0)
	require.NoError(t, err)
	assert.Empty(t, ifaces)
}

func TestEligibleInterfacesSkipsDown(t *testing.T) {
	nl := &fakeNetlink{
		links: []netlink.Link{
			dummyLink("eth0", 0, netlink.OperDown, net.HardwareAddr{1, 2, 3, 4, 5, 6}),
		},
	}
	ifaces, err := EligibleInterfaces(nl, 0)
	require.NoError(t, err)
	assert.Empty(t, ifaces)
}

func TestEligibleInterfacesSkipsNoHardwareAddr(t *testing.T) {
	nl := &fakeNetlink{
		links: []netlink.Link{
			dummyLink("eth0", net.FlagUp, netlink.OperUp, nil),
		},
	}
	ifaces, err := EligibleInterfaces(nl, 0)
	require.NoError(t, err)
	assert.Empty(t, ifaces)
}

func TestEligibleInterfacesFiltersMinPrefixLen(t *testing.T) {
	hw := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	link := dummyLink("eth0", net.FlagUp, netlink.OperUp, hw)
	nl := &fakeNetlink{
		links: []netlink.Link{link},
		addrs: map[string][]netlink.Addr{
			"eth0": {ipAddr(t, "192.168.1.5/16")},
		},
	}
	ifaces, err := EligibleInterfaces(nl, 24)
	require.NoError(t, err)
	assert.Empty(t, ifaces, "a /16 address must be rejected when minPrefixLen is 24")
}

func TestEligibleInterfacesReturnsUsableInterface(t *testing.T) {
	hw := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	link := dummyLink("eth0", net.FlagUp, netlink.OperUp, hw)
	nl := &fakeNetlink{
		links: []netlink.Link{link},
		addrs: map[string][]netlink.Addr{
			"eth0": {ipAddr(t, "192.168.1.5/24")},
		},
	}
	ifaces, err := EligibleInterfaces(nl, 24)
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.Equal(t, "192.168.1.5", ifaces[0].Address.String())
	assert.Equal(t, hw, ifaces[0].HardwareAddr)
}

func TestEligibleInterfacesDedupesByNetworkAndMask(t *testing.T) {
	hw1 := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	hw2 := net.HardwareAddr{6, 5, 4, 3, 2, 1}
	link1 := dummyLink("eth0", net.FlagUp, netlink.OperUp, hw1)
	link2 := dummyLink("eth1", net.FlagUp, netlink.OperUp, hw2)
	nl := &fakeNetlink{
		links: []netlink.Link{link1, link2},
		addrs: map[string][]netlink.Addr{
			"eth0": {ipAddr(t, "192.168.1.5/24")},
			"eth1": {ipAddr(t, "192.168.1.9/24")},
		},
	}
	ifaces, err := EligibleInterfaces(nl, 24)
	require.NoError(t, err)
	assert.Len(t, ifaces, 1, "two interfaces on the same network/mask must collapse to one")
}

func TestHostAddressesExcludesNetworkAndBroadcast(t *testing.T) {
	ifc := Interface{
		Network: net.ParseIP("192.168.1.0").To4(),
		Netmask: net.CIDRMask(29, 32),
		Address: net.ParseIP("192.168.1.1"),
	}
	addrs := HostAddresses(ifc)

	// /29 gives 8 addresses, 6 usable hosts, minus the interface's own .1.
	require.Len(t, addrs, 5)
	for _, a := range addrs {
		assert.NotEqual(t, "192.168.1.0", a.String())
		assert.NotEqual(t, "192.168.1.7", a.String())
	}
}

func TestHostAddressesRejectsOversizedSubnet(t *testing.T) {
	ifc := Interface{
		Network: net.ParseIP("10.0.0.0").To4(),
		Netmask: net.CIDRMask(4, 32),
	}
	assert.Nil(t, HostAddresses(ifc), "a subnet wider than /8 must be rejected outright")
}

func TestHostAddressesCapsAtMaxHostsPerInterface(t *testing.T) {
	ifc := Interface{
		Network: net.ParseIP("10.0.0.0").To4(),
		Netmask: net.CIDRMask(8, 32),
	}
	addrs := HostAddresses(ifc)
	assert.Len(t, addrs, maxHostsPerInterface)
}
