package monitor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/discovery"
	"grimm.is/nymectl/internal/discovery/icmp"
	"grimm.is/nymectl/internal/events"
	"grimm.is/nymectl/internal/kvstore"
)

// fakeNetlink is a minimal discovery.Netlinker stand-in: one interface with
// one IPv4 address, so a real Discovery coordinator can run end-to-end
// against it without touching the kernel routing table.
type fakeNetlink struct {
	links []netlink.Link
	addrs map[string][]netlink.Addr
}

func (f *fakeNetlink) LinkList() ([]netlink.Link, error) { return f.links, nil }

func (f *fakeNetlink) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return f.addrs[link.Attrs().Name], nil
}

// fakePinger is a deterministic stand-in for discovery.Pinger: every Ping
// call returns a reply that is already finished, so monitor tests never
// need a real raw socket.
type fakePinger struct {
	available bool
	results   map[string]icmp.Error // addr -> outcome; default NoError
}

func newFakePinger() *fakePinger {
	return &fakePinger{available: true, results: make(map[string]icmp.Error)}
}

func (p *fakePinger) Available() bool { return p.available }

func (p *fakePinger) Ping(addr string, retries int, lookupHost bool) *icmp.Reply {
	return icmp.NewFinishedReply(p.outcome(addr))
}

func (p *fakePinger) outcome(addr string) icmp.Error {
	if err, ok := p.results[addr]; ok {
		return err
	}
	return icmp.NoError
}

func TestRegisterPrefersMacThenHostThenIP(t *testing.T) {
	r := New(Options{Clock: clock.NewMockClock(time.Now())})

	r.Register("t1", "aa:bb:cc:dd:ee:ff", "", "")
	r.Register("t2", "", "host.local", "")
	r.Register("t3", "", "", "192.168.1.5")

	assert.Equal(t, discovery.MonitorModeMac, r.entries["t1"].mode)
	assert.Equal(t, discovery.MonitorModeHostName, r.entries["t2"].mode)
	assert.Equal(t, discovery.MonitorModeIp, r.entries["t3"].mode)
}

// TestRegisterWithEmptyCacheAwaitsTriggeredDiscoveryAndPopulatesInfo covers
// spec.md §8 scenario 6: registering against an empty cache triggers an
// internal discovery, and once that discovery finishes the monitor's
// NetworkDeviceInfo must reflect the resulting cache entry without waiting
// for some later, unrelated Evaluate()/ScheduleEvaluation() tick.
func TestRegisterWithEmptyCacheAwaitsTriggeredDiscoveryAndPopulatesInfo(t *testing.T) {
	hw := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	link := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{
		Name:         "eth0",
		Flags:        net.FlagUp,
		OperState:    netlink.OperUp,
		HardwareAddr: hw,
	}}
	ip, ipnet, err := net.ParseCIDR("192.168.70.1/29")
	require.NoError(t, err)
	ipnet.IP = ip

	nl := &fakeNetlink{
		links: []netlink.Link{link},
		addrs: map[string][]netlink.Addr{"eth0": {netlink.Addr{IPNet: ipnet}}},
	}

	kv := kvstore.NewMemStore()
	cache, err := discovery.NewCache(kv, 0)
	require.NoError(t, err)

	mc := clock.NewMockClock(time.Now())
	disc := discovery.New(discovery.Options{
		Netlinker:     nl,
		Pinger:        newFakePinger(), // replies NoError to every probed host
		Cache:         cache,
		Clock:         mc,
		Timeout:       5 * time.Second,
		MinPrefixLen:  29,
		ARPReadWindow: time.Millisecond,
	})

	r := New(Options{Clock: mc, Cache: cache, Discovery: disc})
	r.Register("t1", "", "", "192.168.70.3")

	require.Eventually(t, func() bool {
		info, ok := r.NetworkDeviceInfo("t1")
		return ok && info.Address == "192.168.70.3"
	}, 10*time.Second, 10*time.Millisecond, "triggered discovery must populate the registering monitor's info once it finishes")
}

func TestEvaluateProbesNeverSeenEntry(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	pinger := newFakePinger()
	hub := events.NewHub()
	r := New(Options{Clock: mc, Pinger: pinger, Hub: hub})

	r.Register("t1", "", "", "192.168.1.5")
	r.Evaluate()

	require.Eventually(t, func() bool {
		reachable, ok := r.Reachable("t1")
		return ok && reachable
	}, time.Second, time.Millisecond)
}

func TestEvaluateSkipsEntryWithPingInFlight(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	r := New(Options{Clock: mc, Pinger: newFakePinger()})

	r.Register("t1", "", "", "192.168.1.5")
	e := r.entries["t1"]
	e.inFlight = &icmp.Reply{} // zero-value, never finished: simulates "in flight"

	r.Evaluate()
	assert.NotNil(t, e.inFlight, "an in-flight ping must not be started over")
}

func TestEvaluateDoesNotReProbeFreshReachableEntry(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	pinger := newFakePinger()
	r := New(Options{Clock: mc, Pinger: pinger, MonitorInterval: time.Minute, RediscoveryInterval: time.Hour})

	r.Register("t1", "", "", "192.168.1.5")
	r.entries["t1"].hasInfo = true
	r.entries["t1"].info = discovery.NetworkDeviceInfo{NetworkInterface: "eth0", Address: "192.168.1.5"}
	r.entries["t1"].reachable = true
	r.entries["t1"].lastSeen = mc.Now()
	r.entries["t1"].lastConnectionAttempt = mc.Now()

	r.Evaluate()

	// No probe should have been issued: inFlight stays nil.
	time.Sleep(10 * time.Millisecond)
	assert.Nil(t, r.entries["t1"].inFlight)
}

func TestEvaluateReProbesStaleEntry(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	pinger := newFakePinger()
	r := New(Options{Clock: mc, Pinger: pinger, MonitorInterval: time.Minute, RediscoveryInterval: time.Hour})

	r.Register("t1", "", "", "192.168.1.5")
	r.entries["t1"].hasInfo = true
	r.entries["t1"].info = discovery.NetworkDeviceInfo{NetworkInterface: "eth0", Address: "192.168.1.5"}
	r.entries["t1"].reachable = true
	r.entries["t1"].lastSeen = mc.Now().Add(-2 * time.Minute)

	r.Evaluate()

	require.Eventually(t, func() bool {
		reachable, _ := r.Reachable("t1")
		return reachable
	}, time.Second, time.Millisecond)
}

func TestEvaluateKeepsReachableUntilRediscoveryWindowOnFailure(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	pinger := newFakePinger()
	pinger.results["192.168.1.5"] = icmp.ErrTimeout
	r := New(Options{Clock: mc, Pinger: pinger, MonitorInterval: time.Minute, RediscoveryInterval: time.Hour})

	r.Register("t1", "", "", "192.168.1.5")
	e := r.entries["t1"]
	e.hasInfo = true
	e.info = discovery.NetworkDeviceInfo{NetworkInterface: "eth0", Address: "192.168.1.5"}
	e.reachable = true
	e.lastSeen = mc.Now() // recently confirmed, inside rediscoveryInterval
	e.lastConnectionAttempt = mc.Now().Add(-2 * time.Hour) // overdue for keep-alive

	r.Evaluate()

	time.Sleep(20 * time.Millisecond)
	reachable, ok := r.Reachable("t1")
	require.True(t, ok)
	assert.True(t, reachable, "a single failed keep-alive inside the rediscovery window must not flip reachable false")
}

func TestEvaluateFlipsUnreachableAfterRediscoveryWindowElapses(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	pinger := newFakePinger()
	pinger.results["192.168.1.5"] = icmp.ErrTimeout
	r := New(Options{Clock: mc, Pinger: pinger, MonitorInterval: time.Minute, RediscoveryInterval: time.Hour})

	r.Register("t1", "", "", "192.168.1.5")
	e := r.entries["t1"]
	e.hasInfo = true
	e.info = discovery.NetworkDeviceInfo{NetworkInterface: "eth0", Address: "192.168.1.5"}
	e.reachable = true
	e.lastSeen = mc.Now().Add(-2 * time.Hour) // past rediscoveryInterval
	e.lastConnectionAttempt = mc.Now().Add(-2 * time.Hour)

	r.Evaluate()

	require.Eventually(t, func() bool {
		reachable, _ := r.Reachable("t1")
		return !reachable
	}, time.Second, time.Millisecond)
}

func TestSetPingRetriesForwardsToEntry(t *testing.T) {
	r := New(Options{Clock: clock.NewMockClock(time.Now())})
	r.Register("t1", "", "", "192.168.1.5")

	assert.True(t, r.SetPingRetries("t1", 5))
	assert.Equal(t, 5, r.entries["t1"].pingRetries)

	assert.False(t, r.SetPingRetries("unknown", 5))
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(Options{Clock: clock.NewMockClock(time.Now())})
	r.Register("t1", "", "", "192.168.1.5")
	r.Unregister("t1")

	_, ok := r.Reachable("t1")
	assert.False(t, ok)
}

func TestDescribeReportsNeverConfirmedThenReachable(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	r := New(Options{Clock: mc})
	r.Register("t1", "", "", "192.168.1.5")

	desc, ok := r.Reachable("t1")
	require.True(t, ok)
	assert.False(t, desc)

	text, ok := r.Describe("t1")
	require.True(t, ok)
	assert.Equal(t, "unreachable, never confirmed", text)

	e := r.entries["t1"]
	e.reachable = true
	e.lastSeen = mc.Now().Add(-3 * time.Minute)

	text, ok = r.Describe("t1")
	require.True(t, ok)
	assert.Contains(t, text, "reachable, last confirmed")
	assert.Contains(t, text, "ago")
}

func TestDescribeUnknownThing(t *testing.T) {
	r := New(Options{Clock: clock.NewMockClock(time.Now())})
	_, ok := r.Describe("unknown")
	assert.False(t, ok)
}

func TestApplyDiscoveryResultsUpdatesMatchingEntry(t *testing.T) {
	r := New(Options{Clock: clock.NewMockClock(time.Now())})
	r.Register("t1", "", "", "192.168.1.5")

	r.ApplyDiscoveryResults([]discovery.NetworkDeviceInfo{
		{NetworkInterface: "eth0", Address: "192.168.1.5", HostName: "box"},
	})

	info, ok := r.NetworkDeviceInfo("t1")
	require.True(t, ok)
	assert.Equal(t, "box", info.HostName)
}
