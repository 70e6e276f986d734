package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/discovery/icmp"
	"grimm.is/nymectl/internal/events"
	"grimm.is/nymectl/internal/kvstore"
)

// coordinatorFakePinger replies NoError for one fixed address and times out
// for everything else, so a coordinator run against a fake single-interface
// netlink produces exactly one discovered device.
type coordinatorFakePinger struct {
	reachable string
}

func (p *coordinatorFakePinger) Available() bool { return true }

func (p *coordinatorFakePinger) Ping(addr string, retries int, lookupHost bool) *icmp.Reply {
	if addr == p.reachable {
		r := icmp.NewFinishedReply(icmp.NoError)
		return r
	}
	return icmp.NewFinishedReply(icmp.ErrTimeout)
}

func TestDiscoverRunsIdleRunningFinalizingIdleAndFindsReachableHost(t *testing.T) {
	hw := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	link := dummyLink("eth0", net.FlagUp, netlink.OperUp, hw)
	nl := &fakeNetlink{
		links: []netlink.Link{link},
		addrs: map[string][]netlink.Addr{
			"eth0": {ipAddr(t, "192.168.50.1/29")},
		},
	}

	hub := events.NewHub()
	kv := kvstore.NewMemStore()
	cache, err := NewCache(kv, 0)
	require.NoError(t, err)

	d := New(Options{
		Netlinker:     nl,
		Pinger:        &coordinatorFakePinger{reachable: "192.168.50.3"},
		Cache:         cache,
		Hub:           hub,
		Clock:         clock.NewMockClock(time.Now()),
		Timeout:       5 * time.Second,
		MinPrefixLen:  29,
		ARPReadWindow: time.Millisecond,
	})

	reply := d.Discover(context.Background())
	require.NotNil(t, reply)

	select {
	case <-reply.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("discovery run did not finish in time")
	}

	results := reply.Wait()
	var found bool
	for _, r := range results {
		if r.Address == "192.168.50.3" {
			found = true
			assert.Equal(t, MonitorModeIp, r.MonitorMode)
		}
	}
	assert.True(t, found, "the one reachable host must appear in the finalized results")

	cached, err := cache.All()
	require.NoError(t, err)
	var cachedFound bool
	for _, c := range cached {
		if c.Address == "192.168.50.3" {
			cachedFound = true
		}
	}
	assert.True(t, cachedFound, "a finished run must persist its results to the cache")
}

func TestDiscoverReturnsSameReplyWhileRunInProgress(t *testing.T) {
	hw := net.HardwareAddr{1, 2, 3, 4, 5, 6}
	link := dummyLink("eth0", net.FlagUp, netlink.OperUp, hw)
	nl := &fakeNetlink{
		links: []netlink.Link{link},
		addrs: map[string][]netlink.Addr{
			"eth0": {ipAddr(t, "192.168.60.1/29")},
		},
	}

	d := New(Options{
		Netlinker:     nl,
		Pinger:        &coordinatorFakePinger{reachable: "nothing-matches"},
		Clock:         clock.NewMockClock(time.Now()),
		Timeout:       5 * time.Second,
		MinPrefixLen:  29,
		ARPReadWindow: time.Millisecond,
	})

	r1 := d.Discover(context.Background())
	r2 := d.Discover(context.Background())
	assert.Same(t, r1, r2, "a second Discover call while one is in flight must return the same Reply")

	select {
	case <-r1.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("discovery run did not finish in time")
	}
}
