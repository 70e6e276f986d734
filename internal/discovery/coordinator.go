package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/discovery/arp"
	"grimm.is/nymectl/internal/discovery/icmp"
	"grimm.is/nymectl/internal/events"
	"grimm.is/nymectl/internal/logging"
	"grimm.is/nymectl/internal/metrics"
)

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateRunning
	stateFinalizing
)

// Pinger is the subset of icmp.Engine the coordinator depends on.
type Pinger interface {
	Available() bool
	Ping(addr string, retries int, lookupHost bool) *icmp.Reply
}

// Options configures a Discovery coordinator.
type Options struct {
	Netlinker     Netlinker
	Pinger        Pinger
	VendorLookup  vendorLookup
	Cache         *Cache
	Hub           *events.Hub
	Metrics       *metrics.Registry
	Clock         clock.Clock
	Logger        *logging.Logger
	Timeout       time.Duration
	MinPrefixLen  int
	PingRetries   int
	ARPReadWindow time.Duration
}

// Discovery coordinates one network device discovery run at a time:
// Idle -> Running -> Finalizing -> Idle. A caller that invokes Discover
// while a run is active gets the in-progress run's Reply rather than
// starting a second one.
type Discovery struct {
	nl      Netlinker
	pinger  Pinger
	lookup  vendorLookup
	cache   *Cache
	hub     *events.Hub
	metrics *metrics.Registry
	clk     clock.Clock
	log     *logging.Logger

	timeout       time.Duration
	minPrefixLen  int
	pingRetries   int
	arpReadWindow time.Duration

	mu      sync.Mutex
	state   lifecycleState
	current *Reply
}

// New builds a Discovery coordinator. Unset options fall back to sane
// defaults: real netlink, a 20-second timeout, a /24 minimum prefix, 3
// ping retries, and the global metrics registry.
func New(opts Options) *Discovery {
	if opts.Netlinker == nil {
		opts.Netlinker = NewNetlinker()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("discovery")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MinPrefixLen == 0 {
		opts.MinPrefixLen = 24
	}
	if opts.PingRetries == 0 {
		opts.PingRetries = 3
	}
	if opts.ARPReadWindow == 0 {
		opts.ARPReadWindow = 200 * time.Millisecond
	}

	return &Discovery{
		nl:            opts.Netlinker,
		pinger:        opts.Pinger,
		lookup:        opts.VendorLookup,
		cache:         opts.Cache,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		clk:           opts.Clock,
		log:           opts.Logger,
		timeout:       opts.Timeout,
		minPrefixLen:  opts.MinPrefixLen,
		pingRetries:   opts.PingRetries,
		arpReadWindow: opts.ARPReadWindow,
		state:         stateIdle,
	}
}

// Discover starts a discovery run, or returns the handle to one already
// in progress.
func (d *Discovery) Discover(ctx context.Context) *Reply {
	d.mu.Lock()
	if d.state != stateIdle {
		r := d.current
		d.mu.Unlock()
		return r
	}
	r := newReply()
	d.current = r
	d.state = stateRunning
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.DiscoveryInFlight.Set(1)
	}

	go d.run(ctx, r)
	return r
}

func (d *Discovery) run(ctx context.Context, r *Reply) {
	start := d.clk.Now()
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ifaces, err := EligibleInterfaces(d.nl, d.minPrefixLen)
	if err != nil {
		d.log.Warn("interface enumeration failed", "error", err)
		d.finish(r, nil, start, "error")
		return
	}

	recon := newReconciler()

	var wg sync.WaitGroup
	for _, ifc := range ifaces {
		wg.Add(1)
		go func(ifc Interface) {
			defer wg.Done()
			d.probeInterface(runCtx, ifc, recon)
		}(ifc)
	}
	wg.Wait()

	d.mu.Lock()
	d.state = stateFinalizing
	d.mu.Unlock()

	results := recon.finalize(d.lookup)

	for i := range results {
		if d.cache != nil {
			if err := d.cache.Update(results[i], d.clk.Now()); err != nil {
				d.log.Warn("cache update failed", "address", results[i].Address, "error", err)
			}
		}
		if d.hub == nil {
			continue
		}
		if len(results[i].MacAddressInfos) == 0 {
			d.hub.EmitDeviceSeen("", results[i].Address, results[i].HostName, "")
			continue
		}
		for _, mi := range results[i].MacAddressInfos {
			d.hub.EmitDeviceSeen(mi.Address.String(), results[i].Address, results[i].HostName, mi.Vendor)
		}
	}

	d.finish(r, results, start, "ok")
}

func (d *Discovery) finish(r *Reply, results []NetworkDeviceInfo, start time.Time, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordDiscoveryRun(outcome, d.clk.Now().Sub(start).Seconds(), len(results))
		d.metrics.DiscoveryInFlight.Set(0)
	}
	if d.hub != nil {
		d.hub.EmitDiscoveryFinished(len(results))
	}

	d.mu.Lock()
	d.state = stateIdle
	d.current = nil
	d.mu.Unlock()

	r.finish(results)
}

// probeInterface sends ARP requests and ICMP pings across every host
// address of ifc's subnet, seeds from the kernel's warm-start neighbor
// table, and listens for ARP replies until runCtx ends.
func (d *Discovery) probeInterface(runCtx context.Context, ifc Interface, recon *reconciler) {
	sock, err := arp.Open(ifc.Name)
	if err != nil {
		d.log.Warn("arp socket unavailable", "iface", ifc.Name, "error", err)
		sock = nil
	} else {
		defer sock.Close()
	}

	if kernelEntries, err := arp.ReadKernelTable(); err == nil {
		for _, e := range kernelEntries {
			if e.Interface != ifc.Name {
				continue
			}
			recon.recordMAC(e.IP.String(), ifc.Name, MacAddressFromBytes(e.MAC))
		}
	}

	hosts := HostAddresses(ifc)

	var wg sync.WaitGroup
	for _, host := range hosts {
		if sock != nil {
			if err := sock.SendRequest(ifc.HardwareAddr, ifc.Address, host, nil); err != nil {
				d.log.Debug("arp send failed", "iface", ifc.Name, "target", host, "error", err)
			}
		}
		wg.Add(1)
		go func(target net.IP) {
			defer wg.Done()
			d.pingHost(runCtx, target, ifc.Name, recon)
		}(host)
	}

	if sock != nil {
		d.collectARPReplies(runCtx, sock, recon)
	}

	wg.Wait()
}

func (d *Discovery) pingHost(ctx context.Context, ip net.IP, ifaceName string, recon *reconciler) {
	if d.pinger == nil || !d.pinger.Available() {
		return
	}
	reply := d.pinger.Ping(ip.String(), d.pingRetries, true)
	select {
	case <-reply.Done():
	case <-ctx.Done():
		reply.Abort()
		<-reply.Done()
	}

	hostName, rttMS, pingErr := reply.Result()
	if d.metrics != nil {
		d.metrics.RecordPing(ifaceName, pingOutcome(pingErr), rttMS/1000.0)
	}
	if pingErr != icmp.NoError {
		return
	}
	recon.recordAddress(ip.String(), ifaceName)
	recon.recordHostName(ip.String(), ifaceName, hostName)
}

func pingOutcome(err icmp.Error) string {
	if err == icmp.NoError {
		return "reply"
	}
	return err.Error()
}

func (d *Discovery) collectARPReplies(ctx context.Context, sock *arp.Socket, recon *reconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok, err := sock.ReadEvent(d.arpReadWindow)
		if err != nil {
			return
		}
		if !ok || ev.Opcode != arp.Reply || ev.IsProxied() {
			continue
		}
		recon.recordMAC(ev.SenderIP.String(), ev.Interface, MacAddressFromBytes(ev.SenderMAC))
	}
}
