// Package monitor tracks the reachability of every thing that exposes
// the "networkdevice" interface, re-probing each on its own schedule and
// publishing reachability transitions to the event bus. It is the only
// package in the discovery tree permitted to import the discovery
// package itself, since registering a new monitor can trigger an
// immediate Discover() to seed its state, and re-probing a single
// monitor pings its address directly rather than waiting on a full
// discovery run.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/discovery"
	"grimm.is/nymectl/internal/discovery/icmp"
	"grimm.is/nymectl/internal/events"
	"grimm.is/nymectl/internal/logging"
	"grimm.is/nymectl/internal/metrics"
	"grimm.is/nymectl/internal/scheduler"
	"grimm.is/nymectl/internal/thing"
)

// entry is one monitored thing's tracked identity and reachability state.
type entry struct {
	thingID thing.ID
	mode    discovery.MonitorMode
	mac     string
	hostName string
	address  string

	info    discovery.NetworkDeviceInfo
	hasInfo bool

	reachable             bool
	lastSeen              time.Time
	lastConnectionAttempt time.Time
	pingRetries           int

	inFlight *icmp.Reply
}

// target returns the address this entry's mode pings: the hostname for
// HostName mode, the address otherwise.
func (e *entry) target() string {
	if e.mode == discovery.MonitorModeHostName {
		return e.hostName
	}
	return e.address
}

// Registry tracks every registered networkdevice thing and re-probes
// them on a fixed interval, pinging each monitor's own address directly
// and emitting reachability transitions.
type Registry struct {
	mu      sync.Mutex
	entries map[thing.ID]*entry

	disc   *discovery.Discovery
	pinger discovery.Pinger
	cache  *discovery.Cache
	hub    *events.Hub
	metrics *metrics.Registry
	clk    clock.Clock
	log    *logging.Logger

	monitorInterval     time.Duration
	rediscoveryInterval time.Duration
	defaultPingRetries  int
}

// Options configures a Registry.
type Options struct {
	Discovery           *discovery.Discovery
	Pinger              discovery.Pinger
	Cache               *discovery.Cache
	Hub                 *events.Hub
	Metrics             *metrics.Registry
	Clock               clock.Clock
	Logger              *logging.Logger
	MonitorInterval     time.Duration
	RediscoveryInterval time.Duration
	DefaultPingRetries  int
}

// New builds a monitor Registry.
func New(opts Options) *Registry {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("monitor")
	}
	if opts.MonitorInterval == 0 {
		opts.MonitorInterval = 60 * time.Second
	}
	if opts.RediscoveryInterval == 0 {
		opts.RediscoveryInterval = 10 * time.Minute
	}
	if opts.DefaultPingRetries == 0 {
		opts.DefaultPingRetries = 3
	}

	return &Registry{
		entries:             make(map[thing.ID]*entry),
		disc:                opts.Discovery,
		pinger:              opts.Pinger,
		cache:               opts.Cache,
		hub:                 opts.Hub,
		metrics:             opts.Metrics,
		clk:                 opts.Clock,
		log:                 opts.Logger,
		monitorInterval:     opts.MonitorInterval,
		rediscoveryInterval: opts.RediscoveryInterval,
		defaultPingRetries:  opts.DefaultPingRetries,
	}
}

// Register starts monitoring a thing that exposes mac/hostName/address
// networkdevice params, preferring mac identity, then hostName, then ip
// (the same preference order discovery applies when finalizing a run).
// If the cache already holds a matching entry its NetworkDeviceInfo
// seeds the new monitor; if the cache is empty altogether, Register
// triggers an immediate Discover() to populate it.
func (r *Registry) Register(id thing.ID, mac, hostName, address string) {
	mode := discovery.MonitorModeIp
	switch {
	case mac != "":
		mode = discovery.MonitorModeMac
	case hostName != "":
		mode = discovery.MonitorModeHostName
	}

	e := &entry{
		thingID:     id,
		mode:        mode,
		mac:         mac,
		hostName:    hostName,
		address:     address,
		pingRetries: r.defaultPingRetries,
	}

	cacheEmpty := true
	if r.cache != nil {
		if cached, err := r.cache.All(); err == nil {
			cacheEmpty = len(cached) == 0
			for _, info := range cached {
				if entryMatchesInfo(e, info) {
					e.info = info
					e.hasInfo = true
					break
				}
			}
		}
	}

	r.mu.Lock()
	r.entries[id] = e
	count := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.MonitoredThings.Set(float64(count))
	}

	if cacheEmpty && r.disc != nil {
		reply := r.disc.Discover(context.Background())
		go func() {
			<-reply.Done()
			r.ApplyDiscoveryResults(reply.Wait())
		}()
	}
}

// Unregister stops monitoring a thing.
func (r *Registry) Unregister(id thing.ID) {
	r.mu.Lock()
	delete(r.entries, id)
	count := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.MonitoredThings.Set(float64(count))
	}
}

// Reachable reports the last known reachability of a registered thing.
func (r *Registry) Reachable(id thing.ID) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, false
	}
	return e.reachable, true
}

// NetworkDeviceInfo returns the most recently known NetworkDeviceInfo for
// a registered thing.
func (r *Registry) NetworkDeviceInfo(id thing.ID) (discovery.NetworkDeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.hasInfo {
		return discovery.NetworkDeviceInfo{}, false
	}
	return e.info, true
}

// Describe returns a human-readable summary of a registered thing's
// reachability for log and introspection output, e.g. "reachable, last
// confirmed 3 minutes ago" or "unreachable, never confirmed".
func (r *Registry) Describe(id thing.ID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}

	status := "unreachable"
	if e.reachable {
		status = "reachable"
	}
	if e.lastSeen.IsZero() {
		return status + ", never confirmed", true
	}
	return status + ", last confirmed " + humanize.Time(e.lastSeen), true
}

// SetPingRetries overrides a registered monitor's retry count, mirroring
// the plugin-facing monitor's pingRetries writes forwarding to the
// internal monitor (§4.4).
func (r *Registry) SetPingRetries(id thing.ID, retries int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.pingRetries = retries
	return true
}

func entryMatchesInfo(e *entry, info discovery.NetworkDeviceInfo) bool {
	switch e.mode {
	case discovery.MonitorModeMac:
		for _, mi := range info.MacAddressInfos {
			if mi.Address.String() == e.mac {
				return true
			}
		}
	case discovery.MonitorModeHostName:
		return info.HostName != "" && info.HostName == e.hostName
	case discovery.MonitorModeIp:
		return info.Address != "" && info.Address == e.address
	}
	return false
}

// Evaluate runs the §4.4 re-probe decision table against every
// registered monitor: a ping already in flight is left alone; an
// invalid/never-seen/stale entry is probed; a reachable entry overdue
// for its keep-alive window is probed to detect a silent ARP proxy;
// otherwise a fresh, reachable entry needs no action.
func (r *Registry) Evaluate() {
	now := r.clk.Now()

	r.mu.Lock()
	var toProbe []*entry
	for _, e := range r.entries {
		if e.inFlight != nil {
			continue
		}
		switch {
		case !e.hasInfo || !e.info.IsValid():
			toProbe = append(toProbe, e)
		case e.lastSeen.IsZero():
			toProbe = append(toProbe, e)
		case now.Sub(e.lastSeen) > r.monitorInterval:
			toProbe = append(toProbe, e)
		case e.reachable && now.Sub(e.lastConnectionAttempt) > r.rediscoveryInterval:
			toProbe = append(toProbe, e)
		}
	}
	r.mu.Unlock()

	for _, e := range toProbe {
		r.probe(e, now)
	}
}

// probe pings e's target directly. A nil Pinger or an entry with no
// resolvable target (e.g. a bare mac-mode monitor whose cache entry
// never resolved an address) leaves the entry untouched until the next
// tick turns up better information.
func (r *Registry) probe(e *entry, now time.Time) {
	target := e.target()
	if r.pinger == nil || !r.pinger.Available() || target == "" {
		return
	}

	r.mu.Lock()
	e.lastConnectionAttempt = now
	reply := r.pinger.Ping(target, e.pingRetries, e.mode != discovery.MonitorModeHostName)
	e.inFlight = reply
	r.mu.Unlock()

	go r.awaitProbe(e, reply)
}

func (r *Registry) awaitProbe(e *entry, reply *icmp.Reply) {
	<-reply.Done()
	_, _, pingErr := reply.Result()
	now := r.clk.Now()

	r.mu.Lock()
	if e.inFlight == reply {
		e.inFlight = nil
	}
	wasReachable := e.reachable
	switch {
	case pingErr == icmp.NoError:
		e.reachable = true
		e.lastSeen = now
	case now.Sub(e.lastSeen) > r.rediscoveryInterval:
		// Invariant: a failed ping only flips reachable false once the
		// monitor has been silent past the rediscovery window.
		e.reachable = false
	}
	changed := e.reachable != wasReachable
	thingID := e.thingID
	reachable := e.reachable
	r.mu.Unlock()

	if r.metrics != nil {
		outcome := "reply"
		if pingErr != icmp.NoError {
			outcome = pingErr.Error()
		}
		r.metrics.RecordPing("monitor", outcome, 0)
	}

	if changed && r.hub != nil {
		r.hub.EmitDeviceReachability(string(thingID), reachable)
		if r.metrics != nil {
			direction := "down"
			if reachable {
				direction = "up"
			}
			r.metrics.ReachabilityFlips.WithLabelValues(direction).Inc()
		}
	}
}

// ApplyDiscoveryResults refreshes every monitor whose cache entry
// changed in the most recent discovery run, per §4.4 "monitors whose
// cache entry changed receive the updated NetworkDeviceInfo"; their
// reachable/lastSeen fields are then reevaluated on the next tick rather
// than here.
func (r *Registry) ApplyDiscoveryResults(results []discovery.NetworkDeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		for _, info := range results {
			if entryMatchesInfo(e, info) {
				e.info = info
				e.hasInfo = true
				if info.Address != "" {
					e.address = info.Address
				}
				break
			}
		}
	}
}

// ScheduleEvaluation registers a periodic re-probe task with sched: each
// tick runs Evaluate() directly (per-monitor pings), and additionally
// kicks a background Discover() so ApplyDiscoveryResults has fresh data
// to reconcile against on the following tick.
func (r *Registry) ScheduleEvaluation(sched *scheduler.Scheduler, interval time.Duration) error {
	return sched.AddTask(&scheduler.Task{
		ID:       "discovery-monitor-evaluate",
		Name:     "Network device monitor re-probe",
		Schedule: scheduler.Every(interval),
		Enabled:  true,
		Func: func(ctx context.Context) error {
			r.Evaluate()
			if r.disc == nil {
				return nil
			}
			reply := r.disc.Discover(ctx)
			select {
			case <-reply.Done():
				r.ApplyDiscoveryResults(reply.Wait())
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
}
