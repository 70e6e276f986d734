// Package metrics exposes Prometheus instrumentation for the rule engine
// and the network device discovery subsystem.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every metric this daemon exports.
type Registry struct {
	// Rule engine
	RuleEvaluations  *prometheus.CounterVec
	RuleActionsRun   *prometheus.CounterVec
	RulesActive      prometheus.Gauge
	RuleEvalDuration *prometheus.HistogramVec

	// Discovery coordinator
	DiscoveryRuns       *prometheus.CounterVec
	DiscoveryDuration   prometheus.Histogram
	DiscoveryDevices    prometheus.Gauge
	DiscoveryInFlight   prometheus.Gauge

	// ICMP ping engine
	PingsSent     *prometheus.CounterVec
	PingsReceived *prometheus.CounterVec
	PingRTT       *prometheus.HistogramVec

	// Monitor registry
	MonitoredThings prometheus.Gauge
	ReachabilityFlips *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nymead_rule_evaluations_total",
		Help: "Total rule evaluations, by trigger (event, time, state) and outcome",
	}, []string{"trigger", "matched"})

	r.RuleActionsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nymead_rule_actions_total",
		Help: "Total actions dispatched by the rule engine",
	}, []string{"rule_id", "kind"})

	r.RulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nymead_rules_active",
		Help: "Number of currently enabled rules",
	})

	r.RuleEvalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nymead_rule_eval_duration_seconds",
		Help:    "Time spent evaluating a single trigger across all rules",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})

	r.DiscoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nymead_discovery_runs_total",
		Help: "Total discovery runs, by outcome",
	}, []string{"outcome"})

	r.DiscoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nymead_discovery_duration_seconds",
		Help:    "Duration of a completed discovery run",
		Buckets: prometheus.DefBuckets,
	})

	r.DiscoveryDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nymead_discovery_devices",
		Help: "Number of devices in the discovery cache",
	})

	r.DiscoveryInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nymead_discovery_in_flight",
		Help: "1 while a discovery run is in progress, else 0",
	})

	r.PingsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nymead_icmp_pings_sent_total",
		Help: "Total ICMP echo requests sent",
	}, []string{"interface"})

	r.PingsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nymead_icmp_pings_received_total",
		Help: "Total ICMP replies received, by outcome",
	}, []string{"outcome"})

	r.PingRTT = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nymead_icmp_rtt_seconds",
		Help:    "Round-trip time of successful ICMP echo replies",
		Buckets: prometheus.DefBuckets,
	}, []string{"interface"})

	r.MonitoredThings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nymead_monitored_things",
		Help: "Number of things registered with the network device monitor",
	})

	r.ReachabilityFlips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nymead_reachability_flips_total",
		Help: "Total reachability transitions observed by monitors",
	}, []string{"direction"})

	return r
}

// RecordRuleEvaluation records one trigger evaluation across all rules.
func (r *Registry) RecordRuleEvaluation(trigger string, matched bool, duration float64) {
	r.RuleEvaluations.WithLabelValues(trigger, boolString(matched)).Inc()
	r.RuleEvalDuration.WithLabelValues(trigger).Observe(duration)
}

// RecordDiscoveryRun records a completed discovery run.
func (r *Registry) RecordDiscoveryRun(outcome string, duration float64, deviceCount int) {
	r.DiscoveryRuns.WithLabelValues(outcome).Inc()
	r.DiscoveryDuration.Observe(duration)
	r.DiscoveryDevices.Set(float64(deviceCount))
}

// RecordPing records the outcome of one ICMP echo request/reply cycle.
func (r *Registry) RecordPing(iface, outcome string, rtt float64) {
	r.PingsSent.WithLabelValues(iface).Inc()
	r.PingsReceived.WithLabelValues(outcome).Inc()
	if outcome == "reply" {
		r.PingRTT.WithLabelValues(iface).Observe(rtt)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
