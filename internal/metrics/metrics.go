package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the counters for calls, chat and the relay. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	CallsStarted      *prometheus.CounterVec
	CallsEnded        *prometheus.CounterVec
	Teardowns         prometheus.Counter
	CandidatesQueued  *prometheus.CounterVec
	MediaFailures     *prometheus.CounterVec
	CallLogFailures   prometheus.Counter
	ChatEvents        *prometheus.CounterVec
	RelayEventsRouted *prometheus.CounterVec
	RelayPeers        prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,

		CallsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_calls_started_total",
			Help: "Calls entered, by local role",
		}, []string{"role"}), // "caller", "callee"

		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_calls_ended_total",
			Help: "Calls returned to idle, by reason",
		}, []string{"reason"}),

		Teardowns: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_call_teardowns_total",
			Help: "Session teardowns that released resources",
		}),

		CandidatesQueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_ice_candidates_queued_total",
			Help: "Remote ICE candidates held back until they could be applied",
		}, []string{"stage"}), // "no_link", "no_remote_description"

		MediaFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_media_failures_total",
			Help: "Media acquisition failures, by kind",
		}, []string{"kind"}),

		CallLogFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_call_log_failures_total",
			Help: "Call log entries the backend did not accept",
		}),

		ChatEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_chat_events_total",
			Help: "Live messaging events applied, by event",
		}, []string{"event"}),

		RelayEventsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_relay_events_routed_total",
			Help: "Events delivered by the relay, by delivered event name",
		}, []string{"event"}),

		RelayPeers: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_relay_peers",
			Help: "Peers currently connected to the relay",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) CallStarted(role string) {
	if r != nil {
		r.CallsStarted.WithLabelValues(role).Inc()
	}
}

func (r *Recorder) CallEnded(reason string) {
	if r != nil {
		r.CallsEnded.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) Teardown() {
	if r != nil {
		r.Teardowns.Inc()
	}
}

func (r *Recorder) CandidateQueued(stage string) {
	if r != nil {
		r.CandidatesQueued.WithLabelValues(stage).Inc()
	}
}

func (r *Recorder) MediaFailure(kind string) {
	if r != nil {
		r.MediaFailures.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) CallLogFailed() {
	if r != nil {
		r.CallLogFailures.Inc()
	}
}

func (r *Recorder) ChatEvent(event string) {
	if r != nil {
		r.ChatEvents.WithLabelValues(event).Inc()
	}
}

func (r *Recorder) RelayRouted(event string) {
	if r != nil {
		r.RelayEventsRouted.WithLabelValues(event).Inc()
	}
}

func (r *Recorder) RelayPeerDelta(delta float64) {
	if r != nil {
		r.RelayPeers.Add(delta)
	}
}
