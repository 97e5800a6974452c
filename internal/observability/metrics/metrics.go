package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "climate_guard_"

	resultSuccess = "success"
	resultError   = "error"
	resultDropped = "dropped"
)

var (
	registerOnce sync.Once

	ingestEvents  *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec
	decodeErrors  *prometheus.CounterVec
	queueDepth    prometheus.Gauge

	alarmStatusUpdates *prometheus.CounterVec
	buzzerTransitions  *prometheus.CounterVec
	buzzerCASConflicts *prometheus.CounterVec
	buzzerActive       *prometheus.GaugeVec

	commandResults *prometheus.CounterVec
	commandLatency prometheus.Histogram
)

// Init registers metrics with reg, or the default registerer when nil.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ingestEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_events_total",
				Help: "Total webhook events by kind and result",
			},
			[]string{"kind", "result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Uplink pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		decodeErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_errors_total",
				Help: "Dropped uplinks by reason",
			},
			[]string{"reason"},
		)
		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ingest_queue_depth",
				Help: "Uplinks waiting in the internal queue",
			},
		)
		alarmStatusUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_status_updates_total",
				Help: "Per-device alarm status writes by signal and outcome",
			},
			[]string{"signal", "outcome"},
		)
		buzzerTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "buzzer_transitions_total",
				Help: "Fleet buzzer state transitions by signal and target state",
			},
			[]string{"signal", "state"},
		)
		buzzerCASConflicts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "buzzer_cas_conflicts_total",
				Help: "Lost compare-and-set races on fleet buzzer state",
			},
			[]string{"signal"},
		)
		buzzerActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "buzzer_active",
				Help: "1 when the fleet buzzer is believed active for the signal",
			},
			[]string{"signal"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Downlink commands by result",
			},
			[]string{"result"},
		)
		commandLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_latency_seconds",
				Help:    "Downlink enqueue latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		reg.MustRegister(
			ingestEvents,
			ingestLatency,
			decodeErrors,
			queueDepth,
			alarmStatusUpdates,
			buzzerTransitions,
			buzzerCASConflicts,
			buzzerActive,
			commandResults,
			commandLatency,
		)
	})
}

// IncIngestEvent counts a webhook event.
func IncIngestEvent(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestEvents != nil {
		ingestEvents.WithLabelValues(kind, result).Inc()
	}
}

// ObserveIngest records uplink pipeline duration.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncDecodeError counts a dropped uplink.
func IncDecodeError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(reason).Inc()
	}
}

// SetQueueDepth reports the internal queue length.
func SetQueueDepth(depth int) {
	if queueDepth != nil {
		queueDepth.Set(float64(depth))
	}
}

// IncAlarmStatusUpdate counts an alarm status upsert.
func IncAlarmStatusUpdate(signal, outcome string) {
	if alarmStatusUpdates != nil {
		alarmStatusUpdates.WithLabelValues(signal, outcome).Inc()
	}
}

// IncBuzzerTransition counts a persisted buzzer state change.
func IncBuzzerTransition(signal, state string) {
	if buzzerTransitions != nil {
		buzzerTransitions.WithLabelValues(signal, state).Inc()
	}
}

// IncBuzzerConflict counts a lost compare-and-set.
func IncBuzzerConflict(signal string) {
	if buzzerCASConflicts != nil {
		buzzerCASConflicts.WithLabelValues(signal).Inc()
	}
}

// SetBuzzerActive mirrors the believed actuator state.
func SetBuzzerActive(signal string, active bool) {
	if buzzerActive == nil {
		return
	}
	value := 0.0
	if active {
		value = 1
	}
	buzzerActive.WithLabelValues(signal).Set(value)
}

// ObserveCommand records a downlink submission.
func ObserveCommand(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if commandResults != nil {
		commandResults.WithLabelValues(result).Inc()
	}
	if commandLatency != nil {
		commandLatency.Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = resultDropped
)
