// Package obsv provides Prometheus metrics instrumentation for the
// Constellation core: CHIRP discovery, CSCP dispatch, FSM transitions,
// CHP heartbeats/watchdog, CDTP transmission, and CMDP distribution.
package obsv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// CHIRP METRICS
// =============================================================================

var (
	chirpDatagramsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_chirp_datagrams_sent_total",
			Help: "Total number of CHIRP datagrams broadcast",
		},
		[]string{"type"}, // REQUEST, OFFER, DEPART
	)

	chirpDatagramsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_chirp_datagrams_dropped_total",
			Help: "Total number of CHIRP datagrams dropped as malformed or out of group",
		},
		[]string{"reason"},
	)

	chirpServicesDiscovered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "constellation_chirp_services_discovered",
			Help: "Number of currently discovered CHIRP services",
		},
		[]string{"service"},
	)
)

// RecordChirpSent records a broadcast CHIRP datagram.
func RecordChirpSent(msgType string) { chirpDatagramsSentTotal.WithLabelValues(msgType).Inc() }

// RecordChirpDropped records a dropped/malformed inbound CHIRP datagram.
func RecordChirpDropped(reason string) { chirpDatagramsDroppedTotal.WithLabelValues(reason).Inc() }

// SetChirpServicesDiscovered sets the discovered-service gauge for one service identifier.
func SetChirpServicesDiscovered(service string, n int) {
	chirpServicesDiscovered.WithLabelValues(service).Set(float64(n))
}

// =============================================================================
// CSCP METRICS
// =============================================================================

var (
	cscpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_cscp_requests_total",
			Help: "Total CSCP requests dispatched, by reply type",
		},
		[]string{"verb", "reply_type"},
	)

	cscpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "constellation_cscp_request_duration_seconds",
			Help:    "CSCP request handling duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"verb"},
	)
)

// RecordCSCPRequest records one dispatched CSCP request.
func RecordCSCPRequest(verb, replyType string, durationSeconds float64) {
	cscpRequestsTotal.WithLabelValues(verb, replyType).Inc()
	cscpRequestDurationSeconds.WithLabelValues(verb).Observe(durationSeconds)
}

// =============================================================================
// FSM METRICS
// =============================================================================

var (
	fsmTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_fsm_transitions_total",
			Help: "Total FSM state transitions, by resulting state",
		},
		[]string{"state"},
	)

	fsmFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "constellation_fsm_failures_total",
			Help: "Total number of FSM transitions into the ERROR state",
		},
	)
)

// RecordFSMTransition records entry into a new FSM state.
func RecordFSMTransition(state string) { fsmTransitionsTotal.WithLabelValues(state).Inc() }

// RecordFSMFailure records a failure transition into ERROR.
func RecordFSMFailure() { fsmFailuresTotal.Inc() }

// =============================================================================
// CHP METRICS
// =============================================================================

var (
	chpHeartbeatsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "constellation_chp_heartbeats_sent_total",
			Help: "Total CHP heartbeats broadcast by this process's sender",
		},
	)

	chpHeartbeatsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_chp_heartbeats_received_total",
			Help: "Total CHP heartbeats received from remote peers",
		},
		[]string{"sender"},
	)

	chpWatchdogInterruptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_chp_watchdog_interrupts_total",
			Help: "Total interrupts fired by the heartbeat watchdog",
		},
		[]string{"sender", "reason"}, // reason: "heartbeat timeout", "remote reported ERROR" or "remote reported SAFE"
	)
)

// RecordChpSent records an emitted heartbeat (including extrasystoles).
func RecordChpSent() { chpHeartbeatsSentTotal.Inc() }

// RecordChpReceived records an inbound heartbeat from a peer.
func RecordChpReceived(sender string) { chpHeartbeatsReceivedTotal.WithLabelValues(sender).Inc() }

// RecordChpWatchdogInterrupt records the watchdog firing its interrupt callback.
func RecordChpWatchdogInterrupt(sender, reason string) {
	chpWatchdogInterruptsTotal.WithLabelValues(sender, reason).Inc()
}

// =============================================================================
// CDTP METRICS
// =============================================================================

var (
	cdtpMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_cdtp_messages_total",
			Help: "Total CDTP messages sent or received, by type",
		},
		[]string{"direction", "type"}, // direction: sent, received; type: BOR, DATA, EOR
	)

	cdtpBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_cdtp_bytes_total",
			Help: "Total CDTP payload bytes sent or received",
		},
		[]string{"direction"},
	)
)

// RecordCDTPMessage records one CDTP message with its encoded payload size.
func RecordCDTPMessage(direction, msgType string, payloadBytes int) {
	cdtpMessagesTotal.WithLabelValues(direction, msgType).Inc()
	cdtpBytesTotal.WithLabelValues(direction).Add(float64(payloadBytes))
}

// =============================================================================
// CMDP METRICS
// =============================================================================

var (
	cmdpRecordsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_cmdp_records_published_total",
			Help: "Total log/metric records published on CMDP, by topic prefix",
		},
		[]string{"kind"}, // LOG, STAT
	)

	cmdpSubscriptionChurnTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_cmdp_subscription_churn_total",
			Help: "Total subscribe/unsubscribe events observed on the CMDP publisher",
		},
		[]string{"action"}, // subscribe, unsubscribe
	)
)

// RecordCMDPPublished records one published CMDP record.
func RecordCMDPPublished(kind string) { cmdpRecordsPublishedTotal.WithLabelValues(kind).Inc() }

// RecordCMDPSubscriptionChurn records a subscribe/unsubscribe frame.
func RecordCMDPSubscriptionChurn(action string) {
	cmdpSubscriptionChurnTotal.WithLabelValues(action).Inc()
}
