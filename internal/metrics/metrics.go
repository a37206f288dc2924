// Package metrics holds the prometheus collectors shared by the client
// services.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_events_verified_total",
			Help: "Number of envelopes verified, by result",
		},
		[]string{"result"},
	)
	keyExchangeTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_keyexchange_tasks_total",
			Help: "Number of key exchange items processed, by queue",
		},
		[]string{"queue"},
	)
	decryptionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_decryption_failures_total",
			Help: "Number of failed decryptions, by reason",
		},
		[]string{"reason"},
	)
	decrypted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_decrypted_total",
			Help: "Number of encrypted items decrypted",
		},
	)
	sessionsImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_group_sessions_imported_total",
			Help: "Number of group sessions imported from the inbox",
		},
	)
	solicitationsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_key_solicitations_sent_total",
			Help: "Number of key solicitations sent",
		},
	)
	fulfillmentsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strand_key_fulfillments_sent_total",
			Help: "Number of key fulfillments sent",
		},
	)
	syncRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_sync_rounds_total",
			Help: "Number of sync rounds, by result",
		},
		[]string{"result"},
	)
	syncResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_sync_responses_total",
			Help: "Number of sync responses received, by op",
		},
		[]string{"op"},
	)
	eventsPosted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strand_events_posted_total",
			Help: "Number of events posted to a node, by payload case",
		},
		[]string{"case"},
	)
	trackedStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strand_tracked_streams",
			Help: "Number of streams covered by the sync subscription",
		},
	)
)

var collectors = []prometheus.Collector{
	eventsVerified,
	keyExchangeTasks,
	decryptionFailures,
	decrypted,
	sessionsImported,
	solicitationsSent,
	fulfillmentsSent,
	syncRounds,
	syncResponses,
	eventsPosted,
	trackedStreams,
}

// Register registers every collector with reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func EventVerified(ok bool) {
	if ok {
		eventsVerified.WithLabelValues("ok").Inc()
		return
	}
	eventsVerified.WithLabelValues("rejected").Inc()
}

func KeyExchangeTask(queue string) {
	keyExchangeTasks.WithLabelValues(queue).Inc()
}

func DecryptionFailure(reason string) {
	decryptionFailures.WithLabelValues(reason).Inc()
}

func Decrypted() {
	decrypted.Inc()
}

func SessionsImported(n int) {
	sessionsImported.Add(float64(n))
}

func SolicitationSent() {
	solicitationsSent.Inc()
}

func FulfillmentSent() {
	fulfillmentsSent.Inc()
}

func SyncRound(ok bool) {
	if ok {
		syncRounds.WithLabelValues("ok").Inc()
		return
	}
	syncRounds.WithLabelValues("failed").Inc()
}

func SyncResponse(op string) {
	syncResponses.WithLabelValues(op).Inc()
}

func EventPosted(c string) {
	eventsPosted.WithLabelValues(c).Inc()
}

func TrackedStreams(n int) {
	trackedStreams.Set(float64(n))
}
