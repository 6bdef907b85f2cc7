// Package metrics exposes the engine's health as Prometheus gauges and
// counters, served over plain net/http the way cmd/root.go's
// startHTTPServer hands promhttp.Handler() to the stdlib mux rather than
// folding metrics into the gRPC server itself.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TipHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvheaders",
		Name:      "tip_height",
		Help:      "Height of the highest validated, stored header.",
	})

	HeadersValidatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spvheaders",
		Name:      "headers_validated_total",
		Help:      "Total number of headers that passed consensus validation and were committed.",
	})

	HeadersRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvheaders",
		Name:      "headers_rejected_total",
		Help:      "Total number of headers rejected, by reason.",
	}, []string{"reason"})

	ReorgsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spvheaders",
		Name:      "reorgs_total",
		Help:      "Total number of commits that overwrote a previously-stored header.",
	})

	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvheaders",
		Name:      "peers_active",
		Help:      "Number of peers currently registered with the multiplexer.",
	})

	PeersFlagged = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spvheaders",
		Name:      "peers_flagged",
		Help:      "Number of registered peers currently in cooldown after a failed extension.",
	})
)

func init() {
	prometheus.MustRegister(TipHeight, HeadersValidatedTotal, HeadersRejectedTotal, ReorgsTotal, PeersActive, PeersFlagged)
}
