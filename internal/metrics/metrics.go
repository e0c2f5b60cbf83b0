// Package metrics holds the prometheus collectors of the media server.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sfu"

var (
	MediaWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "media_workers",
		Help:      "Number of running media transport workers",
	})

	DatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datagrams_received_total",
		Help:      "UDP datagrams read by a media worker",
	}, []string{"port"})

	DatagramsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datagrams_sent_total",
		Help:      "UDP datagrams written by a media worker",
	}, []string{"port"})

	SendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_errors_total",
		Help:      "UDP sends that failed",
	}, []string{"port"})

	Endpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "endpoints",
		Help:      "Endpoints currently held by a media worker",
	}, []string{"port"})

	SignalingProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signaling_processed_total",
		Help:      "Signaling envelopes applied by a media worker",
	}, []string{"port", "kind"})

	SignalingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signaling_requests_total",
		Help:      "Signaling requests dispatched through the bridge",
	}, []string{"kind", "result"})

	SignalingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "signaling_duration_seconds",
		Help:      "Round trip time of a signaling request through a media worker",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"kind"})

	PipelineFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_faults_total",
		Help:      "Session scoped faults caught by the pipeline exception stage",
	}, []string{"stage"})
)

// Port formats a media port as a label value.
func Port(p uint16) string {
	return strconv.FormatUint(uint64(p), 10)
}
