package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"service"},
	)

	FramesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_delivered_total",
			Help: "Outbound frames delivered to live connections",
		},
		[]string{"service", "type"},
	)

	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_dropped_total",
			Help: "Inbound frames dropped as malformed or invalid",
		},
		[]string{"service", "reason"},
	)

	BrokerPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_failures_total",
			Help: "Broker publishes that failed after live delivery; these messages need manual reconciliation",
		},
		[]string{"service"},
	)

	BatchFlushSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_flush_size",
			Help:    "Number of messages per bulk insert",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"service"},
	)

	BatchFlushFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_flush_failures_total",
			Help: "Bulk insert attempts that failed and were re-queued",
		},
		[]string{"service"},
	)

	BatchBufferLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batch_buffer_length",
			Help: "Messages currently buffered awaiting a flush",
		},
		[]string{"service"},
	)
)
