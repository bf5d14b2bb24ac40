package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pktfwd"

	ReasonLabel = "reason"
	CRCLabel    = "crc"
	SourceLabel = "source"
)

var (
	RxFrameCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rx_frames_total",
			Help:      "The total number of frames received by the radio",
		},
		[]string{CRCLabel},
	)

	RxDroppedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rx_ring_overwritten_total",
			Help:      "The total number of frames lost because the receive ring was full",
		},
	)

	UpForwardedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "up_forwarded_total",
			Help:      "The total number of frames forwarded in PUSH_DATA",
		},
	)

	UpAckCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "up_ack_total",
			Help:      "The total number of PUSH_ACK received",
		},
	)

	PullSentCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_data_sent_total",
			Help:      "The total number of PULL_DATA sent",
		},
	)

	PullAckCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_ack_total",
			Help:      "The total number of PULL_ACK received",
		},
	)

	TxRequestedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_requested_total",
			Help:      "The total number of downlink requests by source",
		},
		[]string{SourceLabel},
	)

	TxRejectedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_rejected_total",
			Help:      "The total number of downlinks rejected at admission",
		},
		[]string{ReasonLabel},
	)

	TxSentCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_sent_total",
			Help:      "The total number of downlinks transmitted",
		},
	)

	TxFailedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_failed_total",
			Help:      "The total number of failed transmissions",
		},
	)

	JitQueueGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jit_queue_length",
			Help:      "The number of downlinks waiting in the JIT queue",
		},
	)

	SocketReopenCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_reopen_total",
			Help:      "The total number of times the server sockets were re-opened",
		},
	)
)
