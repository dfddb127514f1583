package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rtpPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "rtp",
		Name:      "packets_total",
		Help:      "RTP packets parsed",
	}, []string{"input"})

	rtpLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "rtp",
		Name:      "lost_packets_total",
		Help:      "RTP packets missing from the sequence",
	}, []string{"input"})

	rtcpBye = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "rtcp",
		Name:      "bye_total",
		Help:      "RTCP BYE packets received",
	}, []string{"input"})

	rtcpSenderReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "rtcp",
		Name:      "sender_reports_total",
		Help:      "RTCP sender reports received",
	}, []string{"input"})

	jitterOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "ingest",
		Name:      "jitterbuffer_overflows_total",
		Help:      "Jitter buffer overflows while waiting for missing packets",
	}, []string{"input"})
)

// AddRTPPackets counts parsed RTP packets for an input.
func AddRTPPackets(input string, n int) {
	rtpPackets.WithLabelValues(input).Add(float64(n))
}

// AddRTPLost counts RTP packets lost on an input.
func AddRTPLost(input string, n int) {
	rtpLost.WithLabelValues(input).Add(float64(n))
}

// IncRTCPBye counts an RTCP BYE.
func IncRTCPBye(input string) {
	rtcpBye.WithLabelValues(input).Inc()
}

// IncRTCPSenderReport counts an RTCP sender report.
func IncRTCPSenderReport(input string) {
	rtcpSenderReports.WithLabelValues(input).Inc()
}

// IncJitterBufferOverflow counts a jitter buffer overflow.
func IncJitterBufferOverflow(input string) {
	jitterOverflows.WithLabelValues(input).Inc()
}

// DeleteInputMetrics removes all per-input series.
func DeleteInputMetrics(input string) {
	rtpPackets.DeleteLabelValues(input)
	rtpLost.DeleteLabelValues(input)
	rtcpBye.DeleteLabelValues(input)
	rtcpSenderReports.DeleteLabelValues(input)
	jitterOverflows.DeleteLabelValues(input)
}
