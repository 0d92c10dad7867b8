package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_offers_total",
		Help: "Total number of offers handled",
	}, []string{"result"}) // "accepted" | "rejected"

	LeavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_leaves_total",
		Help: "Total number of leave requests",
	})

	InvalidRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_invalid_signaling_requests_total",
		Help: "Total number of signaling requests of a response-only kind",
	})

	UndeliveredRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_undelivered_replies_total",
		Help: "Total number of signaling replies whose requester was gone",
	})

	// Sessions and Candidates are per media port.
	Sessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_sessions",
		Help: "Number of sessions",
	}, []string{"port"})

	Candidates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sfu_candidates",
		Help: "Number of registered candidates",
	}, []string{"port"})

	DatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_datagrams_total",
		Help: "Total number of inbound datagrams by class",
	}, []string{"class"}) // "stun" | "dtls" | "rtp" | "unknown"

	BindingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfu_stun_binding_requests_total",
		Help: "Total number of STUN binding requests",
	}, []string{"result"}) // "matched" | "unmatched"

	SignalingRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfu_signaling_rate_limited_total",
		Help: "Total number of offers refused by the rate limiter",
	})
)
