// internal/service/payment/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_requests_total",
		Help: "Outbound requests to the mobile money gateway by operation and outcome.",
	}, []string{"op", "outcome"})

	initiationRacesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_initiation_races_lost_total",
		Help: "Initiate calls that lost the conditional-update race and returned the winner's state.",
	})

	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliations_total",
		Help: "Reconciliation attempts by trigger source and result.",
	}, []string{"source", "result"})
)
