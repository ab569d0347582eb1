package credential

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusExpired = "expired"
)

var (
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "credential",
		Name:      "tokens_issued_total",
		Help:      "Total number of tokens issued.",
	})

	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "credential",
		Name:      "token_verifications_total",
		Help:      "Total number of token verifications by outcome.",
	}, []string{"status"})

	passwordChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "credential",
		Name:      "password_checks_total",
		Help:      "Total number of password checks by outcome.",
	}, []string{"status"})
)
