package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider call attempts, including retries.",
	}, []string{"provider", "op"})

	retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "provider",
		Name:      "retries_total",
		Help:      "Provider calls retried after a transient failure.",
	}, []string{"provider", "op"})

	rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "provider",
		Name:      "credential_rotations_total",
		Help:      "Credential rotations triggered by expired credentials.",
	}, []string{"provider"})
)
