package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		enrollmentsProvisionedTotal,
		deviceDecisionsTotal,
	)
}

var (
	enrollmentsProvisionedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollments_provisioned_total",
			Help: "Provisioning calls by path and whether a new enrollment was created.",
		},
		[]string{"path", "created"}, // path: direct|fallback|webhook|reconciler
	)

	deviceDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_device_decisions_total",
			Help: "Device access gate decisions by reason.",
		},
		[]string{"reason"},
	)
)

func IncProvisioned(path string, created bool) {
	c := "false"
	if created {
		c = "true"
	}
	enrollmentsProvisionedTotal.WithLabelValues(norm(path), c).Inc()
}

func IncDeviceDecision(reason string) {
	deviceDecisionsTotal.WithLabelValues(norm(reason)).Inc()
}
