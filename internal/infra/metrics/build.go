package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

// buildInfo is always 1; the labels identify the running enrollmentd binary.
var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "enrollmentd_build_info",
		Help: "Version and commit of the running enrollment service.",
	},
	[]string{"version", "commit"},
)

func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit).Set(1)
}
