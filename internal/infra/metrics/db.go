package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pgPoolConns) }

var pgPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ledger_db_pool_connections",
		Help: "Connections in the ledger Postgres pool by state.",
	},
	[]string{"state"}, // total | idle | in_use
)

// SetDBPoolStats is fed by the periodic pgxpool.Stat reporter.
func SetDBPoolStats(total, idle, inUse int32) {
	pgPoolConns.WithLabelValues("total").Set(float64(total))
	pgPoolConns.WithLabelValues("idle").Set(float64(idle))
	pgPoolConns.WithLabelValues("in_use").Set(float64(inUse))
}
