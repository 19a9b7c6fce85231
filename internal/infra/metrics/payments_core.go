package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		refundsTotal,
		ledgerAnomaliesTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Ledger transitions by resulting status and source.",
		},
		[]string{"status", "source"}, // status: pending|success|failed|cancelled
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_minor_total",
			Help: "Captured amount in minor units, labeled by currency and share.",
		},
		[]string{"currency", "share"}, // share: guru|platform
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Refund attempts by result (full|partial|rejected|gateway_error).",
		},
		[]string{"result"},
	)

	ledgerAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_ledger_anomalies_total",
			Help: "Events that need an operator: late captures, id and amount mismatches.",
		},
		[]string{"kind"},
	)
)

func IncPayment(status, source string) {
	paymentsTotal.WithLabelValues(norm(status), norm(source)).Inc()
}

func AddPaymentRevenue(currency string, guruShare, platformShare int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency), "guru").Add(float64(guruShare))
	paymentsRevenueTotal.WithLabelValues(norm(currency), "platform").Add(float64(platformShare))
}

func IncRefund(result string) {
	refundsTotal.WithLabelValues(norm(result)).Inc()
}

func IncLedgerAnomaly(kind string) {
	ledgerAnomaliesTotal.WithLabelValues(norm(kind)).Inc()
}
