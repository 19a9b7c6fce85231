package adapter

import "context"

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is an operator notification about a payment anomaly, such as a
// capture on a failed order or an enrollment that could not be provisioned.
type Alert struct {
	Severity AlertSeverity
	Title    string
	Fields   map[string]string
}

type AlertNotifier interface {
	Notify(ctx context.Context, a Alert) error
}
