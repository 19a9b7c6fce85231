package alerts

import (
	"context"

	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/ports/adapter"
)

var _ adapter.AlertNotifier = (*LogNotifier)(nil)

// LogNotifier writes alerts to the log. Used when no Telegram token is set.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := logger.With().Str("component", "alerts").Logger()
	return &LogNotifier{log: &l}
}

func (n *LogNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	ev := n.log.Warn()
	if a.Severity == adapter.SeverityCritical {
		ev = n.log.Error()
	}
	ev.Str("severity", string(a.Severity)).Fields(toFields(a.Fields)).Msg(a.Title)
	return nil
}

func toFields(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
