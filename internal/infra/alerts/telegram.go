package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/infra/worker"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ adapter.AlertNotifier = (*TelegramNotifier)(nil)

// TelegramNotifier posts operator alerts to one chat through the worker pool,
// so Notify never blocks a payment path on the Telegram API.
type TelegramNotifier struct {
	bot    sender
	chatID int64
	pool   *worker.Pool
	log    *zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, pool *worker.Pool, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, chatID, pool, logger), nil
}

func newTelegramNotifier(bot sender, chatID int64, pool *worker.Pool, logger *zerolog.Logger) *TelegramNotifier {
	l := logger.With().Str("component", "alerts").Logger()
	return &TelegramNotifier{bot: bot, chatID: chatID, pool: pool, log: &l}
}

func (n *TelegramNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	text := Format(a)
	err := n.pool.Submit(func(ctx context.Context) error {
		msg := tgbotapi.NewMessage(n.chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			return fmt.Errorf("send alert %q: %w", a.Title, err)
		}
		return nil
	})
	if err != nil {
		n.log.Warn().Err(err).Str("title", a.Title).Msg("alert dropped")
	}
	return err
}

// Format renders an alert as plain text with fields in a stable order.
func Format(a adapter.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}
