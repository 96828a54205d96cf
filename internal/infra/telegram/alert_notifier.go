package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/config"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/infra/metrics"
)

var _ adapter.Notifier = (*AlertNotifier)(nil)

// sender is the slice of *tgbotapi.BotAPI we use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AlertNotifier posts operational alerts to the on-call admin chats.
type AlertNotifier struct {
	bot     sender
	chatIDs []int64
	log     *zerolog.Logger
}

// NewAlertNotifier connects to the Bot API with the configured token.
func NewAlertNotifier(cfg config.AlertsConfig, logger *zerolog.Logger) (*AlertNotifier, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram alert token is empty")
	}
	if len(cfg.AdminChatIDs) == 0 {
		return nil, errors.New("no admin chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	return newAlertNotifier(bot, cfg.AdminChatIDs, logger), nil
}

func newAlertNotifier(bot sender, chatIDs []int64, logger *zerolog.Logger) *AlertNotifier {
	l := logger.With().Str("component", "AlertNotifier").Logger()
	return &AlertNotifier{bot: bot, chatIDs: chatIDs, log: &l}
}

// Notify sends to every admin chat and returns the joined delivery errors.
func (n *AlertNotifier) Notify(ctx context.Context, subject, text string) error {
	body := fmt.Sprintf("⚠️ %s\n\n%s", strings.TrimSpace(subject), strings.TrimSpace(text))
	var errs []error
	for _, id := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, body)
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			metrics.IncAlert("error")
			n.log.Error().Err(err).Int64("chat_id", id).Str("subject", subject).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
			continue
		}
		metrics.IncAlert("sent")
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log. Used in dev and when no bot token is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := logger.With().Str("component", "LogNotifier").Logger()
	return &LogNotifier{log: &l}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, text string) error {
	n.log.Warn().Str("subject", subject).Str("text", text).Msg("operational alert")
	metrics.IncAlert("sent")
	return nil
}
