package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tagengine/internal/config"
	"tagengine/internal/task"
)

// TelegramNotifier pings an operator chat when a background task
// finishes or fails.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier creates a notifier, or (nil, nil) when the bot is
// disabled in config.
func NewTelegramNotifier(cfg *config.Config, logger *zap.Logger) (*TelegramNotifier, error) {
	if !cfg.Telegram.Enabled || cfg.Telegram.BotToken == "" {
		logger.Info("Telegram notifications are disabled (telegram.enabled=false or token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return &TelegramNotifier{
		api:    botAPI,
		chatID: cfg.Telegram.ChatID,
		logger: logger,
	}, nil
}

// TaskFinished formats and sends the completion message. Safe to call
// on a nil notifier.
func (n *TelegramNotifier) TaskFinished(snap task.Snapshot) {
	if n == nil {
		return
	}

	var text string
	if snap.Status == task.StatusFailed {
		text = fmt.Sprintf("❌ Task %q failed after %d/%d units: %s", snap.Name, snap.Progress, snap.Total, snap.Error)
	} else {
		text = fmt.Sprintf("✅ Task %q completed (%d/%d units)", snap.Name, snap.Progress, snap.Total)
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("Failed to send Telegram notification",
			zap.String("task_id", snap.ID),
			zap.Error(err))
	}
}
