// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/rewired-gh/pulsewatch/internal/render"
	"github.com/rewired-gh/pulsewatch/internal/retry"
)

// recentAlertsLimit is how many alerts /alerts lists.
const recentAlertsLimit = 10

// CommandHandler answers the bot's chat commands.
type CommandHandler interface {
	History() []models.Alert
	ToggleMute(ctx context.Context) bool
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot     *tgbotapi.BotAPI
	sender  sender
	chatID  int64
	retry   retry.Policy
	handler CommandHandler
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, policy retry.Policy) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return &Client{
		bot:    bot,
		sender: bot,
		chatID: chatIDInt,
		retry:  policy,
	}, nil
}

// SetHandler attaches the command handler used by ListenForCommands.
func (c *Client) SetHandler(h CommandHandler) {
	c.handler = h
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	text, ok := c.reply(ctx, msg.Command())
	if !ok {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := c.sender.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// reply builds the MarkdownV2 answer to a command.
func (c *Client) reply(ctx context.Context, command string) (string, bool) {
	switch command {
	case "ping":
		return "Pong", true
	case "alerts":
		if c.handler == nil {
			return "", false
		}
		return formatRecent(c.handler.History(), recentAlertsLimit), true
	case "mute":
		if c.handler == nil {
			return "", false
		}
		if c.handler.ToggleMute(ctx) {
			return "🔇 Alert sound muted", true
		}
		return "🔔 Alert sound unmuted", true
	}
	return "", false
}

// sendMarkdownV2 sends a MarkdownV2 message under the retry policy.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	return c.retry.Do(ctx, "telegram send", func(context.Context) error {
		_, err := c.sender.Send(msg)
		return err
	})
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// SendAlerts sends one message listing the new alerts.
func (c *Client) SendAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.sendMarkdownV2(ctx, formatAlerts(alerts))
}

func categoryEmoji(cat models.Category) string {
	switch cat {
	case models.CategoryNewHigh:
		return "🚀"
	case models.CategoryVolumeSpike:
		return "📊"
	default:
		return "📈"
	}
}

// formatAlerts formats a batch of alerts into a Telegram MarkdownV2 message.
func formatAlerts(alerts []models.Alert) string {
	var b strings.Builder
	b.WriteString("🚨 *Market Alerts*\n\n")
	dateStr := escapeMarkdownV2(alerts[0].Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "📅 Detected: %s\n\n", dateStr)

	for i, a := range alerts {
		fmt.Fprintf(&b, "%d\\. %s *%s* %s\n", i+1,
			categoryEmoji(a.Category),
			escapeMarkdownV2(a.Symbol),
			escapeMarkdownV2(render.CategoryLabel(a.Category)))
		fmt.Fprintf(&b, "   %s  5m %s  vol %s\n",
			escapeMarkdownV2(render.FormatCurrency(a.Price)),
			escapeMarkdownV2(render.FormatPercent(a.PriceChange5m)),
			escapeMarkdownV2(render.FormatRatio(a.VolumeRatio)))
		if a.Category == models.CategoryVolumeSpike {
			fmt.Fprintf(&b, "   rel vol %s  spike %s\n",
				escapeMarkdownV2(render.FormatRatio(a.RelativeVolume)),
				escapeMarkdownV2(render.FormatRatio(a.SpikeFactor)))
		}
	}
	return b.String()
}

// formatRecent answers /alerts with the newest alerts.
func formatRecent(history []models.Alert, limit int) string {
	if len(history) == 0 {
		return "No alerts in the last 24 hours"
	}
	if len(history) > limit {
		history = history[:limit]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Latest %d alerts*\n", len(history))
	for _, a := range history {
		fmt.Fprintf(&b, "%s %s *%s* %s\n",
			escapeMarkdownV2(a.Timestamp.UTC().Format("15:04")),
			categoryEmoji(a.Category),
			escapeMarkdownV2(a.Symbol),
			escapeMarkdownV2(render.FormatCurrency(a.Price)))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
