// Package notify sends new-offer alerts after an ingestion run.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// Telegram caps message bodies at 4096 characters.
const maxMessageLen = 4096

// Sender is the subset of tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts one digest per run to a single chat.
type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram authenticates the bot token against the Telegram API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	slog.Info("telegram notifier ready", "bot", api.Self.UserName, "chat_id", chatID)
	return NewTelegramWithSender(api, chatID), nil
}

func NewTelegramWithSender(s Sender, chatID int64) *Telegram {
	return &Telegram{sender: s, chatID: chatID}
}

// NotifyNewOffers sends the offers as an HTML digest, split across as many
// messages as the length limit requires.
func (t *Telegram) NotifyNewOffers(ctx context.Context, run *models.IngestionRun, offers []*models.Offer) error {
	if len(offers) == 0 {
		return nil
	}
	for i, body := range FormatDigest(run, offers) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, body)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := t.sender.Send(msg); err != nil {
			return fmt.Errorf("send telegram message %d: %w", i+1, err)
		}
	}
	return nil
}

// FormatDigest renders the header and one block per offer, packing blocks
// into messages no longer than the Telegram limit.
func FormatDigest(run *models.IngestionRun, offers []*models.Offer) []string {
	header := fmt.Sprintf("<b>%d new offer(s) at target companies</b>\n", len(offers))
	if run != nil {
		header += fmt.Sprintf("<i>run %s, %d fetched</i>\n", run.ID.String()[:8], run.Fetched())
	}

	var (
		messages []string
		b        strings.Builder
	)
	b.WriteString(header)
	for _, o := range offers {
		block := formatOffer(o)
		if b.Len()+len(block) > maxMessageLen {
			messages = append(messages, b.String())
			b.Reset()
		}
		b.WriteString(block)
	}
	return append(messages, b.String())
}

func formatOffer(o *models.Offer) string {
	var b strings.Builder
	b.WriteString("\n<b>")
	b.WriteString(html.EscapeString(truncate(o.Title, 200)))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(o.Company))
	if o.Location != "" {
		b.WriteString(" · ")
		b.WriteString(html.EscapeString(o.Location))
	}
	fmt.Fprintf(&b, "\nscore %.0f · %s\n", o.Score, o.ContractType)
	if o.SourceURL != "" {
		fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n", html.EscapeString(o.SourceURL), html.EscapeString(string(o.Source)))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
