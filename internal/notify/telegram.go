// Package notify announces newly ingested releases to chat channels.
package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/service/releases"
)

const (
	maxMessageSize = 4000
	sendAttempts   = 3
)

// messageSender is the part of *tgbotapi.BotAPI the notifier uses.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot    messageSender
	chatID int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTelegram logs the bot in; it calls getMe on the Bot API.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newTelegram(bot, cfg.ChatID), nil
}

func newTelegram(bot messageSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, sleep: sleepCtx}
}

func (t *Telegram) ReleaseIngested(ctx context.Context, release domain.Release) error {
	return t.SendHTML(ctx, FormatRelease(release))
}

// SendHTML posts text in chunks that fit the Bot API limit, retrying
// transient failures with a linear backoff.
func (t *Telegram) SendHTML(ctx context.Context, text string) error {
	for _, chunk := range chunkHTML(text, maxMessageSize) {
		msg := tgbotapi.NewMessage(t.chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		var lastErr error
		for attempt := 0; attempt < sendAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := t.send(ctx, msg)
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
			if isPermanentError(err) {
				return fmt.Errorf("permanent telegram error: %w", err)
			}
			if attempt < sendAttempts-1 {
				if err := t.sleep(ctx, time.Duration(500*(attempt+1))*time.Millisecond); err != nil {
					return err
				}
			}
		}
		if lastErr != nil {
			return fmt.Errorf("send telegram message after %d attempts: %w", sendAttempts, lastErr)
		}
	}
	return nil
}

// send gives up when ctx ends. The Bot API client takes no context, so the
// call itself is left to finish under the HTTP client timeout.
func (t *Telegram) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatRelease renders the announcement with notes grouped the same way
// the changelog groups them.
func FormatRelease(release domain.Release) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> released version <code>%s</code>\n",
		html.EscapeString(release.Program), html.EscapeString(release.Version))
	for _, group := range releases.GroupNotes(release.ReleaseNotes) {
		fmt.Fprintf(&b, "\n<b>%s</b>\n", html.EscapeString(group.Type))
		for _, change := range group.Changes {
			fmt.Fprintf(&b, "• %s\n", html.EscapeString(change))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// chunkHTML splits text at a newline or space in the second half of each
// window. Without one it cuts at the last rune boundary that is not inside
// an entity or a tag.
func chunkHTML(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > maxSize {
		cut := breakPoint(remaining, maxSize)
		chunks = append(chunks, remaining[:cut])
		remaining = strings.TrimLeft(remaining[cut:], "\n ")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func breakPoint(text string, maxSize int) int {
	window := text[:maxSize]
	if i := strings.LastIndexByte(window, '\n'); i > maxSize/2 {
		return i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > maxSize/2 {
		return i + 1
	}

	cut := maxSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if i := unclosed(text[:cut], '&', ';'); i > 0 {
		cut = i
	}
	if i := unclosed(text[:cut], '<', '>'); i > 0 {
		cut = i
	}
	if cut == 0 {
		// A single rune wider than maxSize.
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return cut
}

// unclosed returns the index of the last opening byte in s that has no
// closing byte after it, or -1.
func unclosed(s string, opening, closing byte) int {
	i := strings.LastIndexByte(s, opening)
	if i < 0 || strings.IndexByte(s[i:], closing) >= 0 {
		return -1
	}
	return i
}

var permanentErrors = []string{
	"chat not found",
	"bot was blocked by the user",
	"user is deactivated",
	"message is too long",
	"can't parse entities",
	"forbidden",
	"unauthorized",
}

func isPermanentError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range permanentErrors {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
