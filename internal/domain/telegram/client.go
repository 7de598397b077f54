package telegram

import "gopkg.in/telebot.v3"

// MaxMessageLength is the longest text Telegram accepts in one message, in runes.
const MaxMessageLength = 4096

const truncationMark = "\n…"

// Client sends text to an admin chat. Alerting code depends on this instead of *telebot.Bot.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// Truncate cuts text so that it fits into a single message, marking the cut.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxMessageLength {
		return text
	}
	keep := MaxMessageLength - len([]rune(truncationMark))
	return string(runes[:keep]) + truncationMark
}
