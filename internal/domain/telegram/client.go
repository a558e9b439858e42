package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/telebot.v3"
)

// Client defines an interface for sending messages via a Telegram bot.
// This keeps reminder delivery independent from the bot library.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}

// ActionPrefix starts the unique id of every reminder action button. The
// full unique is ActionPrefix + outcome; the button payload is the ledger
// entry id.
const ActionPrefix = "act_"

// ActionUnique returns the callback unique for an outcome button.
func ActionUnique(outcome string) string {
	return ActionPrefix + outcome
}

// OutcomeFromUnique is the inverse of ActionUnique.
func OutcomeFromUnique(unique string) (string, bool) {
	if !strings.HasPrefix(unique, ActionPrefix) || len(unique) == len(ActionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(unique, ActionPrefix), true
}

// ParseChatID reads a chat id stored as a contact address.
func ParseChatID(address string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	return id, nil
}
