package domain

import (
	"strings"
	"time"
)

// TelegramChannel is a Telegram channel registered for publishing.
type TelegramChannel struct {
	ID          int64     `json:"id"`
	Token       string    `json:"-"`
	ChannelName string    `json:"channel_name"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// MaskedToken returns the bot token with everything but the bot id hidden.
func (c *TelegramChannel) MaskedToken() string {
	if c.Token == "" {
		return ""
	}
	botID, _, found := strings.Cut(c.Token, ":")
	if !found {
		return "***"
	}
	return botID + ":***"
}
