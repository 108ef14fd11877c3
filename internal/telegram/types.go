package telegram

import (
	"fmt"
	"strings"
	"time"

	relayerrors "github.com/accessrelay/accessrelay/internal/errors"
)

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Command returns the bot command at the start of the message text, without
// the leading slash or an @botname suffix, or "" if there is none.
func (m *Message) Command() string {
	if m == nil || !strings.HasPrefix(m.Text, "/") {
		return ""
	}
	cmd := strings.Fields(m.Text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

// Update is a single webhook delivery from the Bot API.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// ChatInviteLink is the result of createChatInviteLink.
type ChatInviteLink struct {
	InviteLink  string `json:"invite_link"`
	Name        string `json:"name,omitempty"`
	MemberLimit int    `json:"member_limit,omitempty"`
	ExpireDate  int64  `json:"expire_date,omitempty"`
	IsRevoked   bool   `json:"is_revoked"`
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: %d %s (retry after %s)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Is reports ErrRecipientUnreachable when the bot cannot message the chat,
// which happens when the user never started the bot or blocked it.
func (e *APIError) Is(target error) bool {
	return target == relayerrors.ErrRecipientUnreachable && e.RecipientUnreachable()
}

// RecipientUnreachable reports whether the error means the target chat
// cannot receive messages from this bot.
func (e *APIError) RecipientUnreachable() bool {
	switch e.Code {
	case 403:
		return true
	case 400:
		desc := strings.ToLower(e.Description)
		return strings.Contains(desc, "chat not found") ||
			strings.Contains(desc, "user not found") ||
			strings.Contains(desc, "peer_id_invalid")
	}
	return false
}
