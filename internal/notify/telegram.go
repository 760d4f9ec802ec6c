package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradecore/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramSender posts notifications to a chat via the Bot API's sendMessage
// method. CRITICAL-severity notifications are prefixed so operators can set
// up a keyword alert independent of the chat's normal volume.
type TelegramSender struct {
	httpClient *http.Client
	botToken   string
	chatID     string
	baseURL    string // overridable in tests
}

// NewTelegramSender builds a sender posting to the given bot token/chat id.
func NewTelegramSender(botToken, chatID string) *TelegramSender {
	return &TelegramSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		botToken:   botToken,
		chatID:     chatID,
		baseURL:    "https://api.telegram.org",
	}
}

type telegramSendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Send posts n as a formatted chat message. A non-2xx response or transport
// error is returned to the Dispatcher, which logs and moves on — it never
// propagates back to the caller that triggered the notification.
func (t *TelegramSender) Send(n *models.Notification) error {
	text := formatMessage(n)
	body, err := json.Marshal(telegramSendMessageRequest{ChatID: t.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("notify: marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: telegram returned status %d", resp.StatusCode)
	}
	return nil
}

func formatMessage(n *models.Notification) string {
	prefix := ""
	if n.Severity == models.SeverityCritical {
		prefix = "🚨 CRITICAL 🚨\n"
	}
	switch {
	case n.PairID != "":
		return fmt.Sprintf("%s[%s] pair=%s %s", prefix, n.Type, n.PairID, n.Message)
	case n.PositionID != "":
		return fmt.Sprintf("%s[%s] position=%s %s", prefix, n.Type, n.PositionID, n.Message)
	default:
		return fmt.Sprintf("%s[%s] %s", prefix, n.Type, n.Message)
	}
}
