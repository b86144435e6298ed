// Package notify delivers operator notifications over Telegram. Delivery runs
// on its own goroutine so a slow or failing API never stalls mining.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
	"github.com/bardlex/gosolo/pkg/retry"
)

// DefaultAPIURL is the Telegram Bot API prefix; the token follows directly.
const DefaultAPIURL = "https://api.telegram.org/bot"

// Telegram sends HTML messages to a single chat.
type Telegram struct {
	apiURL  string
	token   string
	chatID  string
	client  *http.Client
	breaker *circuit.Breaker
	retry   *retry.Config
	logger  *log.Logger
}

// NewTelegram creates a client for token and chatID. A nil client gets a
// 10 second timeout.
func NewTelegram(token, chatID string, client *http.Client, logger *log.Logger) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Telegram{
		apiURL:  DefaultAPIURL,
		token:   token,
		chatID:  chatID,
		client:  client,
		breaker: circuit.New(circuit.NotificationConfig("telegram")),
		retry:   retry.NotificationConfig(),
		logger:  logger.WithComponent("telegram"),
	}
}

// WithAPIURL overrides the API prefix.
func (t *Telegram) WithAPIURL(url string) *Telegram {
	t.apiURL = url
	return t
}

// WithRetry overrides the retry policy.
func (t *Telegram) WithRetry(cfg *retry.Config) *Telegram {
	t.retry = cfg
	return t
}

// Configured reports whether both token and chat are set.
func (t *Telegram) Configured() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send posts text to the chat. Unconfigured clients succeed without sending.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Configured() {
		return nil
	}
	return retry.Do(ctx, t.retry, func() error {
		return t.breaker.Execute(ctx, func() error {
			return t.post(ctx, text)
		})
	})
}

func (t *Telegram) post(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "telegram_send", "failed to encode message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "telegram_send", "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNotification, "telegram_send", "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := errors.New(errors.ErrorTypeNotification, "telegram_send", "telegram API error").
		WithContext("status", resp.StatusCode).
		WithContext("body", strings.TrimSpace(string(snippet)))
	// client errors other than rate limiting will not improve on retry
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
		serr.Retryable = false
	}
	return serr
}

// StartupMessage is sent once when the miner starts.
func StartupMessage(address string, quiet bool, pool string) string {
	quietText := "No"
	if quiet {
		quietText = "Yes"
	}
	return fmt.Sprintf("🚀 <b>Bitcoin Solo Miner Started</b>\n\nAddress: <code>%s</code>\nQuiet mode: %s\nPool: <code>%s</code>",
		html.EscapeString(address), quietText, html.EscapeString(pool))
}

// BlockFoundMessage announces a found block.
func BlockFoundMessage(b *record.Block) string {
	return fmt.Sprintf("🎉 <b>BLOCK FOUND!</b>\n\nHash: <code>%s</code>\nTarget: <code>%s</code>\nNonce: <code>%s</code>\nAddress: <code>%s</code>",
		b.Hash, b.Target, b.Nonce, html.EscapeString(b.Address))
}
