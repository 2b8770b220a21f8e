// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements message delivery over the Telegram Bot API and
// decoding of webhook updates.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"go.astrophena.name/visnyk/internal/request"
	"go.astrophena.name/visnyk/internal/sender"
)

const (
	tgAPI = "https://api.telegram.org"

	// maxMessageLen is the maximum length of a message text in runes.
	maxMessageLen = 4096
	// defaultRate is the global limit of messages per second for a bot.
	defaultRate = 30
)

// Config configures a Telegram client.
type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint. Defaults to https://api.telegram.org.
	APIURL     string
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
	Logger     *slog.Logger
	// Limiter paces outgoing messages. Defaults to 30 messages per second.
	Limiter *rate.Limiter
}

// Client talks to the Telegram Bot API.
type Client struct {
	token       string
	apiURL      string
	httpc       *http.Client
	scrubber    *strings.Replacer
	slog        *slog.Logger
	limiter     *rate.Limiter
	makeRequest func(context.Context, string, any) error
}

// New returns a new Telegram client.
func New(cfg Config) *Client {
	c := &Client{
		token:    cfg.Token,
		apiURL:   cfg.APIURL,
		httpc:    cfg.HTTPClient,
		scrubber: cfg.Scrubber,
		slog:     cfg.Logger,
		limiter:  cfg.Limiter,
	}
	if c.apiURL == "" {
		c.apiURL = tgAPI
	}
	if c.httpc == nil {
		c.httpc = request.DefaultClient
	}
	if c.scrubber == nil && c.token != "" {
		c.scrubber = strings.NewReplacer(c.token, "[EXPUNGED]")
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(defaultRate, 1)
	}
	c.makeRequest = c.makeTelegramRequest
	return c
}

type message struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Send sends a message, splitting texts longer than Telegram allows into
// several messages. Failed requests are not retried.
func (c *Client) Send(ctx context.Context, msg sender.Message) error {
	for _, chunk := range splitMessage(msg.Text, msg.ParseMode == sender.ParseModeHTML) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		c.slog.Debug("sending message", slog.String("chat_id", msg.ChatID), slog.Int("len", utf8.RuneCountInString(chunk)))
		if err := c.makeRequest(ctx, "sendMessage", &message{
			ChatID:    msg.ChatID,
			Text:      chunk,
			ParseMode: msg.ParseMode,
		}); err != nil {
			return fmt.Errorf("sending message to %s: %w", msg.ChatID, err)
		}
	}
	return nil
}

// SetWebhook registers url to receive message and channel post updates. Telegram sends secret
// in the X-Telegram-Bot-Api-Secret-Token header of every update.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.makeRequest(ctx, "setWebhook", map[string]any{
		"url":             url,
		"secret_token":    secret,
		"allowed_updates": []string{"message", "channel_post"},
	})
}

type getMeResponse struct {
	Result tgbotapi.User `json:"result"`
}

// GetMe returns the bot's username.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	resp, err := request.Make[getMeResponse](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        c.apiURL + "/bot" + c.token + "/getMe",
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return "", fmt.Errorf("getting bot info: %w", err)
	}
	return resp.Result.UserName, nil
}

func (c *Client) makeTelegramRequest(ctx context.Context, method string, args any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.apiURL + "/bot" + c.token + "/" + method,
		Body:       args,
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	return err
}

// DecodeUpdate decodes a webhook update.
func DecodeUpdate(r io.Reader) (*tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return nil, fmt.Errorf("decoding update: %w", err)
	}
	return &u, nil
}

var _ sender.Sender = (*Client)(nil)
