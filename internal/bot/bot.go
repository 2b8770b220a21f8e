// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot handles commands sent to the bot through the Telegram webhook.
package bot

import (
	"cmp"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"go.astrophena.name/visnyk/internal/daily"
	"go.astrophena.name/visnyk/internal/logger"
	"go.astrophena.name/visnyk/internal/sender"
	"go.astrophena.name/visnyk/internal/telegram"
	"go.astrophena.name/visnyk/internal/web"
)

// Commands handled besides topic commands.
const (
	CommandStart          = "start"
	CommandUnsubscribeAll = "unsubscribe_from_all"
)

// maxUpdateSize limits the size of a webhook request body.
const maxUpdateSize = 1 << 20

const unsubscribedReply = "Тепер ви не будете отримувати статті провісника :("

// Opts configures a [Bot].
type Opts struct {
	Service *daily.Service
	Sender  sender.Sender
	// Secret must match the X-Telegram-Bot-Api-Secret-Token header of webhook
	// requests.
	Secret string
	// Username is the bot's username. Commands addressed to another bot, like
	// /stoic@otherbot, are ignored. If empty, every addressed command is.
	Username string
}

// Bot reacts to bot commands.
type Bot struct {
	svc      *daily.Service
	sender   sender.Sender
	secret   string
	username string
}

// New returns a new Bot.
func New(opts Opts) (*Bot, error) {
	if opts.Service == nil || opts.Sender == nil {
		return nil, errors.New("bot: service and sender are required")
	}
	if opts.Secret == "" {
		return nil, errors.New("bot: webhook secret is required")
	}
	return &Bot{
		svc:      opts.Service,
		sender:   opts.Sender,
		secret:   opts.Secret,
		username: opts.Username,
	}, nil
}

var ok = map[string]string{
	"status": "ok",
}

// HandleTelegramWebhook handles a Telegram webhook request.
//
// Once the secret is verified, it always responds with 200 OK, even if the
// command failed: Telegram redelivers failed updates, and a redelivered
// toggle command would flip the subscription back.
func (b *Bot) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) != 1 {
		web.RespondJSONError(w, r, web.ErrNotFound)
		return
	}

	update, err := telegram.DecodeUpdate(http.MaxBytesReader(w, r.Body, maxUpdateSize))
	if err != nil {
		status := web.ErrBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = web.ErrRequestEntityTooLarge
		}
		web.RespondJSONError(w, r, fmt.Errorf("%w: %v", status, err))
		return
	}

	if err := b.Handle(r.Context(), update); err != nil {
		logger.Get(r.Context()).Error("handling update failed",
			slog.Int("update_id", update.UpdateID),
			slog.Any("err", err),
		)
	}

	web.RespondJSON(w, ok)
}

// Handle processes a single update. Updates that carry no bot command, and
// unknown commands, are ignored.
func (b *Bot) Handle(ctx context.Context, update *tgbotapi.Update) error {
	msg := cmp.Or(update.Message, update.ChannelPost)
	if msg == nil || msg.Chat == nil || !msg.IsCommand() || !b.addressedToMe(msg) {
		return nil
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	cmd := msg.Command()

	logger.Get(ctx).Debug("handling command",
		slog.String("chat_id", chatID),
		slog.String("chat_type", msg.Chat.Type),
		slog.String("command", cmd),
	)

	switch cmd {
	case CommandStart:
		return b.reply(ctx, chatID, b.svc.Welcome(ctx))
	case CommandUnsubscribeAll:
		if err := b.svc.UnsubscribeAll(ctx, chatID); err != nil {
			return err
		}
		return b.reply(ctx, chatID, unsubscribedReply)
	}

	topic, found := b.svc.TopicByCommand(cmd)
	if !found {
		return nil
	}
	on, err := b.svc.Toggle(ctx, chatID, topic, displayName(msg))
	if err != nil {
		return err
	}
	if err := b.reply(ctx, chatID, toggleReply(msg.Chat.IsPrivate(), on, topic)); err != nil {
		return err
	}
	if on {
		return b.svc.Deliver(ctx, chatID, topic)
	}
	return nil
}

func (b *Bot) addressedToMe(msg *tgbotapi.Message) bool {
	_, mention, found := strings.Cut(msg.CommandWithAt(), "@")
	return !found || strings.EqualFold(mention, b.username)
}

func (b *Bot) reply(ctx context.Context, chatID, text string) error {
	return b.sender.Send(ctx, sender.Message{ChatID: chatID, Text: text})
}

// displayName returns the user's full name for private chats and the chat
// title otherwise.
func displayName(msg *tgbotapi.Message) string {
	if !msg.Chat.IsPrivate() {
		return msg.Chat.Title
	}
	first, last := msg.Chat.FirstName, msg.Chat.LastName
	if msg.From != nil {
		first, last = msg.From.FirstName, msg.From.LastName
	}
	return strings.TrimSpace(first + " " + last)
}

func toggleReply(private, on bool, topic daily.Topic) string {
	action := "відписані від"
	if on {
		action = "підписані на"
	}
	who := "ви"
	if !private {
		who = "користувачі цього чату"
	}
	return fmt.Sprintf("Тепер %s %s %s %s!", who, action, topic.Title, topic.Decoration)
}
