// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package daily implements the daily article pipeline: it resolves today's
// article for every topic, delivers it to subscribed chats and keeps track of
// subscriptions.
package daily

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.astrophena.name/visnyk/internal/blob"
	"go.astrophena.name/visnyk/internal/logger"
	"go.astrophena.name/visnyk/internal/sender"
	"go.astrophena.name/visnyk/internal/store"
)

const (
	// WelcomeKey is the object name of the welcome message.
	WelcomeKey = "message_start.txt"
	// DefaultWelcome is sent when the welcome message object is missing.
	DefaultWelcome = "Welcome to our Telegram bot! Type /help to get started."
)

// Opts configures a [Service].
type Opts struct {
	Prefs    store.Store
	Articles blob.Store
	Sender   sender.Sender
	// Topics defaults to DefaultTopics.
	Topics []Topic
	// Location is used to determine today's date. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service runs the pipeline.
type Service struct {
	prefs    store.Store
	articles blob.Store
	sender   sender.Sender
	topics   []Topic
	loc      *time.Location
	now      func() time.Time
}

// New returns a new Service.
func New(opts Opts) (*Service, error) {
	if opts.Prefs == nil {
		return nil, errors.New("daily: preference store is required")
	}
	if opts.Articles == nil {
		return nil, errors.New("daily: article store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("daily: sender is required")
	}
	s := &Service{
		prefs:    opts.Prefs,
		articles: opts.Articles,
		sender:   opts.Sender,
		topics:   opts.Topics,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if s.topics == nil {
		s.topics = DefaultTopics()
	}
	if err := ValidateTopics(s.topics); err != nil {
		return nil, fmt.Errorf("daily: %w", err)
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Topics returns the configured topics.
func (s *Service) Topics() []Topic { return s.topics }

// TopicByName returns the topic with the given name.
func (s *Service) TopicByName(name string) (Topic, bool) {
	for _, t := range s.topics {
		if t.Name == name {
			return t, true
		}
	}
	return Topic{}, false
}

// TopicByCommand returns the topic toggled by the bot command.
func (s *Service) TopicByCommand(cmd string) (Topic, bool) {
	for _, t := range s.topics {
		if t.Command == cmd {
			return t, true
		}
	}
	return Topic{}, false
}

// Today returns the current time in the configured location.
func (s *Service) Today() time.Time { return s.now().In(s.loc) }

// Recipient is a chat with at least one active subscription.
type Recipient struct {
	ChatID string
	Name   string
	// Topics lists active topics in configuration order.
	Topics []Topic
}

// Subscribers scans the preference store and returns chats subscribed to at
// least one configured topic.
func (s *Service) Subscribers(ctx context.Context) ([]Recipient, error) {
	subs, err := s.prefs.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning subscribers: %w", err)
	}
	var rcpts []Recipient
	for _, sub := range subs {
		r := Recipient{ChatID: sub.ChatID, Name: sub.Name}
		for _, t := range s.topics {
			if sub.Subscribed(t.Name) {
				r.Topics = append(r.Topics, t)
			}
		}
		if len(r.Topics) > 0 {
			rcpts = append(rcpts, r)
		}
	}
	return rcpts, nil
}

// Toggle flips the chat's subscription to the topic and stores the display
// name along with it. It returns the new subscription state.
//
// Concurrent toggles for the same chat are not serialized: the stored flag
// ends up in one of the two states.
func (s *Service) Toggle(ctx context.Context, chatID string, topic Topic, name string) (bool, error) {
	sub, err := s.prefs.Get(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("getting subscriber %s: %w", chatID, err)
	}
	on := !sub.Subscribed(topic.Name)
	if err := s.prefs.Update(ctx, chatID, store.Update{
		Name:   &name,
		Topics: map[string]bool{topic.Name: on},
	}); err != nil {
		return false, fmt.Errorf("updating subscriber %s: %w", chatID, err)
	}
	logger.Get(ctx).Info("subscription toggled",
		slog.String("chat_id", chatID),
		slog.String("topic", topic.Name),
		slog.Bool("subscribed", on),
	)
	return on, nil
}

// UnsubscribeAll clears all topic flags of the chat.
func (s *Service) UnsubscribeAll(ctx context.Context, chatID string) error {
	topics := make(map[string]bool, len(s.topics))
	for _, t := range s.topics {
		topics[t.Name] = false
	}
	if err := s.prefs.Update(ctx, chatID, store.Update{Topics: topics}); err != nil {
		return fmt.Errorf("updating subscriber %s: %w", chatID, err)
	}
	logger.Get(ctx).Info("unsubscribed from all topics", slog.String("chat_id", chatID))
	return nil
}

// Deliver sends today's article of the topic to the chat. Failures are logged
// and returned; they are never retried.
func (s *Service) Deliver(ctx context.Context, chatID string, topic Topic) error {
	return s.deliver(ctx, chatID, topic, DateKey(s.Today()))
}

func (s *Service) deliver(ctx context.Context, chatID string, topic Topic, key string) error {
	objKey := topic.Prefix + key
	err := s.sendArticle(ctx, chatID, topic, objKey)
	if err != nil {
		logger.Get(ctx).Error("delivery failed",
			slog.String("chat_id", chatID),
			slog.String("topic", topic.Name),
			slog.String("key", objKey),
			slog.Any("err", err),
		)
		return err
	}
	logger.Get(ctx).Debug("article delivered",
		slog.String("chat_id", chatID),
		slog.String("topic", topic.Name),
		slog.String("key", objKey),
	)
	return nil
}

func (s *Service) sendArticle(ctx context.Context, chatID string, topic Topic, objKey string) error {
	body, err := s.articles.Get(ctx, objKey)
	if err != nil {
		return fmt.Errorf("fetching %q: %w", objKey, err)
	}
	text := string(body)
	if topic.Decoration != "" {
		text = topic.Decoration + " " + text
	}
	return s.sender.Send(ctx, sender.Message{
		ChatID:    chatID,
		Text:      text,
		ParseMode: sender.ParseModeHTML,
	})
}

// Report summarizes a batch send.
type Report struct {
	RunID      string
	Key        string
	Recipients int
	// Sent and Failed count deliveries, one per recipient and active topic.
	Sent     int
	Failed   int
	Duration time.Duration
}

// LogValue implements the [slog.LogValuer] interface.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", r.RunID),
		slog.String("key", r.Key),
		slog.Int("recipients", r.Recipients),
		slog.Int("sent", r.Sent),
		slog.Int("failed", r.Failed),
		slog.Duration("duration", r.Duration),
	)
}

// SendAll delivers today's articles to every subscriber, one delivery at a
// time. A failed delivery is counted and skipped. SendAll returns an error
// only if subscribers can't be listed or ctx is canceled; in the latter case
// the partial report is returned too.
func (s *Service) SendAll(ctx context.Context) (*Report, error) {
	start := s.now()
	r := &Report{
		RunID: uuid.NewString(),
		Key:   DateKey(s.Today()),
	}
	l := logger.Get(ctx)
	l.Info("starting batch send", slog.String("run_id", r.RunID), slog.String("key", r.Key))

	rcpts, err := s.Subscribers(ctx)
	if err != nil {
		return nil, err
	}
	r.Recipients = len(rcpts)

	for _, rcpt := range rcpts {
		for _, topic := range rcpt.Topics {
			if err := ctx.Err(); err != nil {
				r.Duration = s.now().Sub(start)
				return r, err
			}
			if err := s.deliver(ctx, rcpt.ChatID, topic, r.Key); err != nil {
				r.Failed++
				continue
			}
			r.Sent++
		}
	}

	r.Duration = s.now().Sub(start)
	l.Info("batch send finished", slog.Any("report", r))
	return r, nil
}

// Welcome returns the text sent in reply to /start.
func (s *Service) Welcome(ctx context.Context) string {
	b, err := s.articles.Get(ctx, WelcomeKey)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			logger.Get(ctx).Error("fetching welcome message", slog.Any("err", err))
		}
		return DefaultWelcome
	}
	if text := strings.TrimSpace(string(b)); text != "" {
		return text
	}
	return DefaultWelcome
}
