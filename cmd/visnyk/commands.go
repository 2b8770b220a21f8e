// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"

	"go.astrophena.name/visnyk/internal/bot"
	"go.astrophena.name/visnyk/internal/cli"
	"go.astrophena.name/visnyk/internal/daily"
	"go.astrophena.name/visnyk/internal/schedule"
	"go.astrophena.name/visnyk/internal/systemd"
	"go.astrophena.name/visnyk/internal/web"
)

func (a *app) printKey(env *cli.Env, args []string) error {
	day := a.now().In(a.loc)
	switch len(args) {
	case 0:
	case 1:
		var err error
		day, err = time.ParseInLocation(time.DateOnly, args[0], a.loc)
		if err != nil {
			return fmt.Errorf("%w: date must be in YYYY-MM-DD form: %v", cli.ErrInvalidArgs, err)
		}
	default:
		return fmt.Errorf("%w: key command expects at most one date", cli.ErrInvalidArgs)
	}
	fmt.Fprintln(env.Stdout, daily.DateKey(day))
	return nil
}

// acquireLock takes the send lock without blocking.
func (a *app) acquireLock() (*flock.Flock, error) {
	path, err := a.lockPath()
	if err != nil {
		return nil, err
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, errAlreadyRunning
	}
	return fl, nil
}

func (a *app) sendAll(ctx context.Context, svc *daily.Service) (*daily.Report, error) {
	fl, err := a.acquireLock()
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()
	return svc.SendAll(ctx)
}

func (a *app) send(ctx context.Context) error {
	svc, err := a.service(ctx, true)
	if err != nil {
		return err
	}
	r, err := a.sendAll(ctx, svc)
	if err != nil {
		return err
	}
	cli.GetEnv(ctx).Logf("Sent %d of %d articles to %d chats in %v.", r.Sent, r.Sent+r.Failed, r.Recipients, r.Duration.Round(time.Millisecond))
	return nil
}

func (a *app) serve(ctx context.Context) error {
	if a.tgSecret == "" {
		return errNoSecret
	}
	svc, err := a.service(ctx, true)
	if err != nil {
		return err
	}
	// Look up the bot's username to tell commands addressed to it in groups.
	username := strings.TrimPrefix(a.tgUsername, "@")
	if username == "" && a.tgToken != "" {
		username, err = a.telegram().GetMe(ctx)
		if err != nil {
			return err
		}
	}
	b, err := bot.New(bot.Opts{
		Service:  svc,
		Sender:   a.sender,
		Secret:   a.tgSecret,
		Username: username,
	})
	if err != nil {
		return err
	}

	var sched *schedule.Daily
	if a.schedule != "" {
		sched, err = schedule.ParseDaily(a.schedule, a.loc)
		if err != nil {
			return fmt.Errorf("invalid SCHEDULE: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram", b.HandleTelegramWebhook)
	if sched != nil {
		web.Health(mux).RegisterFunc("schedule", func() (string, bool) {
			return "next send at " + sched.Next(a.now()).Format(time.RFC3339), true
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { systemd.WatchdogLoop(ctx) })
	if sched != nil {
		wg.Go(func() {
			sched.Run(ctx, a.slog, func(ctx context.Context) {
				if _, err := a.sendAll(ctx, svc); err != nil {
					a.slog.Error("scheduled send failed", slog.Any("err", err))
				}
			})
		})
	}

	ready := func() {
		systemd.Notify(ctx, systemd.Ready)
		if a.ready != nil {
			a.ready()
		}
	}
	err = (&web.Server{Addr: a.addr, Mux: mux, Ready: ready}).ListenAndServe(ctx)
	systemd.Notify(ctx, systemd.Stopping)
	cancel()
	wg.Wait()
	return err
}

func (a *app) deliver(ctx context.Context, chatID, topicName string) error {
	svc, err := a.service(ctx, true)
	if err != nil {
		return err
	}
	topic, ok := svc.TopicByName(topicName)
	if !ok {
		names := make([]string, 0, len(svc.Topics()))
		for _, t := range svc.Topics() {
			names = append(names, t.Name)
		}
		return fmt.Errorf("%w: unknown topic %q (available: %s)", cli.ErrInvalidArgs, topicName, strings.Join(names, ", "))
	}
	return svc.Deliver(ctx, chatID, topic)
}

func (a *app) listSubscribers(ctx context.Context, w io.Writer) error {
	svc, err := a.service(ctx, false)
	if err != nil {
		return err
	}
	rcpts, err := svc.Subscribers(ctx)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Chat ID", "Name", "Topics"})
	for _, r := range rcpts {
		topics := make([]string, 0, len(r.Topics))
		for _, t := range r.Topics {
			topics = append(topics, t.Name)
		}
		tw.AppendRow(table.Row{r.ChatID, r.Name, strings.Join(topics, ", ")})
	}
	tw.AppendFooter(table.Row{"", "Total", len(rcpts)})
	tw.Render()
	return nil
}

func (a *app) setWebhook(ctx context.Context) error {
	switch {
	case a.host == "":
		return errNoHost
	case a.tgSecret == "":
		return errNoSecret
	case a.tgToken == "":
		return errNoToken
	}
	u := &url.URL{
		Scheme: "https",
		Host:   a.host,
		Path:   "/telegram",
	}
	if err := a.telegram().SetWebhook(ctx, u.String(), a.tgSecret); err != nil {
		return err
	}
	cli.GetEnv(ctx).Logf("Webhook set to %s.", u)
	return nil
}
