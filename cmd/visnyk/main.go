// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.astrophena.name/visnyk/internal/blob"
	"go.astrophena.name/visnyk/internal/cli"
	"go.astrophena.name/visnyk/internal/daily"
	"go.astrophena.name/visnyk/internal/httplogger"
	"go.astrophena.name/visnyk/internal/logger"
	"go.astrophena.name/visnyk/internal/request"
	"go.astrophena.name/visnyk/internal/sender"
	"go.astrophena.name/visnyk/internal/store"
	"go.astrophena.name/visnyk/internal/telegram"
)

const (
	defaultPrefs    = "dynamodb://UserPreferences"
	defaultArticles = "s3://daily-motivation-messages"
)

// Some types of errors that can happen during visnyk execution.
var (
	errAlreadyRunning = errors.New("already running")
	errNoToken        = errors.New("TELEGRAM_TOKEN is not set")
	errNoSecret       = errors.New("TELEGRAM_SECRET is not set")
	errNoHost         = errors.New("HOST is not set")
)

func main() { cli.Main(new(app)) }

type app struct {
	// flags
	dry        bool
	verbose    bool
	topicsFile string

	// configuration
	addr        string
	articlesURI string
	host        string
	location    string
	prefsDSN    string
	schedule    string
	stateDir    string
	tgSecret    string
	tgToken     string
	tgUsername  string
	// now acts as time.Now, but can be mocked for testing.
	now func() time.Time

	// Collaborators. Tests set them directly; otherwise they are built from
	// configuration on first use.
	prefs    store.Store
	articles blob.Store
	sender   sender.Sender
	httpc    *http.Client
	// ready is called when the server is ready to serve requests.
	ready func()

	// initialized by Run
	loc         *time.Location
	openedPrefs store.Store
	scrubber    *strings.Replacer
	slog        *slog.Logger
	svc         *daily.Service
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log messages instead of sending them.")
	fs.BoolVar(&a.verbose, "v", false, "Enable debug logging.")
	fs.StringVar(&a.topicsFile, "topics", "", "Load topics from Starlark (.star) or YAML (.yaml) `file`.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	// Load configuration from environment variables.
	a.addr = cmp.Or(a.addr, env.Getenv("ADDR"), "localhost:3000")
	a.articlesURI = cmp.Or(a.articlesURI, env.Getenv("ARTICLES"), defaultArticles)
	a.host = cmp.Or(a.host, env.Getenv("HOST"))
	a.location = cmp.Or(a.location, env.Getenv("LOCATION"))
	a.prefsDSN = cmp.Or(a.prefsDSN, env.Getenv("PREFS"), defaultPrefs)
	a.schedule = cmp.Or(a.schedule, env.Getenv("SCHEDULE"))
	a.stateDir = cmp.Or(a.stateDir, env.Getenv("STATE_DIRECTORY"))
	if a.stateDir == "" {
		xdgStateHome := env.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			if home, err := os.UserHomeDir(); err == nil {
				xdgStateHome = filepath.Join(home, ".local", "state")
			}
		}
		if xdgStateHome != "" {
			a.stateDir = filepath.Join(xdgStateHome, "visnyk")
		}
	}
	a.tgSecret = cmp.Or(a.tgSecret, env.Getenv("TELEGRAM_SECRET"))
	a.tgToken = cmp.Or(a.tgToken, env.Getenv("TELEGRAM_TOKEN"))
	a.tgUsername = cmp.Or(a.tgUsername, env.Getenv("TELEGRAM_USERNAME"))
	if a.now == nil {
		a.now = time.Now
	}
	if a.httpc == nil {
		a.httpc = request.DefaultClient
	}
	if a.tgToken != "" {
		a.scrubber = strings.NewReplacer(a.tgToken, "[EXPUNGED]")
	}

	l := logger.Get(ctx)
	a.slog = l.Logger
	// Enable debug logging in dry-run and verbose modes.
	if a.dry || a.verbose {
		l.Level.Set(slog.LevelDebug)
	}

	a.loc = time.Local
	if a.location != "" {
		loc, err := time.LoadLocation(a.location)
		if err != nil {
			return fmt.Errorf("invalid LOCATION: %w", err)
		}
		a.loc = loc
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command, args := env.Args[0], env.Args[1:]
	defer a.close()

	switch command {
	case "key":
		return a.printKey(env, args)
	case "send":
		return a.send(ctx)
	case "serve":
		return a.serve(ctx)
	case "deliver":
		if len(args) != 2 {
			return fmt.Errorf("%w: deliver command expects a chat ID and a topic", cli.ErrInvalidArgs)
		}
		return a.deliver(ctx, args[0], args[1])
	case "subscribers":
		return a.listSubscribers(ctx, env.Stdout)
	case "set-webhook":
		return a.setWebhook(ctx)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

// service returns the pipeline, opening stores and the sender on first use.
// Commands that never send messages pass false for withSender and work
// without a Telegram token.
func (a *app) service(ctx context.Context, withSender bool) (*daily.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	var topics []daily.Topic
	if a.topicsFile != "" {
		var err error
		topics, err = daily.LoadTopics(a.topicsFile)
		if err != nil {
			return nil, err
		}
	}

	if a.sender == nil {
		switch {
		case a.dry || !withSender:
			a.sender = &dryRunSender{slog: a.slog}
		case a.tgToken == "":
			return nil, errNoToken
		default:
			a.sender = a.telegram()
		}
	}
	if a.articles == nil {
		articles, err := blob.Open(ctx, a.articlesURI)
		if err != nil {
			return nil, err
		}
		a.articles = articles
	}
	if a.prefs == nil {
		prefs, err := store.Open(ctx, a.prefsDSN)
		if err != nil {
			return nil, fmt.Errorf("opening preference store: %w", err)
		}
		a.prefs, a.openedPrefs = prefs, prefs
	}

	svc, err := daily.New(daily.Opts{
		Prefs:    a.prefs,
		Articles: a.articles,
		Sender:   a.sender,
		Topics:   topics,
		Location: a.loc,
		Now:      a.now,
	})
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

func (a *app) telegram() *telegram.Client {
	httpc := a.httpc
	// Trace Bot API calls in verbose mode.
	if a.verbose {
		httpc = &http.Client{
			Transport: httplogger.New(httpc.Transport, a.slog, a.scrubber),
			Timeout:   httpc.Timeout,
		}
	}
	return telegram.New(telegram.Config{
		Token:      a.tgToken,
		HTTPClient: httpc,
		Scrubber:   a.scrubber,
		Logger:     a.slog,
	})
}

// lockPath returns the path of the send lock, creating the state directory if
// needed.
func (a *app) lockPath() (string, error) {
	if a.stateDir == "" {
		return "", errors.New("can't determine state directory, set STATE_DIRECTORY")
	}
	if err := os.MkdirAll(a.stateDir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(a.stateDir, "send.lock"), nil
}

func (a *app) close() {
	if a.openedPrefs == nil {
		return
	}
	if err := a.openedPrefs.Close(); err != nil {
		a.slog.Warn("closing preference store", slog.Any("err", err))
	}
}

// dryRunSender logs messages instead of sending them.
type dryRunSender struct {
	slog *slog.Logger
}

func (s *dryRunSender) Send(_ context.Context, msg sender.Message) error {
	s.slog.Info("dry run: not sending message",
		slog.String("chat_id", msg.ChatID),
		slog.String("parse_mode", msg.ParseMode),
		slog.String("text", msg.Text),
	)
	return nil
}
