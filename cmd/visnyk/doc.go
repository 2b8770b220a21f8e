// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Visnyk sends a daily article to Telegram chats subscribed to its topics.

Articles are pre-rendered HTML snippets kept in an object store, one per topic
and calendar day, under names like "stoic/11-05 (5 листопада).txt". Chats
subscribe and unsubscribe by sending bot commands; their preferences are kept
in a preference store.

# Usage

	$ visnyk [flags...] <command> [args...]

Commands:

  - send: send today's articles to every subscriber and exit. Only one send
    runs at a time per state directory.
  - serve: serve the Telegram webhook at /telegram. If SCHEDULE is set, also
    send today's articles every day at that time. Under systemd, serve
    reports readiness with sd_notify and pings the watchdog if WatchdogSec is
    set. With -v, Bot API requests are logged with the token removed.
  - deliver CHAT TOPIC: send today's article of a topic to one chat.
  - subscribers: print chats with at least one active subscription.
  - key [YYYY-MM-DD]: print the article name for today or the given date.
  - set-webhook: point the bot webhook to https://$HOST/telegram.

# Bot Commands

  - /start: reply with the welcome message (message_start.txt in the article
    store).
  - /stoic, /parent: toggle the subscription to a topic. On subscribe, today's
    article is sent immediately.
  - /unsubscribe_from_all: clear all subscriptions of the chat.

# Environment Variables

  - TELEGRAM_TOKEN: Telegram Bot API token. Not needed for key and
    subscribers, or in dry-run mode.
  - TELEGRAM_SECRET: secret token of the webhook. Required for serve and
    set-webhook.
  - TELEGRAM_USERNAME: bot username. serve ignores commands addressed to
    other bots, like /stoic@otherbot, in groups. If unset, serve asks the Bot
    API.
  - HOST: public host name of the server, used by set-webhook.
  - ADDR: address to listen on. Defaults to localhost:3000.
  - PREFS: preference store. One of mem:, file:///path/prefs.json,
    sqlite:///path/prefs.db, postgres://... or dynamodb://TableName. Defaults
    to dynamodb://UserPreferences.
  - ARTICLES: article store, either s3://bucket or a directory (plain path or
    file:///path). Defaults to s3://daily-motivation-messages.
  - LOCATION: time zone that defines "today", e.g. Europe/Kyiv. Defaults to
    local time.
  - SCHEDULE: time of day (HH:MM, in LOCATION) of the daily send in serve.
  - STATE_DIRECTORY: directory holding the send lock. Defaults to
    $XDG_STATE_HOME/visnyk.

AWS credentials and region for S3 and DynamoDB are read from the usual AWS
environment variables and configuration files.

# Topics

The set of topics can be replaced with the -topics flag, pointing to a
Starlark (.star) or YAML (.yaml) file:

	topics = [
	    topic(
	        name = "stoic",
	        prefix = "stoic/",
	        decoration = "📖",
	        command = "stoic",
	        title = "статті стоїка",
	    ),
	]

Subscriptions are stored per topic name; command defaults to the name.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/visnyk/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
