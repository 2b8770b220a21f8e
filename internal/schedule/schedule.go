// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package schedule runs a job once a day at a fixed wall clock time.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

var timeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Daily is a schedule firing every day at the same time.
type Daily struct {
	at    string
	loc   *time.Location
	sched cron.Schedule
}

// ParseDaily parses a time of day in HH:MM form, interpreted in loc.
func ParseDaily(at string, loc *time.Location) (*Daily, error) {
	m := timeRe.FindStringSubmatch(at)
	if m == nil {
		return nil, fmt.Errorf("invalid time of day %q (want HH:MM)", at)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if loc == nil {
		loc = time.Local
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, err
	}
	return &Daily{at: at, loc: loc, sched: sched}, nil
}

// String returns the schedule in HH:MM form with the location name.
func (d *Daily) String() string { return d.at + " " + d.loc.String() }

// Next returns the next activation time after t.
func (d *Daily) Next(t time.Time) time.Time { return d.sched.Next(t.In(d.loc)) }

// Run calls job at every activation until ctx is canceled. A job still
// running at the next activation makes that activation skipped. After ctx is
// canceled, Run waits for a running job to return.
func (d *Daily) Run(ctx context.Context, l *slog.Logger, job func(context.Context)) {
	cl := cronLogger{l}
	c := cron.New(
		cron.WithLocation(d.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(d.sched, cron.FuncJob(func() { job(ctx) }))
	c.Start()
	l.Info("scheduled daily job", slog.String("at", d.String()), slog.Time("next", d.Next(time.Now())))

	<-ctx.Done()
	<-c.Stop().Done()
}

// cronLogger adapts slog to the logger interface of the cron package.
type cronLogger struct{ l *slog.Logger }

func (cl cronLogger) Info(msg string, keysAndValues ...any) {
	cl.l.Debug("cron: "+msg, keysAndValues...)
}

func (cl cronLogger) Error(err error, msg string, keysAndValues ...any) {
	cl.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
