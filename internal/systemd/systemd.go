// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd enables a service to signal readiness and update the
// watchdog timestamp to systemd.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"go.astrophena.name/visnyk/internal/logger"
)

// State defines a sd-notify protocol state.
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
type State string

const (
	// Ready tells the service manager that service startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is beginning its
	// shutdown.
	Stopping State = "STOPPING=1"
	// Watchdog tells the service manager to update the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Notify sends state to systemd using the sd_notify protocol. It does nothing
// if NOTIFY_SOCKET is not set. Failures are logged to the logger carried by
// ctx.
func Notify(ctx context.Context, state State) {
	addr := &net.UnixAddr{
		Net:  "unixgram",
		Name: os.Getenv("NOTIFY_SOCKET"),
	}
	if addr.Name == "" {
		return
	}

	conn, err := net.DialUnix(addr.Net, nil, addr)
	if err != nil {
		logger.Get(ctx).Warn("systemd: notify failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		logger.Get(ctx).Warn("systemd: notify failed", slog.Any("err", err))
	}
}

// WatchdogLoop periodically updates the systemd watchdog timestamp until ctx
// is canceled. It returns immediately if WATCHDOG_USEC is not set.
func WatchdogLoop(ctx context.Context) {
	if os.Getenv("WATCHDOG_USEC") == "" {
		return
	}

	interval, err := watchdogInterval()
	if err != nil {
		logger.Get(ctx).Warn("systemd: watchdog disabled", slog.Any("err", err))
		return
	}

	// Ping twice per interval, as sd_watchdog_enabled(3) recommends.
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			Notify(ctx, Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval() (time.Duration, error) {
	usec, err := strconv.Atoi(os.Getenv("WATCHDOG_USEC"))
	if err != nil {
		return 0, fmt.Errorf("parsing WATCHDOG_USEC: %w", err)
	}
	if usec <= 0 {
		return 0, errors.New("WATCHDOG_USEC must be a positive number")
	}
	return time.Duration(usec) * time.Microsecond, nil
}
