package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"taskloop/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./taskloop.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	// No-op outside systemd (no NOTIFY_SOCKET).
	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyReady)

	<-ctx.Done()

	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)
	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = a.Stop(stopCtx)
}
