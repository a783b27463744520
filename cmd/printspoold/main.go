// Command printspoold is the daemon's process entrypoint: flag
// parsing, config load, owning-root construction, OS signal wiring,
// and the reactor run loop (§10.4).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/printspool/printspoold/internal/config"
	"github.com/printspool/printspoold/internal/daemon"
)

var defaultMIMETypes = []string{
	"text/plain",
	"application/postscript",
	"application/pdf",
	"image/jpeg",
	"application/octet-stream",
}

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/printspoold/printspoold.toml", "daemon config file")
		listen     = pflag.StringP("listen", "l", "", "override the configured listen address")
		logLevel   = pflag.String("log-level", "", "override the configured log level")
	)
	pflag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "printspoold:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = []string{*listen}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	root, err := daemon.New(cfg, defaultMIMETypes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "printspoold: startup failed:", err)
		os.Exit(1)
	}
	root.Log.Info().Str("config", *configPath).Log("starting")

	sig := make(chan os.Signal, 8)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGCHLD)

	done := make(chan struct{})
	go signalLoop(root, sig, done)

	for {
		select {
		case <-done:
			root.Log.Info().Log("shutdown complete")
			_ = root.Shutdown()
			return
		default:
		}
		if err := root.RunOnce(200 * time.Millisecond); err != nil {
			root.Log.Err().Err(err).Log("reactor iteration failed")
		}
		if err := root.MaybeReload(); err != nil {
			root.Log.Err().Err(err).Log("reload failed")
		}
	}
}

// signalLoop translates OS signals into the reactor's self-pipe wakeup
// and, for SIGTERM/SIGINT, a drain-then-exit request (§10.4: "SIGHUP ->
// reload config, SIGTERM -> graceful drain, SIGCHLD -> reactor
// self-pipe").
func signalLoop(root *daemon.Root, sig <-chan os.Signal, done chan<- struct{}) {
	for s := range sig {
		switch s {
		case syscall.SIGCHLD:
			root.Reactor.WakeFromSignal()
		case syscall.SIGHUP:
			root.RequestReload()
		case syscall.SIGTERM, syscall.SIGINT:
			root.Log.Info().Log("graceful drain requested")
			close(done)
			return
		}
	}
}
