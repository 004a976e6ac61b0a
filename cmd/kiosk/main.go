package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/five82/kiosk/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.StringP("config", "c", "", "config path, .toml or .yaml (default ~/.config/kiosk/config.toml)")
	prefsPath := flag.String("prefs", "", "preferences path (default ~/.config/kiosk/prefs.toml)")
	host := flag.StringP("host", "H", "", "player host, overrides config and KIOSK_HOST")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	headless := flag.Bool("no-ui", false, "run without the TUI and log to stderr")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath: *configPath,
		PrefsPath:  *prefsPath,
		Host:       *host,
		LogLevel:   *logLevel,
		Headless:   *headless,
	}
	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "kiosk: %v\n", err)
		return 1
	}
	return 0
}
