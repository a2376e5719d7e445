package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"recruitd/internal/app"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	def := "./recruitd.yaml"
	if v := os.Getenv("RECRUITD_CONFIG"); v != "" {
		def = v
	}
	var cfgPath string
	flag.StringVar(&cfgPath, "config", def, "path to config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath, app.WithLogLevel(os.Getenv("RECRUITD_LOG_LEVEL")))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	stop := func(reason app.StopReason) {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := a.Stop(sctx, reason); err != nil {
			fmt.Fprintln(os.Stderr, "stop:", err)
		}
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(app.StopFatalError)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		stop(app.StopSignal)
	case <-a.Done():
		stop(app.StopFatalError)
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
	}
}
