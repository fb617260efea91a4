// Command fakecenter runs the in-process call-center fake as a standalone
// service so scenarios and manual probes can target it over the network.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callprobe/internal/app"
	"callprobe/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run is split from main so startup errors are returned, not fatal
func run() error {
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("CALLPROBE_CONFIG_FILE"))
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	log.Printf("[FakeCenter] ready at %s", application.URL())

	<-ctx.Done()
	log.Printf("[FakeCenter] signal received, shutting down gracefully")

	// FUNCTIONAL DISCOVERY: A bounded shutdown keeps a stuck socket from
	// holding the process open.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Teardown+5*time.Second)
	defer cancel()
	return application.Stop(shutdownCtx)
}
