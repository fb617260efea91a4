package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"callprobe/internal/app"
	"callprobe/internal/config"
)

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = -1

	application, err := app.NewApplication(cfg)
	if err == nil {
		t.Error("NewApplication should reject an invalid port")
	}
	if application != nil {
		t.Error("NewApplication should not return an application on error")
	}
}

func TestApplication_StartServesHealth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	resp, err := http.Get(application.URL() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestApplication_StartHonorsCancelledContext(t *testing.T) {
	application, err := app.NewApplication(nil)
	if err != nil {
		t.Fatalf("NewApplication(nil) error = %v", err)
	}
	defer func() { _ = application.Server().Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.Start(ctx); err == nil {
		t.Error("Start() with a cancelled context should fail")
	}
}
