package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prixroxx/AutomatedTraderMCP/internal/app"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Metrics endpoint, localhost only.
	if addr := bootstrap.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("metrics server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap.Run(ctx)
}
