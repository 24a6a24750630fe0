// Command stream-bridge connects a broadcaster account to Twitch chat and
// EventSub and republishes everything as normalized events.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the credential store (ini file, Postgres, Redis or memory).
//   - Runs the integration tick loop: OAuth login, identity resolution,
//     chat and EventSub connections with automatic reconnects.
//   - Optionally exposes /healthz, /readyz, /status, /metrics and a live
//     event stream when HTTP_ADDR is set.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/events"
	"github.com/onnwee/stream-bridge/integration"
	"github.com/onnwee/stream-bridge/server"
	"github.com/onnwee/stream-bridge/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it needs OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdownTracing, err := telemetry.InitTracing("stream-bridge", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := credentials.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open credential store", slog.String("backend", cfg.CredentialsBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("failed to close credential store", slog.Any("err", err))
		}
	}()

	svc := integration.New(integration.Options{Config: cfg, Store: store})
	hub := server.NewEventHub()
	svc.Subscribe(hub.Publish)
	svc.Subscribe(logEvent)

	if err := svc.Start(ctx); err != nil {
		slog.Error("integration start failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer svc.Stop()

	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, svc, hub, cfg.HTTPAddr); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	run(ctx, svc, cfg.TickInterval)
	slog.Info("shutting down")
}

// run ticks the integration until ctx is cancelled, passing the wall time
// elapsed since the previous tick.
func run(ctx context.Context, svc *integration.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			svc.Tick(now.Sub(last))
			last = now
		}
	}
}

func logEvent(ev events.Event) {
	m := ev.Metadata()
	slog.Debug("event", slog.String("kind", string(ev.Kind())), slog.String("source", string(m.Source)), slog.String("id", m.ID))
}
