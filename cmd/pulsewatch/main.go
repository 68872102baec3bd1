package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rewired-gh/pulsewatch/internal/alerts"
	"github.com/rewired-gh/pulsewatch/internal/api"
	"github.com/rewired-gh/pulsewatch/internal/config"
	"github.com/rewired-gh/pulsewatch/internal/cryptocompare"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/rewired-gh/pulsewatch/internal/momentum"
	"github.com/rewired-gh/pulsewatch/internal/monitor"
	"github.com/rewired-gh/pulsewatch/internal/polygon"
	"github.com/rewired-gh/pulsewatch/internal/render"
	"github.com/rewired-gh/pulsewatch/internal/sound"
	"github.com/rewired-gh/pulsewatch/internal/storage"
	"github.com/rewired-gh/pulsewatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	ccClient := cryptocompare.NewClient(cfg.CryptoCompareClientConfig())

	// CryptoCompare also serves hourly volume history for streamed symbols.
	engine := momentum.New(ctx, store, ccClient, cfg.EngineConfig())

	aggOpts := []alerts.Option{
		alerts.WithRunningUpStore(store),
		alerts.WithSettings(store),
	}
	if cfg.Alerts.Sound {
		aggOpts = append(aggOpts, alerts.WithSounder(sound.NewBell(os.Stderr, time.Second)))
	}
	aggregator := alerts.New(ctx, cfg.AggregatorConfig(), aggOpts...)

	monOpts := []monitor.Option{monitor.WithSort(cfg.Display.SortBy, cfg.Display.Descending)}
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.RetryPolicy())
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.SetHandler(aggregator)
		telegramClient.ListenForCommands(ctx)
		monOpts = append(monOpts, monitor.WithNotifier(telegramClient))
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	mon := monitor.New(engine, aggregator, monOpts...)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { aggregator.Run(ctx) })

	if cfg.Server.Enabled {
		server := api.NewServer(mon, aggregator, store, cfg.Logging.Level == "debug")
		run(func() {
			if err := server.Run(ctx, cfg.Server.Addr); err != nil {
				logger.Error("API server stopped: %v", err)
			}
		})
	}

	if cfg.Display.Console {
		console := render.NewConsole(os.Stdout, mon, cfg.Display.Rows)
		run(func() { console.Run(ctx, cfg.Display.RefreshInterval) })
	}

	if cfg.CryptoCompare.Enabled {
		run(func() {
			mon.RunPolling(ctx, ccClient, cfg.CryptoCompare.Symbols, cfg.CryptoCompare.PollInterval)
		})
	}

	if cfg.Polygon.Enabled {
		stream := polygon.NewStream(cfg.PolygonStreamConfig())
		batches := make(chan []models.AssetSnapshot, 16)
		run(func() {
			if err := stream.Run(ctx, batches); err != nil && ctx.Err() == nil {
				mon.ReportError(ctx, err)
				logger.Error("Polygon stream stopped: %v", err)
			}
		})
		run(func() { mon.RunStream(ctx, batches) })
	}

	logger.Info("Starting pulsewatch (symbols: %d, new_high_pct: %.1f, cooldown: %v, dedup_window: %v)",
		len(cfg.CryptoCompare.Symbols),
		cfg.Momentum.NewHighPct,
		cfg.Momentum.NewHighCooldown,
		cfg.Alerts.DedupWindow,
	)

	<-ctx.Done()
	wg.Wait()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.Momentum.StoreTimeout)
	defer flushCancel()
	if err := engine.Flush(flushCtx); err != nil {
		logger.Warn("Pending day-state writes not flushed: %v", err)
	}
	engine.Close()
	aggregator.Wait()
	logger.Info("Service stopped")
}
