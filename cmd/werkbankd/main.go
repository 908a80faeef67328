package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	apiPkg "github.com/werkbank-io/werkbank/internal/api"
	"github.com/werkbank-io/werkbank/internal/bus"
	"github.com/werkbank-io/werkbank/internal/compliance"
	"github.com/werkbank-io/werkbank/internal/config"
	"github.com/werkbank-io/werkbank/internal/directory"
	"github.com/werkbank-io/werkbank/internal/kpi"
	"github.com/werkbank-io/werkbank/internal/logbuf"
	"github.com/werkbank-io/werkbank/internal/notify"
	"github.com/werkbank-io/werkbank/internal/pii"
	"github.com/werkbank-io/werkbank/internal/provider"
	"github.com/werkbank-io/werkbank/internal/runtime"
	"github.com/werkbank-io/werkbank/internal/scheduler"
	"github.com/werkbank-io/werkbank/internal/store"
	"github.com/werkbank-io/werkbank/internal/worker"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Optional .env for local development; env vars win over file values.
	godotenv.Load()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("werkbankd starting", "workspace", cfg.Workspace.ID)

	// 1. Storage
	os.MkdirAll(cfg.Workspace.DataDir, 0o755)
	dbPath := filepath.Join(cfg.Workspace.DataDir, "werkbank.db")
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	busStore, err := bus.NewSQLiteStore(db)
	if err != nil {
		logger.Error("failed to init message store", "error", err)
		os.Exit(1)
	}
	msgBus := bus.New(busStore, logger.With("component", "bus"))

	dir, err := directory.New(db)
	if err != nil {
		logger.Error("failed to init agent directory", "error", err)
		os.Exit(1)
	}

	kpiStore, err := kpi.New(db)
	if err != nil {
		logger.Error("failed to init kpi store", "error", err)
		os.Exit(1)
	}

	register, err := compliance.NewRegister(db)
	if err != nil {
		logger.Error("failed to init processing register", "error", err)
		os.Exit(1)
	}
	audit, err := compliance.NewAuditLog(db)
	if err != nil {
		logger.Error("failed to init audit log", "error", err)
		os.Exit(1)
	}
	checker := compliance.NewChecker(compliance.DefaultRules(), register, audit, logger.With("component", "compliance"))

	filter := pii.NewFilter(pii.Mode(cfg.Workspace.PIIMode))

	// 2. Providers
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		var p provider.Provider
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			p = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithModel(pcfg.Model))
			}
			p = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		if pcfg.RPS > 0 {
			burst := pcfg.Burst
			if burst <= 0 {
				burst = 1
			}
			p = provider.NewRateLimited(p, pcfg.RPS, burst)
		}
		providers[name] = p
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Agents from config
	sched := scheduler.New(msgBus, logger.With("component", "scheduler"))
	for _, spec := range cfg.Agents {
		if err := dir.Ensure(spec); err != nil {
			logger.Error("failed to register agent", "agent", spec.ID, "error", err)
			os.Exit(1)
		}

		var prov provider.Provider
		if spec.Provider != "" {
			prov = providers[spec.Provider]
		} else {
			prov = providers["default"]
		}

		w := worker.New(spec, msgBus, checker, filter, prov, kpiStore, logger)

		opts := runtime.Options{}
		if spec.PollInterval > 0 {
			opts.PollInterval = time.Duration(spec.PollInterval) * time.Second
		}
		runner := runtime.New(spec.ID, msgBus, w, nil, dir, opts, logger.With("agent", spec.ID))
		go safeGo(logger, spec.ID, func() { runner.Start(ctx) })

		if spec.WakeSchedule != "" {
			if err := sched.RegisterAgent(spec.ID, spec.WakeSchedule); err != nil {
				logger.Error("invalid wake schedule", "agent", spec.ID, "error", err)
				os.Exit(1)
			}
		}

		logger.Info("agent started", "agent", spec.ID, "pod", spec.Pod)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 4. Operator alert relay
	var channels []notify.Notifier
	if cfg.Notifiers.Telegram != nil {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Notifiers.Telegram.Token,
			ChatID: cfg.Notifiers.Telegram.ChatID,
		}, logger.With("notifier", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram notifier", "error", err)
			os.Exit(1)
		}
		channels = append(channels, tg)
	}
	if cfg.Notifiers.Slack != nil {
		sl, err := notify.NewSlack(notify.SlackConfig{
			BotToken: cfg.Notifiers.Slack.BotToken,
			Channel:  cfg.Notifiers.Slack.Channel,
		}, logger.With("notifier", "slack"))
		if err != nil {
			logger.Error("failed to init slack notifier", "error", err)
			os.Exit(1)
		}
		channels = append(channels, sl)
	}
	if len(channels) == 0 {
		channels = append(channels, notify.NewLogNotifier(logger))
	}
	relay := notify.NewRelay(notify.NewMulti(logger, channels...), logger.With("component", "relay"))
	relayRunner := runtime.New(protocol.OperatorID, msgBus, relay, nil, nil, runtime.Options{}, logger.With("component", "relay"))
	go safeGo(logger, "relay", func() { relayRunner.Start(ctx) })

	// 5. API server
	apiSrv := apiPkg.NewServer(apiPkg.Deps{
		Directory:  dir,
		Bus:        msgBus,
		Compliance: audit,
		KPI:        kpiStore,
		Logs:       logBuf,
	}, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"))

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("werkbankd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
