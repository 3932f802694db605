package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/bridge"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/call"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/config"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/document"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/gemini"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/pipeline"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/plivo"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/realtime"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/schedule"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/search"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/server"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/storage"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/summary"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "inspection-voice-bot"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.String("brand", cfg.Assistant.Brand),
		slog.String("realtime_model", cfg.Realtime.Model),
		slog.String("voice", cfg.Realtime.Voice),
		slog.String("generation_model", cfg.Gemini.GenerationModel),
		slog.String("collection", cfg.Search.Collection),
		slog.String("calendar_timezone", cfg.Calendar.Timezone),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("ledger_backend", cfg.Pipeline.Ledger.Backend),
		slog.Bool("barge_in", cfg.Audio.BargeIn.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	location, err := time.LoadLocation(cfg.Calendar.Timezone)
	if err != nil {
		logger.Error("Failed to load timezone", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Gemini serves embeddings, answers and post-call summaries
	geminiClient, err := gemini.New(ctx, gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		EmbeddingModel:  cfg.Gemini.EmbeddingModel,
		GenerationModel: cfg.Gemini.GenerationModel,
	})
	if err != nil {
		logger.Error("Failed to create Gemini client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	index, err := search.NewQdrantIndex(search.QdrantConfig{
		URL:        cfg.Search.QdrantURL,
		APIKey:     cfg.Search.APIKey,
		Collection: cfg.Search.Collection,
	})
	if err != nil {
		logger.Error("Failed to connect to product index", slog.String("error", err.Error()))
		os.Exit(1)
	}
	searcher := search.NewSearcher(geminiClient, index, geminiClient, cfg.Search.TopK, logger)
	logger.Info("Product search initialized",
		slog.String("collection", cfg.Search.Collection),
		slog.Int("top_k", cfg.Search.TopK),
	)

	calendarBackend, err := schedule.NewGoogleCalendar(ctx, schedule.GoogleConfig{
		CredentialsFile: cfg.Calendar.CredentialsFile,
		CalendarID:      cfg.Calendar.CalendarID,
		Location:        location,
	})
	if err != nil {
		logger.Error("Failed to create calendar client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	scheduler := schedule.NewScheduler(calendarBackend, schedule.Config{
		Location:      location,
		SlotDuration:  time.Duration(cfg.Calendar.SlotMinutes) * time.Minute,
		StartHour:     cfg.Calendar.BusinessStartHour,
		EndHour:       cfg.Calendar.BusinessEndHour,
		LookaheadDays: cfg.Calendar.LookaheadDays,
		MaxSlots:      cfg.Calendar.MaxSlots,
		Summary:       cfg.Assistant.Brand + " Appointment",
	})
	logger.Info("Scheduler initialized",
		slog.String("calendar_id", cfg.Calendar.CalendarID),
		slog.Int("slot_minutes", cfg.Calendar.SlotMinutes),
	)

	directory, err := users.NewSupabaseDirectory(users.SupabaseConfig{
		URL:    cfg.Users.SupabaseURL,
		APIKey: cfg.Users.SupabaseKey,
		Table:  cfg.Users.Table,
	})
	if err != nil {
		logger.Error("Failed to create caller directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers := tools.Backends{
		Search:       searcher,
		Schedule:     scheduler,
		Users:        directory,
		DefaultEmail: cfg.Calendar.DefaultEmail,
		AutoBook:     cfg.Calendar.AutoBook,
	}.Handlers()

	enabledTools := make([]tools.Kind, 0, len(cfg.Session.EnabledTools))
	for _, name := range cfg.Session.EnabledTools {
		kind, err := tools.ParseKind(name)
		if err != nil {
			logger.Error("Invalid tool in configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}
		enabledTools = append(enabledTools, kind)
	}

	plivoClient, err := plivo.NewClient(plivo.Config{
		BaseURL:          cfg.Telephony.APIBaseURL,
		AuthID:           cfg.Telephony.AuthID,
		AuthToken:        cfg.Telephony.AuthToken,
		Sender:           cfg.Telephony.WhatsAppSender,
		TemplateName:     cfg.Telephony.TemplateName,
		TemplateLanguage: cfg.Telephony.TemplateLanguage,
		Timeout:          cfg.Telephony.GetRequestTimeout(),
		MaxConcurrent:    cfg.Telephony.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create Plivo client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to create document store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ledger, closeLedger, err := newLedger(ctx, cfg.Pipeline.Ledger)
	if err != nil {
		logger.Error("Failed to create pipeline ledger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	postCall := pipeline.New(logger, pipeline.Config{
		Workers:       cfg.Pipeline.Workers,
		Timeout:       cfg.Pipeline.GetTimeout(),
		MaxRetries:    cfg.Pipeline.MaxRetries,
		BaseBackoff:   cfg.Pipeline.GetBaseBackoff(),
		MaxBackoff:    cfg.Pipeline.GetMaxBackoff(),
		StoragePrefix: cfg.Storage.Prefix,
		PortalURL:     cfg.Telephony.PortalURL,
	}, pipeline.Dependencies{
		Writer:    summary.NewWriter(geminiClient),
		Renderer:  document.NewRenderer(cfg.Assistant.Brand),
		Store:     store,
		Messenger: plivoClient,
		Ledger:    ledger,
	}, pipeline.WithMetrics(appMetrics))
	logger.Info("Post-call pipeline initialized",
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.Int("max_retries", cfg.Pipeline.MaxRetries),
	)

	dialer := realtime.NewDialer(realtime.Config{
		URL:          cfg.Realtime.URL,
		APIKey:       cfg.Realtime.APIKey,
		Model:        cfg.Realtime.Model,
		DialTimeout:  cfg.Realtime.GetDialTimeout(),
		WriteTimeout: cfg.Realtime.GetWriteTimeout(),
		QueueSize:    cfg.Session.EventQueueSize,
	})

	callMgr := call.NewManager(logger, call.Config{
		Brand:                cfg.Assistant.Brand,
		Instructions:         cfg.Assistant.Instructions,
		IdentifyInstructions: cfg.Assistant.IdentifyInstructions,
		Voice:                cfg.Realtime.Voice,
		TranscriptionModel:   cfg.Realtime.TranscriptionModel,
		Temperature:          cfg.Realtime.Temperature,
		RolePromptLimit:      cfg.Session.RolePromptLimit,
		IdentifyTimeout:      cfg.Session.GetIdentifyTimeout(),
		MaxCallDuration:      cfg.Session.GetMaxCallDuration(),
		RingTimeout:          cfg.Session.GetRingTimeout(),
		LookupTimeout:        cfg.Session.GetLookupTimeout(),
		CleanupInterval:      cfg.Session.GetCleanupInterval(),
		EventQueueSize:       cfg.Session.EventQueueSize,
		ToolTimeout:          cfg.Session.GetToolTimeout(),
		MaxPending:           cfg.Session.MaxPendingTools,
		EnabledTools:         enabledTools,
		Location:             location,
		Bridge: bridge.Config{
			JitterDepth:     cfg.Audio.JitterDepth,
			MaxSkew:         cfg.Audio.MaxSkew,
			Capacity:        cfg.Audio.BufferCapacity,
			BargeIn:         cfg.Audio.BargeIn.Enabled,
			VADThreshold:    cfg.Audio.BargeIn.Threshold,
			VADSmoothing:    cfg.Audio.BargeIn.Smoothing,
			MinSpeechFrames: cfg.Audio.BargeIn.MinSpeechFrames,
		},
	}, call.Dependencies{
		Dialer: call.DialFunc(func(ctx context.Context) (call.Engine, error) {
			conn, err := dialer.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}),
		Directory: directory,
		Handlers:  handlers,
		Pipeline:  postCall,
		Control:   plivoClient,
	}, call.WithMetrics(appMetrics))
	logger.Info("Call manager initialized",
		slog.Int("tool_handlers", len(handlers)),
		slog.Duration("max_call_duration", cfg.Session.GetMaxCallDuration()),
	)

	httpServer := server.NewHTTPServer(logger, cfg, callMgr,
		server.WithPipeline(postCall),
		server.WithPlivo(plivoClient),
		server.WithMetrics(appMetrics),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.GetTimeout())
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new calls)
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Ending calls submits their transcripts, so the pipeline drains last
	if err := callMgr.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping call manager", slog.String("error", err.Error()))
	}

	if err := postCall.Stop(shutdownCtx); err != nil {
		logger.Error("Error draining post-call pipeline", slog.String("error", err.Error()))
	}

	if err := plivoClient.Close(); err != nil {
		logger.Error("Error closing Plivo client", slog.String("error", err.Error()))
	}
	if err := closeLedger(); err != nil {
		logger.Error("Error closing pipeline ledger", slog.String("error", err.Error()))
	}
	if err := index.Close(); err != nil {
		logger.Error("Error closing product index", slog.String("error", err.Error()))
	}

	callStats := callMgr.GetStats()
	pipelineStats := postCall.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("calls_accepted", callStats.Accepted),
		slog.Uint64("calls_ended", callStats.Ended),
		slog.Uint64("calls_expired", callStats.Expired),
		slog.Any("pipeline", pipelineStats),
	)

	logger.Info("Service stopped")
}

// newStore creates the document store for the configured backend
func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.Bucket,
			PresignTTL: cfg.GetPresignTTL(),
		})
	default:
		return storage.NewSupabaseStore(storage.SupabaseConfig{
			URL:    cfg.SupabaseURL,
			APIKey: cfg.SupabaseKey,
			Bucket: cfg.Bucket,
		})
	}
}

// newLedger creates the idempotency ledger and its closer
func newLedger(ctx context.Context, cfg config.LedgerConfig) (pipeline.Ledger, func() error, error) {
	if cfg.Backend != "redis" {
		return pipeline.NewMemoryLedger(), func() error { return nil }, nil
	}

	ledger, err := pipeline.NewRedisLedger(ctx, pipeline.RedisConfig{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.GetTTL(),
	})
	if err != nil {
		return nil, nil, err
	}
	return ledger, ledger.Close, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
