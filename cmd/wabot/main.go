// Command wabot runs the WhatsApp business chatbot service: webhook
// ingestion, the LLM reply pipeline, CRM API, campaigns, and the
// background sweeps.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fluxkit/wabot/internal/api"
	"github.com/fluxkit/wabot/internal/campaign"
	"github.com/fluxkit/wabot/internal/gateway"
	"github.com/fluxkit/wabot/internal/genai"
	"github.com/fluxkit/wabot/internal/groups"
	"github.com/fluxkit/wabot/internal/handover"
	"github.com/fluxkit/wabot/internal/leads"
	"github.com/fluxkit/wabot/internal/lockfile"
	"github.com/fluxkit/wabot/internal/models"
	"github.com/fluxkit/wabot/internal/pipeline"
	"github.com/fluxkit/wabot/internal/rag"
	"github.com/fluxkit/wabot/internal/scheduler"
	"github.com/fluxkit/wabot/internal/store"
	"github.com/fluxkit/wabot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for wabot state data
	DefaultStateDir = "/var/lib/wabot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "wabot.db"
	// DefaultSessionFileName is the default whatsmeow session database filename
	DefaultSessionFileName = "session.db"
	// backgroundPollInterval drives the job runner and outbox sender
	backgroundPollInterval = 5 * time.Second
	// botMessageRetention bounds the echo-suppression table
	botMessageRetention = 7 * 24 * time.Hour
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("wabot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("wabot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	GatewayDriver  string
	WaSenderKey    string
	OpenAIKey      string
	APIAddr        string
	SchedulingURL  string
	SystemPrompt   string
	DisableLeads   bool
	DisableRAG     bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	gatewayDriver *string
	wasenderKey   *string
	openaiKey     *string
	apiAddr       *string
	schedulingURL *string
	systemPrompt  *string
	qrOutput      *string
	numeric       *bool
	disableLeads  bool
	disableRAG    bool
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("WABOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("WABOT_STATE_DIR"),
		GatewayDriver: os.Getenv("GATEWAY_DRIVER"),
		WaSenderKey:   os.Getenv("WASENDER_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		SchedulingURL: os.Getenv("SCHEDULING_URL"),
		SystemPrompt:  os.Getenv("WABOT_SYSTEM_PROMPT"),
		DisableLeads:  util.ParseBoolEnv("WABOT_DISABLE_LEAD_QUALIFICATION", false),
		DisableRAG:    util.ParseBoolEnv("WABOT_DISABLE_RAG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.GatewayDriver == "" {
		config.GatewayDriver = "wasender"
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WABOT_STATE_DIR", config.StateDir,
		"GATEWAY_DRIVER", config.GatewayDriver,
		"WASENDER_API_KEY_SET", config.WaSenderKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SCHEDULING_URL_SET", config.SchedulingURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for wabot data (overrides $WABOT_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, Postgres connection string or SQLite path (overrides $DATABASE_URL)"),
		gatewayDriver: flag.String("gateway-driver", config.GatewayDriver, "message gateway driver: wasender, twilio, or device (overrides $GATEWAY_DRIVER)"),
		wasenderKey:   flag.String("wasender-api-key", config.WaSenderKey, "WaSender API key (overrides $WASENDER_API_KEY)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		schedulingURL: flag.String("scheduling-url", config.SchedulingURL, "discovery-call scheduling link sent to qualified leads (overrides $SCHEDULING_URL)"),
		systemPrompt:  flag.String("system-prompt", config.SystemPrompt, "bot system prompt (overrides $WABOT_SYSTEM_PROMPT)"),
		qrOutput:      flag.String("qr-output", "", "path to write the device login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use a numeric device login code instead of a QR code"),
		disableLeads:  config.DisableLeads,
		disableRAG:    config.DisableRAG,
	}
	flag.Parse()
	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypeSQLite {
		if err := os.MkdirAll(filepath.Dir(*flags.dbDSN), 0755); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, flags Flags) error {
	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		return err
	}

	sender, deviceSender, err := openGateway(flags)
	if err != nil {
		return err
	}

	// Knowledge base needs pgvector, so it only exists on Postgres.
	var knowledge *rag.KnowledgeStore
	if ps, ok := st.(*store.PostgresStore); ok && !flags.disableRAG {
		knowledge = rag.NewKnowledgeStore(ps.DB(), gaClient)
		if err := knowledge.Migrate(ctx); err != nil {
			slog.Warn("Knowledge store migration failed, continuing without RAG", "error", err)
			knowledge = nil
		}
	}

	detector := handover.NewDetector(gaClient)
	manager := handover.NewManager(st, sender)

	pipelineOpts := []pipeline.Option{}
	if *flags.systemPrompt != "" {
		pipelineOpts = append(pipelineOpts, pipeline.WithSystemPrompt(*flags.systemPrompt))
	}
	if !flags.disableLeads {
		qualifier := leads.NewQualifier(st, sender, gaClient, leads.WithSchedulingURL(*flags.schedulingURL))
		pipelineOpts = append(pipelineOpts, pipeline.WithQualifier(qualifier))
	}
	if knowledge != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithKnowledge(knowledge, rag.BuildContext))
	}
	processor := pipeline.NewProcessor(st, sender, gaClient, detector, manager, pipelineOpts...)

	campaignService := campaign.NewService(st, sender)
	groupService := groups.NewService(st, sender, deviceSender)

	// Durable jobs: campaign dispatch survives restarts.
	jobRunner := store.NewJobRunner(st, backgroundPollInterval)
	jobRunner.RegisterHandler(campaign.JobKindDispatch, campaignService.DispatchHandler())
	if err := jobRunner.RecoverStaleJobs(); err != nil {
		slog.Warn("Stale job recovery failed", "error", err)
	}
	go jobRunner.Run(ctx)

	// Outbox: scheduled group sends claimed from the sweep.
	outboxSender := store.NewOutboxSender(st, groupService.OutboxHandler(), backgroundPollInterval)
	if err := outboxSender.RecoverStaleMessages(); err != nil {
		slog.Warn("Stale outbox recovery failed", "error", err)
	}
	go outboxSender.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob("*/5 * * * *", func() { manager.Sweep(context.Background()) }); err != nil {
		return err
	}
	if err := sched.AddJob("* * * * *", func() { groupService.SweepDue(context.Background()) }); err != nil {
		return err
	}
	if err := sched.AddJob("30 3 * * *", func() { pruneBotMessages(st, time.Now().Add(-botMessageRetention)) }); err != nil {
		return err
	}

	// The device driver pushes inbound traffic directly instead of the
	// webhook endpoint.
	if deviceSender != nil {
		defer deviceSender.Disconnect()
		deviceSender.OnMessage(func(phone, body, messageID string, ts time.Time) {
			msgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := processor.ProcessInbound(msgCtx, phone, body, messageID); err != nil {
				slog.Error("Device inbound processing failed", "phone", phone, "error", err)
			}
		})
		deviceSender.OnReceipt(func(messageID string, status models.MessageStatus) {
			if err := st.UpdateMessageStatusByGatewayID(messageID, status); err != nil {
				slog.Warn("Device receipt update failed", "messageID", messageID, "error", err)
			}
		})
	}

	apiOpts := []api.Option{api.WithOpener(gaClient)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if knowledge != nil {
		apiOpts = append(apiOpts, api.WithKnowledge(knowledge))
	}
	server := api.NewServer(st, sender, processor, campaignService, groupService, manager, apiOpts...)

	slog.Info("wabot running", "gateway", sender.Name(), "db", store.DetectDSNType(*flags.dbDSN), "rag", knowledge != nil)
	return server.Run(ctx)
}

// pruneBotMessages drops echo-suppression entries older than the cutoff.
func pruneBotMessages(st store.Store, cutoff time.Time) {
	n, err := st.PruneBotMessages(cutoff)
	if err != nil {
		slog.Warn("Bot message pruning failed", "error", err)
		return
	}
	slog.Debug("Bot message pruning completed", "removed", n)
}

// openStore picks the backend from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// openGateway builds the configured gateway driver. The second return
// value is non-nil only for the device driver, which also receives
// inbound traffic and enumerates groups.
func openGateway(flags Flags) (gateway.Sender, *gateway.DeviceSender, error) {
	switch *flags.gatewayDriver {
	case "twilio":
		s, err := gateway.NewTwilioSender()
		return s, nil, err
	case "device":
		opts := []gateway.DeviceOption{
			gateway.WithSessionDSN(filepath.Join(*flags.stateDir, DefaultSessionFileName)),
		}
		if *flags.qrOutput != "" {
			opts = append(opts, gateway.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, gateway.WithNumericCode())
		}
		ds, err := gateway.NewDeviceSender(opts...)
		return ds, ds, err
	default:
		var opts []gateway.WaSenderOption
		if *flags.wasenderKey != "" {
			opts = append(opts, gateway.WithWaSenderAPIKey(*flags.wasenderKey))
		}
		s, err := gateway.NewWaSender(opts...)
		return s, nil, err
	}
}
