package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/eykd/companion-memory/internal/chat"
	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/config"
	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/errreport"
	"github.com/eykd/companion-memory/internal/handlers"
	"github.com/eykd/companion-memory/internal/jobqueue"
	"github.com/eykd/companion-memory/internal/llmclient"
	"github.com/eykd/companion-memory/internal/logstore"
	"github.com/eykd/companion-memory/internal/metrics"
	"github.com/eykd/companion-memory/internal/pkg/logs"
	"github.com/eykd/companion-memory/internal/pkg/utils"
	"github.com/eykd/companion-memory/internal/schedulerapi"
	"github.com/eykd/companion-memory/internal/singleton"
	"github.com/eykd/companion-memory/internal/usersettings"
)

// app bundles every collaborator cmd/companion's three subcommands share,
// wired once from config.Config and handed off to whichever of them the
// operator invoked.
type app struct {
	cfg      *config.Config
	clock    clock.Clock
	logger   logs.Logger
	reporter *errreport.LogReporter
	metrics  *metrics.Collectors

	store jobqueue.Store
	dedup jobqueue.DeduplicationIndex
	lock  singleton.Lock

	registry *dispatch.Registry
	hctx     *dispatch.Context
	api      *schedulerapi.API

	settings *usersettings.Static
}

// newApp loads config, stands up the shared DynamoDB table client, and
// wires every collaborator and handler registration. Every subcommand
// (scheduler, job-worker, web) calls this before doing its own thing.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	if err := logs.Init(logs.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return nil, fmt.Errorf("bootstrap: init logger: %w", err)
	}
	logger := logs.DefaultLogger()

	dynamoAPI, err := newDynamoClient(ctx, cfg.Storage.Region)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: dynamodb client: %w", err)
	}

	settings, err := usersettings.NewStatic(userSettingsMap(cfg.Users))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: user settings: %w", err)
	}

	var chatClient chat.Client
	if cfg.Chat.TelegramToken != "" {
		chatClient, err = chat.NewTelegram(cfg.Chat.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: telegram client: %w", err)
		}
	}

	var llm llmclient.Client
	if cfg.LLM.AnthropicAPIKey != "" {
		llm, err = llmclient.NewAnthropic(llmclient.Config{
			APIKey:       cfg.LLM.AnthropicAPIKey,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: anthropic client: %w", err)
		}
	}

	logStore := logstore.NewDynamoStore(dynamoAPI, cfg.Storage.Table)

	store := jobqueue.NewDynamoStore(dynamoAPI, cfg.Storage.Table)
	dedup := jobqueue.NewDynamoDedupIndex(dynamoAPI, cfg.Storage.Table)
	lock := singleton.NewDynamoLock(dynamoAPI, cfg.Storage.Table)

	sysClock := clock.System{}
	reporter := errreport.NewLogReporter(logger)
	mcs := metrics.NewDefault()
	api := schedulerapi.New(store, dedup, sysClock)

	registry := dispatch.NewRegistry()
	handlers.RegisterAll(registry)

	hctx := &dispatch.Context{
		Clock:         sysClock,
		ErrorReporter: reporter,
		Schedule:      api.AsScheduleFunc(),
		Extra: map[string]any{
			handlers.ExtraKeyChat:         chatClient,
			handlers.ExtraKeyLLM:          llm,
			handlers.ExtraKeyLogStore:     logStore,
			handlers.ExtraKeyUserSettings: settings,
			handlers.ExtraKeyLogger:       logger,
		},
	}

	return &app{
		cfg:      cfg,
		clock:    sysClock,
		logger:   logger,
		reporter: reporter,
		metrics:  mcs,
		store:    store,
		dedup:    dedup,
		lock:     lock,
		registry: registry,
		hctx:     hctx,
		api:      api,
		settings: settings,
	}, nil
}

// newDynamoClient builds a *dynamodb.Client from the process environment,
// the standard AWS SDK v2 credential chain, honoring AWS_DYNAMODB_ENDPOINT
// for local development against DynamoDB Local.
func newDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, os.Getenv("AWS_SESSION_TOKEN")),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint := os.Getenv("AWS_DYNAMODB_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	}), nil
}

func userSettingsMap(users map[string]config.UserConfig) map[string]usersettings.Settings {
	out := make(map[string]usersettings.Settings, len(users))
	for id, u := range users {
		out[id] = usersettings.Settings{ChatID: u.ChatID, Timezone: u.Timezone}
	}
	return out
}

// processID builds a unique-enough identity for this process to use as a
// worker_id / singleton process_id: hostname+pid, plus a random suffix so
// two processes that somehow share both (e.g. a container restarted with
// the same pid) never collide on locked_by.
func processID(prefix string) string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%s-%d-%s", prefix, host, os.Getpid(), utils.RandDigits(6))
}
