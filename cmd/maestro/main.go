// Command maestro runs the orchestrator: it loads configuration, wires the
// provider, stores, transport, and agent registry together, and serves the
// A2A process_task endpoint until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/maestro"
	"github.com/nevindra/maestro/a2a"
	"github.com/nevindra/maestro/internal/config"
	"github.com/nevindra/maestro/observer"
	"github.com/nevindra/maestro/orchestrator"
	"github.com/nevindra/maestro/provider/resolve"
	"github.com/nevindra/maestro/registry"
	"github.com/nevindra/maestro/store/postgres"
	"github.com/nevindra/maestro/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("maestro exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load(os.Getenv("MAESTRO_CONFIG"))
	if err != nil {
		return err
	}

	// 2. Logger with secret redaction
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	handler := config.NewRedactingHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Info("starting maestro", "config", cfg)

	// 3. Observability (opt-in via standard OTEL env vars)
	var inst *observer.Instruments
	var tracer maestro.Tracer
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("otel shutdown failed", "error", err)
			}
		}()
		tracer = observer.NewTracer()
	}

	// 4. Provider chain: HTTP transport, observation, retry, rate limiting
	provider, err := resolve.Provider(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		return err
	}
	if inst != nil {
		provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
	}
	provider = maestro.WithRetry(provider, maestro.RetryPolicy{
		MaxAttempts: cfg.LLM.RetryAttempts,
		Logger:      logger,
	})
	if cfg.LLM.RPM > 0 {
		provider = maestro.WithRateLimit(provider, maestro.RPM(cfg.LLM.RPM))
	}

	// 5. Stores: SQLite for checkpoints and the memory cache, fronted by the
	// async worker pool so graph turns queue their persistence instead of
	// contending on the serialized connection; Postgres for the durable
	// memory tier when a DSN is configured.
	store := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	initCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout.Std())
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		store.Close()
		return err
	}
	pool := maestro.NewAsyncStore(store, maestro.AsyncLogger(logger))
	defer pool.Close()

	var memories maestro.MemoryStore
	if cfg.Database.PostgresDSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.PostgresDSN)
		if err != nil {
			return err
		}
		poolCfg.MaxConns = int32(cfg.Database.PoolSize)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgStore := postgres.NewMemoryStore(pool)
		if err := pgStore.Init(ctx); err != nil {
			return err
		}
		memories = pgStore
		logger.Info("postgres memory tier enabled")
	} else {
		msStore := sqlite.NewMemoryStore(store.DB(), sqlite.WithMemoryLogger(logger))
		if err := msStore.Init(ctx); err != nil {
			return err
		}
		memories = msStore
	}

	// 6. A2A client and agent registry
	client := a2a.NewClient(
		a2a.ClientRetryPolicy(maestro.RetryPolicy{MaxAttempts: cfg.A2A.RetryAttempts, Logger: logger}),
		a2a.ClientLogger(logger),
		a2a.ClientTracer(tracer),
		a2a.ClientBreakerOptions(
			maestro.BreakerThreshold(cfg.A2A.CircuitBreakerThreshold),
			maestro.BreakerTimeout(cfg.A2A.CircuitBreakerTimeout.Std()),
			maestro.BreakerLogger(logger),
		),
	)
	defer client.Close()

	var caller orchestrator.AgentCaller = client
	if inst != nil {
		caller = observer.WrapCaller(client, inst)
	}

	reg := registry.New()
	for name, agent := range cfg.Agents {
		reg.Add(name, agent.Endpoint())
	}
	prober := registry.NewProber(reg, client,
		registry.ProbeInterval(probeInterval(cfg)),
		registry.ProberLogger(logger),
	)
	go prober.Run(ctx)

	// 7. Orchestrator
	orch, err := orchestrator.New(provider, reg, caller, pool.Sync(),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithSettings(settings(cfg)),
		orchestrator.WithMemoryStore(memories),
	)
	if err != nil {
		return err
	}

	// 8. A2A server
	srv := a2a.NewServer(a2a.ServerLogger(logger))
	srv.Register(a2a.MethodProcessTask, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Task maestro.Task `json:"task"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, a2a.InvalidParams(err)
		}
		if p.Task.Instruction == "" {
			return nil, a2a.InvalidParams(errors.New("task.instruction required"))
		}
		return orch.ProcessTask(ctx, p.Task)
	})
	srv.RegisterCard(agentCard())

	httpSrv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     srv,
		ReadTimeout: cfg.A2A.SockReadTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 9. Run until interrupted, then drain in-flight requests.
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}

// settings maps the conversation and LLM config blocks onto the
// orchestrator's knobs.
func settings(cfg config.Config) orchestrator.Settings {
	s := orchestrator.DefaultSettings()
	if cfg.Conversation.SummaryTriggerMessages > 0 {
		s.SummaryTriggerMessages = cfg.Conversation.SummaryTriggerMessages
	}
	if cfg.Conversation.MaxMessagesToPreserve > 0 {
		s.MaxMessagesToPreserve = cfg.Conversation.MaxMessagesToPreserve
	}
	if cfg.Conversation.MaxTokensToPreserve > 0 {
		s.MaxTokensToPreserve = cfg.Conversation.MaxTokensToPreserve
	}
	if cfg.Conversation.MemoryUpdateTriggerMessages > 0 {
		s.MemoryUpdateTriggerMessages = cfg.Conversation.MemoryUpdateTriggerMessages
	}
	if cfg.Conversation.MaxEventHistory > 0 {
		s.MaxEventHistory = cfg.Conversation.MaxEventHistory
	}
	s.TriggerKeywords = cfg.Conversation.TriggerKeywords
	s.Temperature = cfg.LLM.Temperature
	if cfg.LLM.MaxTokens > 0 {
		s.MaxTokens = cfg.LLM.MaxTokens
	}
	s.AgentCallTimeout = cfg.A2A.Timeout.Std()
	return s
}

// probeInterval picks the shortest configured health-check interval, falling
// back to the registry default.
func probeInterval(cfg config.Config) time.Duration {
	interval := registry.DefaultProbeInterval
	for _, agent := range cfg.Agents {
		if d := agent.HealthCheckInterval.Std(); d > 0 && d < interval {
			interval = d
		}
	}
	return interval
}

// agentCard is the manifest the orchestrator publishes about itself.
func agentCard() maestro.AgentCard {
	return maestro.AgentCard{
		Name:         "maestro",
		Version:      "1.0.0",
		Description:  "Conversational orchestrator that delegates to specialist agents and maintains CRM user memory.",
		Capabilities: []string{"orchestration", "conversation", "crm_memory"},
		Endpoints: map[string]string{
			"process_task": "/",
		},
		CommunicationModes: []string{"sync"},
	}
}
