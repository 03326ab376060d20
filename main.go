package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskpilot/orchestrator/internal/circuitbreaker"
	cfg "github.com/taskpilot/orchestrator/internal/config"
	"github.com/taskpilot/orchestrator/internal/health"
	"github.com/taskpilot/orchestrator/internal/history"
	"github.com/taskpilot/orchestrator/internal/httpapi"
	"github.com/taskpilot/orchestrator/internal/lifecycle"
	_ "github.com/taskpilot/orchestrator/internal/metrics" // Import for side effects
	"github.com/taskpilot/orchestrator/internal/orchestrator"
	"github.com/taskpilot/orchestrator/internal/roles"
)

func main() {
	configPath := flag.String("config", "config/taskpilot.yaml", "path to config file")
	task := flag.String("task", "", "task to execute (or TASKPILOT_TASK)")
	flag.Parse()

	if *task == "" {
		*task = os.Getenv("TASKPILOT_TASK")
	}
	if *task == "" && flag.NArg() > 0 {
		*task = strings.Join(flag.Args(), " ")
	}
	if *task == "" {
		log.Fatal("no task given: pass -task, TASKPILOT_TASK, or a positional argument")
	}

	conf, err := cfg.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(conf)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Lifecycle event manager, optionally mirrored to Redis Streams.
	lcOpts := []lifecycle.Option{lifecycle.WithCapacity(conf.Streaming.RingCapacity)}
	var redisClient *redis.Client
	if conf.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		lcOpts = append(lcOpts, lifecycle.WithMirror(
			lifecycle.NewRedisMirror(redisClient, "", conf.Streaming.MirrorMaxLen, logger),
		))
	}
	events := lifecycle.NewManager(lcOpts...)

	// Role collaborators speak JSON-over-HTTP to the agent service, each
	// guarded by its own circuit breaker.
	roleClient := roles.NewHTTPClient(
		conf.RoleService.BaseURL,
		time.Duration(conf.RoleService.TimeoutSeconds)*time.Second,
		logger,
	)
	planner, actor, validator := circuitbreaker.WrapRoles(
		roles.PlannerClient{HTTPClient: roleClient},
		roles.ActorClient{HTTPClient: roleClient},
		roles.ValidatorClient{HTTPClient: roleClient},
		circuitbreaker.DefaultConfig(),
		logger,
	)

	orch := orchestrator.New(
		planner,
		actor,
		validator,
		events,
		orchestrator.Options{
			MaxSteps:             conf.Orchestrator.MaxSteps,
			MaxFailures:          conf.Orchestrator.MaxFailures,
			MaxValidatorFailures: conf.Orchestrator.MaxValidatorFailures,
			PlannerInterval:      conf.Orchestrator.PlannerInterval,
			ValidationEnabled:    conf.Orchestrator.ValidationEnabled,
			PausePollInterval:    conf.Orchestrator.PausePollInterval(),
			RoleCallsPerMinute:   conf.Orchestrator.RoleCallsPerMinute,
			HistoryWindow:        conf.Orchestrator.HistoryWindow,
		},
		logger,
	)

	if redisClient != nil {
		store, err := history.NewStore(redisClient, logger)
		if err != nil {
			logger.Warn("transcript store disabled", zap.Error(err))
		} else {
			orch.AttachHistory(store)
		}
	}

	// Admin HTTP surface: metrics, health, lifecycle streaming.
	mux := http.NewServeMux()
	if conf.Observability.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	checks := health.NewManager(logger)
	checks.Register(health.RoleServiceChecker{BaseURL: conf.RoleService.BaseURL})
	if redisClient != nil {
		checks.Register(health.RedisChecker{Client: redisClient})
	}
	mux.HandleFunc("/healthz", checks.Handler())
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux)
	adminAddr := fmt.Sprintf(":%d", conf.Observability.Metrics.Port)
	go func() {
		if err := http.ListenAndServe(adminAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("admin HTTP server stopped", zap.Error(err))
		}
	}()
	logger.Info("admin HTTP server listening", zap.String("addr", adminAddr))

	// First SIGINT cancels the run cooperatively; a second one force-exits.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, cancelling run")
		orch.Cancel()
		<-sigCh
		logger.Warn("second signal received, exiting")
		os.Exit(1)
	}()

	// Log lifecycle events locally alongside external observers.
	sub := orch.Subscribe(256)
	defer orch.Unsubscribe(sub)
	go func() {
		for evt := range sub {
			logger.Info("lifecycle",
				zap.String("actor", evt.Actor),
				zap.String("state", evt.State),
				zap.String("message", evt.Message),
			)
		}
	}()

	logger.Info("executing task",
		zap.String("run_id", orch.RunID()),
		zap.String("task", *task),
	)
	res := orch.Execute(context.Background(), *task)

	logger.Info("run finished",
		zap.String("state", string(res.State)),
		zap.Int("steps", res.Steps),
		zap.Float64("exploration", res.Control.Exploration),
	)
	if res.Err != nil {
		logger.Error("run error", zap.Error(res.Err))
	}

	switch res.State {
	case orchestrator.TaskOK:
		os.Exit(0)
	case orchestrator.TaskCancelled:
		os.Exit(130)
	default:
		os.Exit(1)
	}
}

func buildLogger(conf *cfg.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(conf.Observability.Logging.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if conf.Observability.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
