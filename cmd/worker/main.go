package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/rollout/internal/activity"
	"github.com/edvin/rollout/internal/builder"
	"github.com/edvin/rollout/internal/config"
	"github.com/edvin/rollout/internal/db"
	"github.com/edvin/rollout/internal/deployer"
	"github.com/edvin/rollout/internal/logging"
	"github.com/edvin/rollout/internal/metrics"
	"github.com/edvin/rollout/internal/model"
	"github.com/edvin/rollout/internal/publisher"
	"github.com/edvin/rollout/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.TargetsFile).Msg("failed to load targets")
	}
	logger.Info().Int("targets", len(targets)).Msg("targets loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, model.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	})

	// Register activities
	runDB := activity.NewRunDB(pool, targets, cfg.PipelineSettings())
	w.RegisterActivity(runDB)

	buildActivities := activity.NewBuild(builder.NewDockerBuilder(cfg.WorkspaceDir, cfg.DockerfileName, cfg.ImageRepository))
	w.RegisterActivity(buildActivities)

	publishActivities := activity.NewPublish(publisher.NewRegistryPublisher(cfg.RegistryUsername, cfg.RegistryPassword))
	w.RegisterActivity(publishActivities)

	rolloutActivities := activity.NewRollout(deployer.NewDockerDeployer())
	w.RegisterActivity(rolloutActivities)

	queueActivities := activity.NewRolloutQueue(tc)
	w.RegisterActivity(queueActivities)

	notifyActivities := activity.NewNotify()
	w.RegisterActivity(notifyActivities)

	// Register workflows
	w.RegisterWorkflow(workflow.DeployPipelineWorkflow)
	w.RegisterWorkflow(workflow.TargetRolloutWorkflow)
	w.RegisterWorkflow(workflow.PurgeRunsWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", model.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Register cron schedules. Errors for already-existing schedules are
	// ignored so that re-deploys do not fail.
	registerCronSchedules(ctx, tc, cfg, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

type cronSchedule struct {
	id       string
	cron     string
	workflow interface{}
	args     []interface{}
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "run-retention-cron",
			cron:     "0 4 * * *",
			workflow: workflow.PurgeRunsWorkflow,
			args:     []interface{}{cfg.RunRetentionDays},
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: model.TaskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
