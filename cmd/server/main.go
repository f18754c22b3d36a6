package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/model"
	"github.com/t77yq/wecom-scheduler/internal/monitor"
	"github.com/t77yq/wecom-scheduler/internal/schedule"
	"github.com/t77yq/wecom-scheduler/internal/scheduler"
	"github.com/t77yq/wecom-scheduler/internal/service"
	"github.com/t77yq/wecom-scheduler/internal/storage"
	"github.com/t77yq/wecom-scheduler/internal/webhook"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}
	viper.SetDefault("poller.expression", scheduler.DefaultPollExpression)
	viper.SetDefault("webhook.timeout", 10*time.Second)
	viper.SetDefault("metrics.interval", 30*time.Second)

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Open the task store
	store, err := storage.NewSQLiteTaskStore(logger, viper.GetString("database.path"))
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer store.Close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Wire the scheduler core
	client := webhook.NewClient(logger, viper.GetDuration("webhook.timeout"))
	translator := schedule.NewTranslator(logger)
	substrate := scheduler.NewCronSubstrate(logger)

	var taskService *service.TaskService
	registry := scheduler.NewJobRegistry(substrate, func(id int64) {
		if _, err := taskService.ExecuteTask(ctx, id); err != nil {
			logger.Error("Failed to execute task",
				zap.Int64("task_id", id),
				zap.Error(err))
		}
	}, logger)
	taskService = service.NewTaskService(store, translator, registry, client, logger)

	poller := scheduler.NewDueTaskPoller(store, client, logger)

	// Command bridge and metrics reporter
	bridge := service.NewCommandBridge(js, taskService, logger)
	if err := bridge.Start(ctx); err != nil {
		logger.Fatal("Failed to start command bridge", zap.Error(err))
	}

	reporter := monitor.NewReporter(js, viper.GetDuration("metrics.interval"), logger)
	if err := reporter.Start(ctx); err != nil {
		logger.Fatal("Failed to start metrics reporter", zap.Error(err))
	}

	poller.OnResult = func(task *model.Task, result webhook.DispatchResult) {
		bridge.PublishResult(task, result)
	}

	// Re-arm triggers for persisted tasks and install the poller trigger
	if err := taskService.InitializeTasks(ctx); err != nil {
		logger.Fatal("Failed to initialize tasks", zap.Error(err))
	}

	registry.EnsurePollerRegistered(viper.GetString("poller.expression"), func() {
		summary, err := poller.RunCycle(ctx)
		if err != nil {
			logger.Error("Poll cycle failed", zap.Error(err))
			return
		}
		reporter.RecordCycle(summary)
	})

	substrate.Start()
	logger.Info("Scheduler started")

	// Wait for shutdown signal
	<-ctx.Done()

	// Graceful shutdown: let in-flight triggers finish
	substrate.Stop()
	reporter.Stop()

	logger.Info("Server shutting down gracefully")
}
