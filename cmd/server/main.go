package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/cronkeeper/internal/api"
	"github.com/0xPuncker/cronkeeper/internal/config"
	"github.com/0xPuncker/cronkeeper/internal/cron"
	"github.com/0xPuncker/cronkeeper/internal/notifications"
	"github.com/0xPuncker/cronkeeper/internal/tasks"
	"github.com/dimiro1/banner"
	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "Cronkeeper" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
		}
	}

	banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))

	configPath := flag.String("config", "config/config.json", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	manager, err := cron.NewManager(logger, cfg.Scheduler)
	if err != nil {
		logger.Fatalf("Failed to create job manager: %v", err)
	}

	tasks.Register(manager, manager, logger)

	var notifier *notifications.NotificationService
	slack, err := notifications.NewSlackService(logger, cfg.Slack.WebhookURL)
	if err != nil {
		logger.Warnf("Slack notifications disabled: %v", err)
	} else {
		notifier = notifications.NewNotificationService(slack, manager, logger, cfg.Slack.NotifySuccess)
		manager.AddListener(notifier)
	}

	if !cfg.Reporter.Disabled {
		if err := manager.Register(cron.Definition{
			Name:        "stats-report",
			Description: "Periodic scheduler statistics",
			Pattern:     cfg.Reporter.Schedule,
			Options:     cron.Options{Catch: true},
			Handler:     tasks.NewStatsReporter(manager, logger).Run,
		}); err != nil {
			logger.Fatalf("Failed to schedule stats report: %v", err)
		}
	}

	jobs, err := cfg.PredefinedJobs()
	if err != nil {
		logger.Fatalf("Failed to load predefined jobs: %v", err)
	}
	if err := manager.LoadPredefinedJobs(jobs); err != nil {
		logger.Errorf("Some predefined jobs were not scheduled: %v", err)
	}

	if slack != nil {
		startupNotifier := notifications.NewStartupNotifier(manager, slack, logger)
		go func() {
			if err := startupNotifier.NotifyStartup(); err != nil {
				logger.Warn(err)
			}
		}()
	}

	readTimeout, writeTimeout, err := cfg.Server.Timeouts()
	if err != nil {
		logger.Fatalf("Invalid server config: %v", err)
	}
	server := api.NewServer(api.NewHandler(manager, logger), cfg.Server.Port, readTimeout, writeTimeout)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	logger.Infof("Server started on port %s - Press Ctrl+C to stop.", cfg.Server.Port)

	<-stop
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}

	if err := manager.Shutdown(ctx); err != nil {
		logger.Warnf("Jobs still running at exit: %v", err)
	}

	if notifier != nil {
		notifier.Wait()
	}

	logger.Info("Server stopped")
}
