package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/logsort/internal/classifier"
	"github.com/raaihank/logsort/internal/config"
	"github.com/raaihank/logsort/internal/logger"
	"github.com/raaihank/logsort/internal/server"
	"github.com/raaihank/logsort/internal/storage"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit")
		watch       = flag.Bool("watch", true, "Reload the rule table when the config file changes")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("logsort %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		var cfgErr *classifier.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Invalid rule table: %v\n", cfgErr)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		}
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting logsort",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.String("config_file", loader.ConfigFileUsed()),
		zap.Int("port", cfg.Server.Port),
	)

	cls, err := buildClassifier(cfg, log)
	if err != nil {
		log.Fatal("Failed to build rule table", zap.Error(err))
	}

	var opts []server.Option
	if cfg.Database.Enabled {
		store, err := storage.NewStore(&storage.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log.WithComponent("storage").Logger)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, server.WithRecordSink(store))
	}

	srv, err := server.New(cfg, cls, log, opts...)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if *watch && loader.ConfigFileUsed() != "" {
		reloadLog := log.WithComponent("reload")
		loader.Watch(func(next *config.Config) {
			c, err := buildClassifier(next, reloadLog)
			if err != nil {
				reloadLog.Error("Rule table reload rejected, keeping current rules", zap.Error(err))
				return
			}
			srv.SetClassifier(c)
		}, func(err error) {
			reloadLog.Error("Configuration reload rejected, keeping current rules", zap.Error(err))
		})
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
			os.Exit(1)
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

func buildClassifier(cfg *config.Config, log *logger.Logger) (*classifier.Classifier, error) {
	rules, err := classifier.NewRuleSet(cfg.Classifier.RuleTable())
	if err != nil {
		return nil, err
	}
	return classifier.New(rules, log.WithComponent("classifier")), nil
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
