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

	"example.com/curling-match-server/internal/app"
	"example.com/curling-match-server/internal/config"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showHelp    = flag.Bool("help", false, "print usage and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
		verbose     = flag.Bool("verbose", false, "mirror game-log records to stdout")
		debug       = flag.Bool("debug", false, "enable trace/debug-level logging")
		configPath  = flag.String("config", "config.json", "path to the config file")
		configJSON  = flag.String("config-json", "", "config document given literally, instead of --config")
		logDir      = flag.String("log-dir", "log", "directory for server.log and per-match subdirectories")
		historyDSN  = flag.String("history-dsn", "", "optional Postgres DSN for completed-match history")
		redisAddr   = flag.String("redis-addr", "", "optional Redis address for the live-match registry")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return 0
	}
	if *showVersion {
		fmt.Println(version)
		return 0
	}

	logger := slog.Default()

	configSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configSet = true
		}
	})
	if configSet && *configJSON != "" {
		logger.Error("main: --config and --config-json are mutually exclusive")
		return 0
	}

	data, err := loadConfigSource(*configPath, *configJSON)
	if err != nil {
		logger.Error(err.Error())
		return 0
	}

	cfg, err := config.Parse(data)
	if err != nil {
		logger.Error(err.Error())
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{
		LogDir:      *logDir,
		Verbose:     *verbose,
		Debug:       *debug,
		HistoryDSN:  *historyDSN,
		RedisAddr:   *redisAddr,
		RegistryTTL: time.Minute,
	})
	if err != nil {
		logger.Error(err.Error())
		return 0
	}

	if err := a.Run(ctx); err != nil {
		logger.Error(err.Error())
		return 0
	}
	return 0
}

func loadConfigSource(configPath, configJSON string) ([]byte, error) {
	if configJSON != "" {
		return []byte(configJSON), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("main: read config file %q: %w", configPath, err)
	}
	return data, nil
}
