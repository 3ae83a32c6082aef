package main

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/2beens/sitegate/internal"
	"github.com/2beens/sitegate/internal/config"
	"github.com/2beens/sitegate/internal/logging"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

// secrets and switches that never go into the config file
type serviceEnv struct {
	SentryDSN        string `env:"SENTRY_DSN"`
	RedisPassword    string `env:"SITEGATE_REDIS_PASS"`
	DBUser           string `env:"SITEGATE_DB_USER"`
	DBPassword       string `env:"SITEGATE_DB_PASS"`
	OtelServiceName  string `env:"OTEL_SERVICE_NAME"`
	HoneycombEnabled bool   `env:"HONEYCOMB_ENABLED"`
	HoneycombAPIKey  string `env:"HONEYCOMB_API_KEY"`
}

func main() {
	envName := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "TOML config file path")
	flag.Parse()

	cfg, err := config.Load(*envName, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var env serviceEnv
	if err := envconfig.Process(ctx, &env); err != nil {
		log.Fatalf("read env: %s", err)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        env.SentryDSN,
		SentryServerName: "sitegate",
	})
	log.Warnf("sitegate starting, env [%s], port %d", cfg.Environment, cfg.Port)
	checkEnv(cfg, env)

	versionInfo, err := lastCommitHash()
	if err != nil {
		log.Tracef("no version info: %s", err)
	}

	server, err := internal.NewServer(ctx, internal.NewServerParams{
		Config:                  cfg,
		VersionInfo:             versionInfo,
		DBUser:                  env.DBUser,
		DBPassword:              env.DBPassword,
		RedisPassword:           env.RedisPassword,
		HoneycombTracingEnabled: env.HoneycombEnabled,
	})
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	server.Serve(ctx, cfg.Host, cfg.Port)

	sig := <-signals
	log.Warnf("got %s, shutting down", sig)
	cancel()
	server.GracefulShutdown()
}

func checkEnv(cfg *config.Config, env serviceEnv) {
	if cfg.Session.Backend == "redis" && env.RedisPassword == "" {
		log.Errorln("redis session backend without SITEGATE_REDIS_PASS")
	}
	if env.OtelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME not set")
	}
	if !env.HoneycombEnabled {
		log.Debugln("honeycomb tracing disabled")
	} else if env.HoneycombAPIKey == "" {
		log.Warnln("honeycomb enabled but HONEYCOMB_API_KEY not set")
	}
}

// lastCommitHash expects the binary to run from inside the repo checkout.
func lastCommitHash() (string, error) {
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
