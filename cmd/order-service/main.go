package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/app"
	"github.com/vladislavdragonenkov/ordersvc/internal/version"
)

const (
	envConfigFile = "OMS_CONFIG_FILE"
	envLogFormat  = "OMS_LOG_FORMAT"
	envLogLevel   = "OMS_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) error {
	format, _ := lookup(envLogFormat)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q (use text|json)", format)
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", envLogLevel, err)
		}
		level = parsed
	}
	log.SetLevel(level)
	return nil
}

// readConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл, затем OMS_*.
func readConfig(lookup envLookup) (app.Config, error) {
	cfg := app.DefaultConfig()

	if path, ok := lookup(envConfigFile); ok && strings.TrimSpace(path) != "" {
		loaded, err := app.LoadConfigFile(strings.TrimSpace(path), cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	return app.ApplyEnv(cfg, lookup)
}

func main() {
	if err := setupLogger(os.LookupEnv); err != nil {
		log.WithError(err).Fatal("некорректные настройки логирования")
	}

	cfg, err := readConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":     cfg.HTTPAddr,
		"metrics_addr":  cfg.MetricsAddr,
		"storage":       cfg.StorageDriver,
		"broker":        cfg.Broker,
		"delivery_mode": cfg.DeliveryMode,
	}).Info("запускаем сервис заказов")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("сервис заказов остановлен")
}
