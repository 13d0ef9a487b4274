package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dataman/internal/api"
	"dataman/internal/captcher"
	"dataman/internal/config"
	"dataman/internal/dataman"
	"dataman/internal/logging"
	"dataman/internal/pg"
	"dataman/internal/registry"
)

func main() {
	config.Flags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Ошибка логгера: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("server stopped", "error", err)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Реестр таблиц
	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return err
	}
	log.Infow("registry loaded", "tables", len(reg.Tables()), "path", cfg.Registry)
	for _, is := range api.RegistryLint(reg) {
		log.Warnw("registry issue", "table", is.Table, "column", is.Column, "code", is.Code, "message", is.Message)
	}

	// 2. Пулы Postgres
	pools, err := pg.OpenAll(ctx, cfg.Databases, log)
	if err != nil {
		return err
	}
	defer pools.Close()

	if cfg.AutoMigrate {
		if err := pg.Bootstrap(ctx, pools, reg, log); err != nil {
			return err
		}
	}

	// 3. Исполнитель и сервисы
	builder := dataman.Builder{Strict: cfg.Strict}
	executor := dataman.NewExecutor(pools, builder, log)

	srv := api.NewServer(executor, builder, reg, log)
	srv.AllowUnregistered = cfg.AllowUnregistered
	srv.RegistryPath = cfg.Registry

	if cfg.CaptcherEnabled() {
		privPEM, err := os.ReadFile(cfg.JWTPrivateKeyPath)
		if err != nil {
			return err
		}
		pubPEM, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			return err
		}
		c, err := captcher.New(captcher.NewStore(executor), captcher.Options{
			PrivateKeyPEM: privPEM,
			PublicKeyPEM:  pubPEM,
			TTL:           cfg.TokenTTL,
			MaxUsages:     cfg.TokenMaxUsages,
		}, log)
		if err != nil {
			return err
		}
		srv.Captcher = c
	} else {
		log.Warn("captcher disabled: jwtprivatekey/jwtpublickey not set")
	}

	style, err := dataman.ParseAPIKeyStyle(cfg.APIKeyStyle)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		log.Warn("api key is empty: /api routes are not protected")
	}

	// 4. HTTP
	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(srv, api.RouterOptions{
		APIKey:        cfg.APIKey,
		KeyStyle:      style,
		CORSOrigin:    cfg.CORSOrigin,
		CaptcherRPM:   cfg.CaptcherRPM,
		CaptcherBurst: cfg.CaptcherBurst,
	})
	log.Infow("starting dataman", "port", cfg.Port, "databases", pools.Keys())
	return api.RunServer(ctx, ":"+cfg.Port, router)
}
