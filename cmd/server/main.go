package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"mailmodel/internal/api"
	"mailmodel/internal/config"
	"mailmodel/internal/dsl"
	"mailmodel/internal/logging"
	"mailmodel/internal/mail"
	"mailmodel/internal/model"
	"mailmodel/internal/reference"
)

func main() {
	cfg, err := config.Load("config.json", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.DevMode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger.Desugar())

	// 1. Реестр: Go-модели мессенджера + модели из DSL
	reg := model.NewRegistry(logger)
	if err := mail.Register(reg); err != nil {
		logger.Fatalw("register mail models", "error", err)
	}
	if dirExists(cfg.DSLDir) {
		models, err := dsl.LoadAllModels(cfg.DSLDir)
		if err != nil {
			logger.Fatalw("load DSL", "dir", cfg.DSLDir, "error", err)
		}
		if err := dsl.RegisterAll(reg, models, dsl.NewCatalog()); err != nil {
			logger.Fatalw("register DSL models", "dir", cfg.DSLDir, "error", err)
		}
		logger.Infow("DSL models loaded", "dir", cfg.DSLDir, "models", len(models))
	}

	// 2. Ошибки описания моделей валят старт
	if err := reg.Resolve(); err != nil {
		logger.Fatalw("resolve models", "error", err)
	}

	// 3. Хранилище записей
	store := model.NewStore(reg,
		model.WithLogger(logger),
		model.WithDevMode(cfg.DevMode),
		model.WithMaxComputePasses(cfg.MaxComputePasses),
	)

	// 4. Стартовые данные
	if dirExists(cfg.FixturesDir) {
		fixtures, err := reference.LoadFixtures(cfg.FixturesDir)
		if err != nil {
			logger.Fatalw("load fixtures", "dir", cfg.FixturesDir, "error", err)
		}
		report, err := reference.Seed(store, fixtures)
		if err != nil {
			logger.Warnw("fixtures seeded with errors", "error", err)
		}
		logger.Infow("fixtures seeded", "fixtures", report.Fixtures, "records", report.Records)
	}

	// 5. HTTP-инспектор
	storage := api.NewStorage(store, cfg.FixturesDir, logger)
	logger.Infow("starting server", "addr", cfg.Addr(), "models", len(reg.Names()))
	if err := api.RunServer(cfg.Addr(), storage); err != nil {
		logger.Fatalw("server stopped", "error", err)
	}
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
