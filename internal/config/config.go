package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

type Config struct {
	Port        string `json:"port"`
	DSLDir      string `json:"dslDir"`      // *.dsl с описаниями моделей (пусто - только Go-модели)
	FixturesDir string `json:"fixturesDir"` // *.yaml с данными для старта
	DevMode     bool   `json:"devMode"`
	LogLevel    string `json:"logLevel"`

	// Предел проходов пересчёта за операцию (0 - вычисляется по реестру)
	MaxComputePasses int `json:"maxComputePasses"`
}

func def() Config {
	return Config{
		Port:             "8080",
		DSLDir:           "models",
		FixturesDir:      "fixtures",
		DevMode:          false,
		LogLevel:         "",
		MaxComputePasses: 0,
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, errors.Wrapf(err, "parse %s", path)
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func parseBool(v string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

// Load: значения по умолчанию, затем JSON (если файл есть), ENV и флаги из
// args. Флаг -config указывает другой JSON.
func Load(jsonPath string, args []string) (Config, error) {
	fs := flag.NewFlagSet("mailmodel", flag.ContinueOnError)
	configPath := fs.String("config", jsonPath, "Path to config JSON")
	port := fs.String("port", "", "HTTP port")
	dsl := fs.String("dsl", "", "Path to DSL directory (empty string disables DSL models)")
	fixtures := fs.String("fixtures", "", "Path to YAML fixtures directory")
	dev := fs.String("dev", "", "Development mode (true/false)")
	level := fs.String("log-level", "", "Log level (debug/info/warn/error)")
	passes := fs.Int("max-compute-passes", -1, "Compute passes per operation (0 = derived from models)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(*configPath); err == nil && !st.IsDir() {
		c2, err := loadJSON(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c2
	}

	// ENV overrides
	cfg.Port = getenv("MAILMODEL_PORT", cfg.Port)
	if v, ok := os.LookupEnv("MAILMODEL_DSL_DIR"); ok {
		cfg.DSLDir = strings.TrimSpace(v)
	}
	cfg.FixturesDir = getenv("MAILMODEL_FIXTURES_DIR", cfg.FixturesDir)
	cfg.DevMode = getenvBool("MAILMODEL_DEV", cfg.DevMode)
	cfg.LogLevel = getenv("MAILMODEL_LOG_LEVEL", cfg.LogLevel)
	cfg.MaxComputePasses = getenvInt("MAILMODEL_MAX_COMPUTE_PASSES", cfg.MaxComputePasses)

	// Flags overrides: только явно переданные
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = strings.TrimSpace(*port)
		case "dsl":
			cfg.DSLDir = strings.TrimSpace(*dsl)
		case "fixtures":
			cfg.FixturesDir = strings.TrimSpace(*fixtures)
		case "dev":
			if b, ok := parseBool(*dev); ok {
				cfg.DevMode = b
			}
		case "log-level":
			cfg.LogLevel = strings.TrimSpace(*level)
		case "max-compute-passes":
			cfg.MaxComputePasses = *passes
		}
	})

	if cfg.MaxComputePasses < 0 {
		return cfg, errors.Newf("maxComputePasses must be >= 0, got %d", cfg.MaxComputePasses)
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("port is required")
	}
	return cfg, nil
}

// Addr: адрес для http-сервера.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
