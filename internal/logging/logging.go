// Package logging строит zap-логгер сервиса.
package logging

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// New возвращает SugaredLogger: в devMode консольный вывод в stdout,
// иначе production JSON. Пустой level оставляет уровень конфигурации
// (debug для dev, info для production).
func New(devMode bool, level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if devMode {
		cfg = zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stdout"}
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl := strings.TrimSpace(level); lvl != "" {
		al, err := zap.ParseAtomicLevel(strings.ToLower(lvl))
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", level)
		}
		cfg.Level = al
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	return logger.Sugar(), nil
}
