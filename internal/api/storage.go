package api

import (
	"sync"

	"go.uber.org/zap"

	"mailmodel/internal/model"
)

// Storage: HTTP-обёртка над одним model.Store. Ядро однопоточное, поэтому
// все обращения из обработчиков идут под mu.
type Storage struct {
	mu          sync.Mutex
	Store       *model.Store
	Registry    *model.Registry
	FixturesDir string
	logger      *zap.SugaredLogger
}

// NewStorage оборачивает store. logger может быть nil.
func NewStorage(store *model.Store, fixturesDir string, logger *zap.SugaredLogger) *Storage {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Storage{
		Store:       store,
		Registry:    store.Registry(),
		FixturesDir: fixturesDir,
		logger:      logger,
	}
}

// withLock выполняет fn под mu.
func (s *Storage) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// record возвращает живую запись модели по id.
func (s *Storage) record(modelName, id string) (*model.Record, bool) {
	rec, ok := s.Store.Get(modelName, id)
	if !ok || rec == nil || !rec.Exists() {
		return nil, false
	}
	return rec, true
}
