package reference

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"mailmodel/internal/model"
)

// LoadFixtures читает все *.yaml / *.yml из dir. Порядок: Order, затем имя.
func LoadFixtures(dir string) ([]Fixture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var result []Fixture
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fx, err := LoadFixture(path)
		if err != nil {
			return nil, err
		}
		result = append(result, fx)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// LoadFixture читает один файл.
func LoadFixture(path string) (Fixture, error) {
	var fx Fixture
	data, err := os.ReadFile(path)
	if err != nil {
		return fx, err
	}
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fx, errors.Wrapf(err, "parse %s", path)
	}
	// Имя: из fx.Name или из имени файла
	if fx.Name == "" {
		base := filepath.Base(path)
		fx.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if strings.TrimSpace(fx.Model) == "" {
		return fx, errors.Newf("fixture %s (%s): model is required", fx.Name, path)
	}
	fx.Source = path
	return fx, nil
}

// Seed прогоняет фикстуры через Store.Insert, по одной операции на файл.
// Ошибки валидации отдельных файлов собираются, остальные файлы грузятся.
func Seed(store *model.Store, fixtures []Fixture) (SeedReport, error) {
	report := SeedReport{Records: make(map[string]int)}
	var errs error
	for _, fx := range fixtures {
		items := make([]model.Data, 0, len(fx.Records))
		for _, r := range fx.Records {
			items = append(items, model.Data(r))
		}
		recs, err := store.InsertMany(fx.Model, items)
		report.Fixtures++
		report.Records[fx.Model] += len(recs)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "fixture %s", fx.Name))
		}
	}
	return report, errs
}
