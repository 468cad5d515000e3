package dsl

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"

	"mailmodel/internal/model"
)

var valueTypes = map[string]model.ValueType{
	"any":    model.TypeAny,
	"string": model.TypeString,
	"int":    model.TypeInt,
	"float":  model.TypeFloat,
	"bool":   model.TypeBool,
}

var knownFieldOptions = map[string]bool{
	"identifying": true, "required": true, "causal": true, "readonly": true,
	"inverse": true, "default": true, "compute": true, "deps": true,
}

// Definition переводит DSL-модель в model.Definition. Compute и хуки
// берутся из каталога по имени.
func (m *Model) Definition(cat *Catalog) (model.Definition, error) {
	def := model.Definition{
		Name:   m.Name,
		Fields: make(map[string]model.Field, len(m.Fields)),
	}
	var errs error

	mode, err := model.ParseIdentifyingMode(m.Options["identifying"])
	if err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "model %s", m.Name))
	}
	def.IdentifyingMode = mode

	if name := m.Options["created"]; name != "" {
		h, err := cat.hook(name)
		errs = multierr.Append(errs, wrapModel(err, m.Name))
		def.Hooks.Created = h
	}
	if name := m.Options["willdelete"]; name != "" {
		h, err := cat.hook(name)
		errs = multierr.Append(errs, wrapModel(err, m.Name))
		def.Hooks.WillDelete = h
	}

	for _, f := range m.Fields {
		if _, dup := def.Fields[f.Name]; dup {
			errs = multierr.Append(errs, errors.Newf("model %s: duplicate field %s", m.Name, f.Name))
			continue
		}
		field, err := f.build(cat)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "model %s field %s", m.Name, f.Name))
			continue
		}
		def.Fields[f.Name] = field
		def.FieldOrder = append(def.FieldOrder, f.Name)
	}
	return def, errs
}

func wrapModel(err error, name string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "model %s", name)
}

func (f Field) build(cat *Catalog) (model.Field, error) {
	var opts []model.FieldOption
	for k := range f.Options {
		if !knownFieldOptions[k] {
			return model.Field{}, errors.Newf("unknown option %q", k)
		}
	}
	if isTrue(f.Options["identifying"]) {
		opts = append(opts, model.Identifying())
	}
	if isTrue(f.Options["required"]) {
		opts = append(opts, model.Required())
	}
	if isTrue(f.Options["causal"]) {
		opts = append(opts, model.Causal())
	}
	if isTrue(f.Options["readonly"]) {
		opts = append(opts, model.Readonly())
	}
	if inv := f.Options["inverse"]; inv != "" {
		opts = append(opts, model.Inverse(inv))
	}
	if def, ok := f.Options["default"]; ok {
		// строка приводится к типу поля при присвоении
		opts = append(opts, model.Default(def))
	}
	if expr := f.Options["compute"]; expr != "" {
		fn, deps, err := cat.build(expr)
		if err != nil {
			return model.Field{}, err
		}
		if raw, ok := f.Options["deps"]; ok {
			deps = parseDeps(raw)
		}
		opts = append(opts, model.Compute(fn, deps...))
	} else if _, ok := f.Options["deps"]; ok {
		return model.Field{}, errors.New("deps without compute")
	}

	switch f.Type {
	case "one":
		return model.One(f.Target, opts...), nil
	case "many":
		return model.Many(f.Target, opts...), nil
	case "enum":
		return model.Attr(append(opts, model.Enum(f.Enum...))...), nil
	default:
		vt, ok := valueTypes[f.Type]
		if !ok {
			return model.Field{}, errors.Newf("unknown type %q", f.Type)
		}
		return model.Attr(append(opts, model.OfType(vt))...), nil
	}
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// parseDeps: "[a.b c]" или "a.b"
func parseDeps(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	return strings.Fields(raw)
}

// RegisterAll регистрирует модели в реестре в порядке FQN. Ошибки всех
// моделей собираются вместе.
func RegisterAll(reg *model.Registry, models map[string]*Model, cat *Catalog) error {
	names := make([]string, 0, len(models))
	for fqn := range models {
		names = append(names, fqn)
	}
	sort.Strings(names)

	var errs error
	for _, fqn := range names {
		def, err := models[fqn].Definition(cat)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := reg.Register(def); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "register %s", fqn))
		}
	}
	return errs
}
