package model

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RecordMethod: метод записи, объявленный моделью.
type RecordMethod func(r *Record, args ...any) (any, error)

// ModelMethod: метод уровня модели (фабрики, конвертеры payload и т.п.).
type ModelMethod func(s *Store, args ...any) (any, error)

// Hooks: lifecycle-хуки модели. Оба вызываются синхронно внутри операции
// Store и могут сами вызывать Insert/Update/Delete.
type Hooks struct {
	Created    func(r *Record) error
	WillDelete func(r *Record) error
}

// Definition: описание модели для Registry.Register.
type Definition struct {
	Name            string
	IdentifyingMode IdentifyingMode
	Fields          map[string]Field
	// FieldOrder задаёт порядок полей; не перечисленные идут следом по алфавиту.
	FieldOrder    []string
	RecordMethods map[string]RecordMethod
	ModelMethods  map[string]ModelMethod
	Hooks         Hooks
}

type modelInfo struct {
	name   string
	mode   IdentifyingMode
	fields []*Field
	byName map[string]*Field

	identifying []*Field
	computed    []*Field

	recordMethods map[string]RecordMethod
	modelMethods  map[string]ModelMethod
	hooks         Hooks

	// changed field -> вычисляемые поля, которые от него зависят (после Resolve)
	dependents map[string][]dependent
}

// dependent: вычисляемое поле и путь из обратных связей, по которому от
// изменившейся записи добираемся до записей-владельцев этого поля.
type dependent struct {
	field *Field
	back  []*Field
}

// Issue: одна проблема описания моделей (для Lint).
type Issue struct {
	Model   string `json:"model"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Registry: таблица моделей. Заполняется при старте, после Resolve
// становится read-only до Teardown.
type Registry struct {
	logger *zap.SugaredLogger

	models map[string]*modelInfo
	order  []string

	resolved bool
	ranks    map[*Field]int
	chain    int
}

// NewRegistry создаёт пустой реестр. logger может быть nil.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		logger: logger,
		models: make(map[string]*modelInfo),
	}
}

// Register проверяет определение и добавляет модель. Перезапись запрещена.
// Ссылки на ещё не зарегистрированные модели допустимы: они проверяются в
// Resolve при первом использовании.
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return configErr("?", "", "empty model name")
	}
	if r.resolved {
		return configErr(name, "", "registry is already resolved, register models before first use")
	}
	if _, exists := r.models[name]; exists {
		return configErr(name, "", "model is already registered")
	}

	info := &modelInfo{
		name:          name,
		mode:          def.IdentifyingMode,
		byName:        make(map[string]*Field, len(def.Fields)),
		recordMethods: copyMethods(def.RecordMethods),
		modelMethods:  copyMethods(def.ModelMethods),
		hooks:         def.Hooks,
		dependents:    make(map[string][]dependent),
	}

	var errs error
	for _, fname := range fieldOrder(def) {
		f := def.Fields[fname]
		f.name = fname
		f.model = name
		if err := checkField(info.mode, &f); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		fp := &f
		info.fields = append(info.fields, fp)
		info.byName[fname] = fp
		if fp.identifying {
			info.identifying = append(info.identifying, fp)
		}
		if fp.compute != nil {
			info.computed = append(info.computed, fp)
		}
	}
	for mname := range def.RecordMethods {
		if _, clash := info.byName[mname]; clash {
			errs = multierr.Append(errs, configErr(name, mname, "record method clashes with a field"))
		}
	}
	if info.mode == IdentifyXor && len(info.identifying) == 0 {
		errs = multierr.Append(errs, configErr(name, "", "xor identifying mode requires identifying fields"))
	}
	if errs != nil {
		return errs
	}
	if info.mode == IdentifyNone && len(info.identifying) > 0 {
		info.mode = IdentifyAnd
	}

	r.models[name] = info
	r.order = append(r.order, name)
	r.logger.Debugw("model registered", "model", name, "fields", len(info.fields))
	return nil
}

// MustRegister: как Register, но паникует. Для регистрации при старте.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func fieldOrder(def Definition) []string {
	seen := make(map[string]bool, len(def.Fields))
	out := make([]string, 0, len(def.Fields))
	for _, n := range def.FieldOrder {
		if _, ok := def.Fields[n]; ok && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	rest := make([]string, 0, len(def.Fields))
	for n := range def.Fields {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// checkField ловит противоречивые комбинации опций на этапе регистрации.
func checkField(mode IdentifyingMode, f *Field) error {
	m, n := f.model, f.name
	if n == "" || strings.HasPrefix(n, "$") || strings.Contains(n, ".") {
		return configErr(m, n, "invalid field name")
	}
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, configErr(m, n, format, args...))
	}

	switch f.kind {
	case KindAttr:
		if f.inverse != "" {
			add("inverse is only allowed on relation fields")
		}
		if f.causal {
			add("isCausal is only allowed on relation fields")
		}
		if f.identifying && mode == IdentifyNone {
			add("identifying attr requires the model to declare identifyingMode")
		}
		if f.identifying && mode == IdentifyXor {
			add("xor identifying mode only accepts one() fields")
		}
		if f.valueType == TypeEnum && len(f.enum) == 0 {
			add("enum attr without values")
		}
		switch f.valueType {
		case TypeAny, TypeString, TypeInt, TypeFloat, TypeBool, TypeEnum:
		default:
			add("unknown value type %q", f.valueType)
		}
	case KindOne, KindMany:
		if strings.TrimSpace(f.target) == "" {
			add("relation without target model")
		}
		if f.valueType != TypeAny {
			add("value types are only allowed on attr fields")
		}
		if f.kind == KindMany && f.identifying {
			add("many() field cannot be identifying")
		}
	default:
		add("unknown field kind %d", int(f.kind))
	}
	if f.identifying && f.compute != nil {
		add("identifying field cannot be computed")
	}
	if f.compute != nil && f.hasDefault {
		add("computed field cannot declare a default")
	}
	if f.compute == nil && len(f.deps) > 0 {
		add("dependencies declared without compute")
	}
	return errs
}

func copyMethods[T any](in map[string]T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Resolve разрешает отложенные ссылки: целевые модели, inverse (с проверкой
// симметрии), пути зависимостей compute и циклы между вычисляемыми полями.
// Все найденные проблемы возвращаются разом. Успешный Resolve замораживает
// реестр; повторный вызов - no-op.
func (r *Registry) Resolve() error {
	if r.resolved {
		return nil
	}
	for _, info := range r.models {
		info.dependents = make(map[string][]dependent)
	}
	errs := r.resolveInverses()
	if errs == nil {
		errs = r.resolveDependencies()
	}
	if errs == nil {
		errs = r.rankComputed()
	}
	if errs != nil {
		return errors.Wrap(errs, "resolve models")
	}
	r.resolved = true
	r.logger.Debugw("models resolved", "models", len(r.models), "longestComputeChain", r.chain)
	return nil
}

// Resolved сообщает, был ли уже успешный Resolve.
func (r *Registry) Resolved() bool { return r.resolved }

func (r *Registry) resolveInverses() error {
	var errs error
	for _, name := range r.order {
		info := r.models[name]
		for _, f := range info.fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := r.models[f.target]
			if !ok {
				errs = multierr.Append(errs, configErr(name, f.name, "unknown target model %q", f.target))
				continue
			}
			if f.inverse == "" {
				continue
			}
			inv, ok := target.byName[f.inverse]
			switch {
			case !ok:
				errs = multierr.Append(errs, configErr(name, f.name, "inverse %s.%s does not exist", f.target, f.inverse))
			case !inv.IsRelation():
				errs = multierr.Append(errs, configErr(name, f.name, "inverse %s is not a relation", inv))
			case inv.target != name:
				errs = multierr.Append(errs, configErr(name, f.name, "inverse %s targets %q instead of %q", inv, inv.target, name))
			case inv.inverse != f.name:
				errs = multierr.Append(errs, configErr(name, f.name, "inverse %s declares inverse %q, expected %q", inv, inv.inverse, f.name))
			default:
				f.inverseField = inv
			}
		}
	}
	return errs
}

// resolveDependencies строит обратный индекс: (модель, поле) -> какие
// вычисляемые поля и через какие обратные связи надо пометить устаревшими.
func (r *Registry) resolveDependencies() error {
	var errs error
	for _, name := range r.order {
		info := r.models[name]
		for _, c := range info.computed {
			for _, dep := range c.deps {
				if dep == OwnerDep {
					if info.mode != IdentifyXor {
						errs = multierr.Append(errs, configErr(name, c.name, "%s dependency on a non-xor model", OwnerDep))
						continue
					}
					info.dependents[OwnerDep] = append(info.dependents[OwnerDep], dependent{field: c})
					continue
				}
				path, err := r.walkPath(info, dep)
				if err != nil {
					errs = multierr.Append(errs, configErr(name, c.name, "dependency %q: %v", dep, err))
					continue
				}
				// path[i]: поле на i-й модели пути. Изменение path[i] на записи
				// этой модели возвращаемся к владельцу по inverse(path[i-1])...inverse(path[0]).
				for i, pf := range path {
					back := make([]*Field, 0, i)
					for j := i - 1; j >= 0; j-- {
						back = append(back, path[j].inverseField)
					}
					owner := r.models[pf.model]
					owner.dependents[pf.name] = append(owner.dependents[pf.name], dependent{field: c, back: back})
				}
			}
		}
	}
	return errs
}

func (r *Registry) walkPath(info *modelInfo, dep string) ([]*Field, error) {
	segs := strings.Split(dep, ".")
	path := make([]*Field, 0, len(segs))
	cur := info
	for i, seg := range segs {
		f, ok := cur.byName[seg]
		if !ok {
			return nil, errors.Newf("unknown field %s.%s", cur.name, seg)
		}
		path = append(path, f)
		if i == len(segs)-1 {
			break
		}
		if !f.IsRelation() {
			return nil, errors.Newf("%s is not a relation", f)
		}
		if f.inverseField == nil {
			return nil, errors.Newf("relation %s used in a dependency path must declare an inverse", f)
		}
		cur = r.models[f.target]
	}
	return path, nil
}

// computeEdges: вычисляемое поле -> вычисляемые поля, от которых оно зависит.
func (r *Registry) computeEdges() map[*Field][]*Field {
	edges := make(map[*Field][]*Field)
	for _, name := range r.order {
		info := r.models[name]
		for _, c := range info.computed {
			edges[c] = nil
		}
	}
	for _, name := range r.order {
		for changed, deps := range r.models[name].dependents {
			if changed == OwnerDep {
				// вариант владельца двигают identifying связи с вычисляемым inverse
				for _, idf := range r.models[name].identifying {
					inv := idf.inverseField
					if inv == nil || inv.compute == nil {
						continue
					}
					for _, d := range deps {
						edges[d.field] = appendUnique(edges[d.field], inv)
					}
				}
				continue
			}
			src := r.models[name].byName[changed]
			if src.compute == nil {
				// связь, которую двигает вычисляемый inverse, меняется вместе с ним
				inv := src.inverseField
				if inv == nil || inv.compute == nil {
					continue
				}
				src = inv
			}
			for _, d := range deps {
				edges[d.field] = appendUnique(edges[d.field], src)
			}
		}
	}
	return edges
}

func appendUnique(list []*Field, f *Field) []*Field {
	for _, x := range list {
		if x == f {
			return list
		}
	}
	return append(list, f)
}

// rankComputed раскладывает вычисляемые поля по рангам (длина самой длинной
// цепочки вычисляемых зависимостей). Цикл - ошибка конфигурации; глубина
// обхода ограничена числом вычисляемых полей.
func (r *Registry) rankComputed() error {
	edges := r.computeEdges()
	limit := len(edges) + 1
	ranks := make(map[*Field]int, len(edges))
	onStack := make(map[*Field]bool)

	var visit func(f *Field, depth int) (int, error)
	visit = func(f *Field, depth int) (int, error) {
		if rank, ok := ranks[f]; ok {
			return rank, nil
		}
		if onStack[f] || depth > limit {
			return 0, configErr(f.model, f.name, "cyclic compute dependency")
		}
		onStack[f] = true
		defer delete(onStack, f)
		rank := 0
		for _, d := range edges[f] {
			dr, err := visit(d, depth+1)
			if err != nil {
				return 0, err
			}
			if dr+1 > rank {
				rank = dr + 1
			}
		}
		ranks[f] = rank
		return rank, nil
	}

	var errs error
	chain := 0
	for _, name := range r.order {
		for _, c := range r.models[name].computed {
			rank, err := visit(c, 0)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if rank+1 > chain {
				chain = rank + 1
			}
		}
	}
	if errs != nil {
		return errs
	}
	r.ranks = ranks
	r.chain = chain
	return nil
}

// LongestComputeChain: длина самой длинной цепочки вычисляемых полей.
// Fixed point после любого изменения укладывается в столько проходов.
func (r *Registry) LongestComputeChain() int { return r.chain }

// Lint прогоняет проверки Resolve, не замораживая реестр.
func (r *Registry) Lint() []Issue {
	if r.resolved {
		return nil
	}
	errs := r.resolveInverses()
	if errs == nil {
		errs = r.resolveDependencies()
	}
	if errs == nil {
		errs = r.rankComputed()
	}
	for _, info := range r.models {
		info.dependents = make(map[string][]dependent)
	}
	var issues []Issue
	for _, err := range multierr.Errors(errs) {
		var ce *ConfigError
		if errors.As(err, &ce) {
			issues = append(issues, Issue{Model: ce.Model, Field: ce.Field, Message: ce.Reason})
			continue
		}
		issues = append(issues, Issue{Message: err.Error()})
	}
	return issues
}

// Teardown очищает реестр (для изоляции тестов).
func (r *Registry) Teardown() {
	r.models = make(map[string]*modelInfo)
	r.order = nil
	r.resolved = false
	r.ranks = nil
	r.chain = 0
}

func (r *Registry) model(name string) (*modelInfo, error) {
	info, ok := r.models[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "model %q", name)
	}
	return info, nil
}

// Has сообщает, зарегистрирована ли модель.
func (r *Registry) Has(name string) bool {
	_, ok := r.models[name]
	return ok
}

// Names возвращает имена моделей в порядке регистрации.
func (r *Registry) Names() []string { return append([]string(nil), r.order...) }

// Fields возвращает дескрипторы полей модели в объявленном порядке.
func (r *Registry) Fields(name string) ([]*Field, error) {
	info, err := r.model(name)
	if err != nil {
		return nil, err
	}
	return append([]*Field(nil), info.fields...), nil
}

// Field возвращает дескриптор одного поля.
func (r *Registry) Field(modelName, field string) (*Field, bool) {
	info, ok := r.models[modelName]
	if !ok {
		return nil, false
	}
	f, ok := info.byName[field]
	return f, ok
}

func (r *Registry) IdentifyingMode(name string) (IdentifyingMode, error) {
	info, err := r.model(name)
	if err != nil {
		return IdentifyNone, err
	}
	return info.mode, nil
}

func (r *Registry) ModelMethods(name string) (map[string]ModelMethod, error) {
	info, err := r.model(name)
	if err != nil {
		return nil, err
	}
	return copyMethods(info.modelMethods), nil
}

func (r *Registry) RecordMethods(name string) (map[string]RecordMethod, error) {
	info, err := r.model(name)
	if err != nil {
		return nil, err
	}
	return copyMethods(info.recordMethods), nil
}

func (r *Registry) Hooks(name string) (Hooks, error) {
	info, err := r.model(name)
	if err != nil {
		return Hooks{}, err
	}
	return info.hooks, nil
}
