package model

import (
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Store хранит живые записи всех моделей реестра. Все операции синхронные и
// выполняются до конца за один вызов; блокировок внутри нет - Store
// рассчитан на одного писателя (см. api.Inspector, который держит mutex).
type Store struct {
	reg       *Registry
	logger    *zap.SugaredLogger
	devMode   bool
	maxPasses int
	entropy   io.Reader

	records map[string]map[string]*Record // model -> id -> запись
	index   map[string]map[string]*Record // model -> identity key -> запись

	syncing map[edge]bool
	depth   int
	op      *operation

	stats Stats
}

// Stats: счётчики для диагностики и тестов.
type Stats struct {
	Operations int
	LastPasses int
	MaxPasses  int
}

// Option настраивает Store.
type Option func(*Store)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDevMode включает предупреждения о неизвестных полях в payload.
func WithDevMode(on bool) Option { return func(s *Store) { s.devMode = on } }

// WithMaxComputePasses ограничивает число проходов fixed point (0 - по
// длине самой длинной цепочки вычисляемых полей).
func WithMaxComputePasses(n int) Option { return func(s *Store) { s.maxPasses = n } }

// NewStore создаёт пустое хранилище поверх реестра. Реестр разрешается
// (Resolve) при первой операции.
func NewStore(reg *Registry, opts ...Option) *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Store{
		reg:     reg,
		logger:  zap.NewNop().Sugar(),
		entropy: ulid.Monotonic(src, 0),
		records: make(map[string]map[string]*Record),
		index:   make(map[string]map[string]*Record),
		syncing: make(map[edge]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Registry возвращает реестр, на котором построен Store.
func (s *Store) Registry() *Registry { return s.reg }

// Stats возвращает счётчики последних операций.
func (s *Store) Stats() Stats { return s.stats }

// operation: состояние внешней (самой верхней) операции: что пересчитать,
// какие записи затронуты, какие ошибки валидации накоплены.
type operation struct {
	dirty   map[cell]struct{}
	pending map[cell]struct{}
	touched []*Record
	seen    map[*Record]bool
	orphans []*Record
	errs    error
}

type cell struct {
	rec   *Record
	field *Field
}

func (s *Store) begin() {
	if s.depth == 0 {
		s.op = &operation{
			dirty: make(map[cell]struct{}),
			seen:  make(map[*Record]bool),
		}
	}
	s.depth++
}

// end закрывает операцию. На верхнем уровне доводит вычисления до fixed
// point и проверяет required поля затронутых записей.
// Пока идёт flush, depth остаётся 1: операции из хуков и вычислений
// становятся вложенными и попадают в тот же fixed point.
func (s *Store) end(err error) error {
	if s.depth > 1 {
		s.depth--
		return err
	}
	op := s.op
	defer func() {
		s.depth = 0
		s.op = nil
	}()
	s.stats.Operations++

	if ferr := s.flush(); ferr != nil {
		return multierr.Combine(err, op.errs, ferr)
	}
	return multierr.Combine(err, op.errs, s.checkRequired(op.touched))
}

// abort сбрасывает состояние после паники внутри операции.
func (s *Store) abort() {
	s.depth = 0
	s.op = nil
	s.syncing = make(map[edge]bool)
}

func (s *Store) run(fn func() error) (err error) {
	if err := s.reg.Resolve(); err != nil {
		return err
	}
	s.begin()
	defer func() {
		if p := recover(); p != nil {
			s.abort()
			panic(p)
		}
		err = s.end(err)
	}()
	return fn()
}

func (s *Store) touch(rec *Record) {
	if s.op == nil || s.op.seen[rec] {
		return
	}
	s.op.seen[rec] = true
	s.op.touched = append(s.op.touched, rec)
}

func (s *Store) report(err error) {
	if s.op != nil && err != nil {
		s.op.errs = multierr.Append(s.op.errs, err)
	}
}

// Insert находит запись по identity-ключу из data и обновляет её, либо
// создаёт новую. Повторный Insert с тем же ключом возвращает ту же запись.
// При ошибке валидации required/типов запись всё равно возвращается вместе
// с ошибкой: остальные поля уже применены.
func (s *Store) Insert(model string, data Data) (*Record, error) {
	var rec *Record
	err := s.run(func() error {
		var err error
		rec, err = s.insert(model, data)
		return err
	})
	return rec, err
}

// InsertMany вставляет пачку payload одной операцией.
func (s *Store) InsertMany(model string, items []Data) ([]*Record, error) {
	out := make([]*Record, 0, len(items))
	err := s.run(func() error {
		for _, d := range items {
			rec, err := s.insert(model, d)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Update применяет data к записи и пересчитывает зависимые поля.
func (s *Store) Update(rec *Record, data Data) error {
	if rec == nil {
		return errors.AssertionFailedf("update of a nil record")
	}
	return s.run(func() error { return s.update(rec, data) })
}

// Delete удаляет запись, отвязывает её от всех связей и каскадно удаляет
// causal-зависимые записи.
func (s *Store) Delete(rec *Record) error {
	if rec == nil {
		return errors.AssertionFailedf("delete of a nil record")
	}
	return s.run(func() error { return s.delete(rec) })
}

// CallModelMethod вызывает метод модели в рамках одной операции.
func (s *Store) CallModelMethod(model, method string, args ...any) (any, error) {
	info, err := s.reg.model(model)
	if err != nil {
		return nil, err
	}
	fn, ok := info.modelMethods[method]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "model method %s.%s", model, method)
	}
	var res any
	err = s.run(func() error {
		var err error
		res, err = fn(s, args...)
		return err
	})
	return res, err
}

// FindByIdentity ищет живую запись по identity-ключу.
func (s *Store) FindByIdentity(model string, key Key) (*Record, bool) {
	if err := s.reg.Resolve(); err != nil {
		return nil, false
	}
	info, err := s.reg.model(model)
	if err != nil {
		return nil, false
	}
	k, err := s.lookupKey(info, key)
	if err != nil || k == "" {
		return nil, false
	}
	rec := s.index[model][k]
	return rec, rec != nil
}

// Get возвращает живую запись по локальному id.
func (s *Store) Get(model, id string) (*Record, bool) {
	rec := s.records[model][id]
	return rec, rec != nil
}

// All возвращает живые записи модели в порядке создания.
func (s *Store) All(model string) []*Record {
	m := s.records[model]
	out := make([]*Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	// ULID монотонен - сортировка по id даёт порядок создания
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Count: число живых записей модели.
func (s *Store) Count(model string) int { return len(s.records[model]) }

func (s *Store) insert(model string, data Data) (*Record, error) {
	info, err := s.reg.model(model)
	if err != nil {
		return nil, err
	}
	ident, key, err := s.identity(info, data)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if rec := s.index[model][key]; rec != nil {
			return rec, s.update(rec, withoutIdentifying(info, data))
		}
	}

	rec := &Record{
		id:     s.newID(),
		info:   info,
		store:  s,
		key:    key,
		values: make(map[string]any, len(info.fields)),
		states: make(map[string]ComputeState, len(info.computed)),
	}
	if s.records[model] == nil {
		s.records[model] = make(map[string]*Record)
		s.index[model] = make(map[string]*Record)
	}
	s.records[model][rec.id] = rec
	if key != "" {
		s.index[model][key] = rec
	}
	s.touch(rec)

	// identifying поля - часть конструкции записи
	for _, f := range info.identifying {
		if v, ok := ident[f.name]; ok {
			s.assign(rec, f, v)
		}
	}
	for _, c := range info.computed {
		s.markDirty(rec, c)
	}
	// ошибка Created хука возвращается после заполнения полей
	var hookErr error
	if hook := info.hooks.Created; hook != nil {
		if err := hook(rec); err != nil {
			hookErr = errors.Wrapf(err, "%s created hook", model)
		}
	}

	for _, f := range info.fields {
		if f.identifying || f.compute != nil {
			continue
		}
		if v, ok := data[f.name]; ok {
			s.assign(rec, f, v)
			continue
		}
		if f.hasDefault {
			s.assign(rec, f, f.defaultValue())
		}
	}
	s.warnUnknown(info, data)
	s.rejectComputed(info, data)
	return rec, hookErr
}

func (s *Store) update(rec *Record, data Data) error {
	if rec.deleted {
		return validationErr(rec.info.name, "", CodeDeleted, "record %s is deleted", rec.id)
	}
	info := rec.info
	s.touch(rec)
	for _, f := range info.fields {
		v, ok := data[f.name]
		if !ok || f.compute != nil {
			continue
		}
		if f.identifying {
			s.checkIdentifyingUnchanged(rec, f, v)
			continue
		}
		if f.readonly {
			s.report(validationErr(info.name, f.name, CodeReadOnly, "field '%s' is read-only", f.name))
			continue
		}
		s.assign(rec, f, v)
	}
	s.warnUnknown(info, data)
	s.rejectComputed(info, data)
	return nil
}

// withoutIdentifying: при повторном Insert identifying поля уже совпали
// по ключу, повторно их не проверяем.
func withoutIdentifying(info *modelInfo, data Data) Data {
	out := make(Data, len(data))
	for k, v := range data {
		if f, ok := info.byName[k]; ok && f.identifying {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Store) warnUnknown(info *modelInfo, data Data) {
	if !s.devMode {
		return
	}
	for name := range data {
		if _, ok := info.byName[name]; !ok {
			s.logger.Warnw("ignoring undeclared field", "model", info.name, "field", name)
		}
	}
}

// rejectComputed: вычисляемые поля снаружи не пишутся.
func (s *Store) rejectComputed(info *modelInfo, data Data) {
	for _, c := range info.computed {
		if _, ok := data[c.name]; ok {
			s.report(validationErr(info.name, c.name, CodeReadOnly, "computed field '%s' cannot be assigned", c.name))
		}
	}
}

// assign записывает значение в поле: attr с приведением типа, связи через
// Relation Maintainer.
func (s *Store) assign(rec *Record, f *Field, v any) {
	if f.IsRelation() {
		if err := s.assignRelation(rec, f, v); err != nil {
			s.report(err)
		}
		return
	}
	s.setAttr(rec, f, v)
}

func (s *Store) setAttr(rec *Record, f *Field, v any) {
	old, had := rec.values[f.name]
	if IsClear(v) {
		if !had {
			return
		}
		delete(rec.values, f.name)
		s.changed(rec, f)
		return
	}
	norm, err := CoerceValue(f.valueType, f.enum, v)
	if err != nil {
		code := CodeTypeMismatch
		if f.valueType == TypeEnum {
			code = CodeEnumInvalid
		}
		s.report(validationErr(rec.info.name, f.name, code, "field '%s' %v", f.name, err))
		return
	}
	if had && equalValues(old, norm) {
		return
	}
	rec.values[f.name] = norm
	s.changed(rec, f)
}

func (s *Store) delete(rec *Record) error {
	if rec.deleted || rec.deleting {
		return nil
	}
	info := rec.info
	if hook := info.hooks.WillDelete; hook != nil {
		if err := hook(rec); err != nil {
			return errors.Wrapf(err, "%s will-delete hook", info.name)
		}
	}
	rec.deleting = true

	var cascade []*Record
	for _, f := range info.fields {
		if !f.IsRelation() {
			continue
		}
		related := rec.related(f)
		if f.causal {
			cascade = append(cascade, related...)
		}
		for _, other := range related {
			s.unlink(rec, f, other)
		}
	}

	delete(s.records[info.name], rec.id)
	if rec.key != "" && s.index[info.name][rec.key] == rec {
		delete(s.index[info.name], rec.key)
	}
	rec.deleted = true
	rec.deleting = false

	for _, c := range cascade {
		if c.deleted {
			continue
		}
		s.logger.Debugw("cascade delete", "from", rec.String(), "record", c.String())
		if err := s.delete(c); err != nil {
			return err
		}
	}
	return nil
}

// checkRequired: проверка required в конце операции, после fixed point:
// промежуточные состояния внутри одной операции допустимы.
func (s *Store) checkRequired(touched []*Record) error {
	var errs error
	for _, rec := range touched {
		if rec.deleted {
			continue
		}
		for _, f := range rec.info.fields {
			if !f.required {
				continue
			}
			if !rec.IsSet(f.name) || (f.kind == KindAttr && rec.values[f.name] == nil) {
				errs = multierr.Append(errs, validationErr(rec.info.name, f.name, CodeRequired,
					"field '%s' is required (record %s)", f.name, rec.id))
			}
		}
	}
	return errs
}
