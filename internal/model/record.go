package model

import (
	"github.com/cockroachdb/errors"
)

// ComputeState: состояние вычисляемого поля записи.
type ComputeState int

const (
	StateStale ComputeState = iota
	StateComputing
	StateSettled
)

func (s ComputeState) String() string {
	switch s {
	case StateStale:
		return "stale"
	case StateComputing:
		return "computing"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Record: живая запись модели. Создаётся только Store; менять поля можно
// только через Store.Update / Record.Update.
type Record struct {
	id    string
	info  *modelInfo
	store *Store
	key   string

	// attr -> значение, one -> *Record, many -> *recordSet
	values map[string]any
	states map[string]ComputeState

	deleting bool
	deleted  bool
}

func (r *Record) ID() string { return r.id }
func (r *Record) Model() string { return r.info.name }
func (r *Record) Store() *Store { return r.store }
func (r *Record) Exists() bool { return !r.deleted }
func (r *Record) String() string { return r.info.name + "#" + r.id }

// IsSet отличает "значение есть" (в том числе явный nil) от "значения нет"
// (никогда не задавалось или очищено через Clear()).
func (r *Record) IsSet(name string) bool {
	v, ok := r.values[name]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case *Record:
		return t != nil
	case *recordSet:
		return t.len() > 0
	default:
		return true
	}
}

// Get возвращает значение поля: скаляр для attr, *Record для one, []*Record
// для many. Для неустановленного поля - nil.
func (r *Record) Get(name string) any {
	switch t := r.values[name].(type) {
	case *Record:
		if t == nil {
			return nil
		}
		return t
	case *recordSet:
		return t.list()
	default:
		return t
	}
}

// One возвращает запись из one-поля или nil.
func (r *Record) One(name string) *Record {
	rec, _ := r.values[name].(*Record)
	return rec
}

// Many возвращает копию набора из many-поля.
func (r *Record) Many(name string) []*Record {
	set, _ := r.values[name].(*recordSet)
	if set == nil {
		return nil
	}
	return set.list()
}

func (r *Record) GetString(name string) string {
	s, _ := r.values[name].(string)
	return s
}

func (r *Record) GetBool(name string) bool {
	b, _ := r.values[name].(bool)
	return b
}

func (r *Record) GetInt(name string) int64 {
	n, _ := toIntStrict(r.values[name])
	return n
}

// ComputeState возвращает состояние вычисляемого поля.
func (r *Record) ComputeState(name string) ComputeState {
	return r.states[name]
}

// Owner возвращает активный вариант XOR-владельца.
func (r *Record) Owner() (Owner, bool) {
	if r.info.mode != IdentifyXor {
		return Owner{}, false
	}
	for _, f := range r.info.identifying {
		if v := r.One(f.name); v != nil {
			return Owner{Field: f.name, Record: v}, true
		}
	}
	return Owner{}, false
}

// Update: сокращение для Store.Update.
func (r *Record) Update(data Data) error { return r.store.Update(r, data) }

// Delete: сокращение для Store.Delete.
func (r *Record) Delete() error { return r.store.Delete(r) }

// Call вызывает метод записи, объявленный моделью.
func (r *Record) Call(method string, args ...any) (res any, err error) {
	fn, ok := r.info.recordMethods[method]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "record method %s.%s", r.info.name, method)
	}
	err = r.store.run(func() error {
		var err error
		res, err = fn(r, args...)
		return err
	})
	return res, err
}

// Snapshot отдаёт установленные поля в виде простых значений: связи
// заменяются на id записей.
func (r *Record) Snapshot() map[string]any {
	out := make(map[string]any, len(r.values))
	for _, f := range r.info.fields {
		v, ok := r.values[f.name]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case *Record:
			if t != nil {
				out[f.name] = t.id
			}
		case *recordSet:
			ids := make([]string, 0, t.len())
			for _, it := range t.items {
				ids = append(ids, it.id)
			}
			out[f.name] = ids
		default:
			out[f.name] = t
		}
	}
	return out
}

func (r *Record) related(f *Field) []*Record {
	switch t := r.values[f.name].(type) {
	case *Record:
		if t != nil {
			return []*Record{t}
		}
	case *recordSet:
		return t.list()
	}
	return nil
}

func (r *Record) set(f *Field) *recordSet {
	set, _ := r.values[f.name].(*recordSet)
	if set == nil {
		set = newRecordSet()
		r.values[f.name] = set
	}
	return set
}

// recordSet: упорядоченное множество записей без дублей.
type recordSet struct {
	items []*Record
	pos   map[*Record]int
}

func newRecordSet() *recordSet {
	return &recordSet{pos: make(map[*Record]int)}
}

func (s *recordSet) len() int { return len(s.items) }

func (s *recordSet) has(r *Record) bool {
	_, ok := s.pos[r]
	return ok
}

func (s *recordSet) add(r *Record) bool {
	if s.has(r) {
		return false
	}
	s.pos[r] = len(s.items)
	s.items = append(s.items, r)
	return true
}

func (s *recordSet) remove(r *Record) bool {
	i, ok := s.pos[r]
	if !ok {
		return false
	}
	copy(s.items[i:], s.items[i+1:])
	s.items[len(s.items)-1] = nil
	s.items = s.items[:len(s.items)-1]
	delete(s.pos, r)
	for j := i; j < len(s.items); j++ {
		s.pos[s.items[j]] = j
	}
	return true
}

// reorder выставляет порядок по order, если состав совпадает с набором.
func (s *recordSet) reorder(order []*Record) bool {
	if len(order) != len(s.items) {
		return false
	}
	same := true
	for i, r := range order {
		if !s.has(r) {
			return false
		}
		if s.items[i] != r {
			same = false
		}
	}
	if same {
		return false
	}
	for i, r := range order {
		s.items[i] = r
		s.pos[r] = i
	}
	return true
}

func (s *recordSet) list() []*Record {
	return append([]*Record(nil), s.items...)
}
