package model

import (
	"sort"
	"strings"
)

// Key: значения identifying полей для FindByIdentity: имя поля -> *Record
// (для one) или скаляр (для attr).
type Key map[string]any

// identity вычисляет identity-ключ из payload. Вложенные Data в identifying
// one-полях вставляются в целевую модель. Возвращает разрешённые значения
// identifying полей и строковый ключ ("" - у модели нет identifying полей).
func (s *Store) identity(info *modelInfo, data Data) (map[string]any, string, error) {
	if len(info.identifying) == 0 {
		return nil, "", nil
	}
	present := make([]*Field, 0, len(info.identifying))
	for _, f := range info.identifying {
		if v, ok := data[f.name]; ok && v != nil && !IsClear(v) {
			present = append(present, f)
		}
	}
	if err := checkIdentifyingSet(info, present); err != nil {
		return nil, "", err
	}

	vals := make(map[string]any, len(present))
	for _, f := range present {
		v, err := s.resolveIdentifying(f, data[f.name])
		if err != nil {
			return nil, "", err
		}
		vals[f.name] = v
	}
	return vals, identityKey(info, vals), nil
}

func checkIdentifyingSet(info *modelInfo, present []*Field) error {
	switch info.mode {
	case IdentifyXor:
		if len(present) == 0 {
			names := make([]string, 0, len(info.identifying))
			for _, f := range info.identifying {
				names = append(names, f.name)
			}
			return validationErr(info.name, "", CodeMissingIdentifying,
				"missing identifying field: exactly one of [%s] must be set", strings.Join(names, ", "))
		}
		if len(present) > 1 {
			names := make([]string, 0, len(present))
			for _, f := range present {
				names = append(names, f.name)
			}
			return validationErr(info.name, "", CodeAmbiguousIdentifying,
				"xor identity got several identifying fields: %s", strings.Join(names, ", "))
		}
	default:
		if len(present) == len(info.identifying) {
			return nil
		}
		have := make(map[*Field]bool, len(present))
		for _, f := range present {
			have[f] = true
		}
		for _, f := range info.identifying {
			if !have[f] {
				return validationErr(info.name, f.name, CodeMissingIdentifying, "missing identifying field '%s'", f.name)
			}
		}
	}
	return nil
}

func (s *Store) resolveIdentifying(f *Field, v any) (any, error) {
	if f.kind == KindAttr {
		norm, err := CoerceValue(f.valueType, f.enum, v)
		if err != nil {
			return nil, validationErr(f.model, f.name, CodeTypeMismatch, "identifying field '%s' %v", f.name, err)
		}
		return norm, nil
	}
	switch t := v.(type) {
	case *Record:
		return t, s.checkTarget(f, t)
	case Data:
		return s.insert(f.target, t)
	case map[string]any:
		return s.insert(f.target, Data(t))
	default:
		return nil, validationErr(f.model, f.name, CodeTypeMismatch,
			"identifying field '%s' expects a %s record or payload, got %T", f.name, f.target, v)
	}
}

// identityKey склеивает ключ. В XOR-ключ входит имя поля: одна и та же
// запись-владелец в разных ролях даёт разные ключи.
func identityKey(info *modelInfo, vals map[string]any) string {
	if len(vals) == 0 {
		return ""
	}
	if info.mode == IdentifyXor {
		for name, v := range vals {
			return name + "=" + keyPart(v)
		}
	}
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+keyPart(vals[name]))
	}
	return strings.Join(parts, "\x1f")
}

// lookupKey строит ключ для поиска, ничего не вставляя.
func (s *Store) lookupKey(info *modelInfo, key Key) (string, error) {
	present := make([]*Field, 0, len(info.identifying))
	vals := make(map[string]any, len(key))
	for _, f := range info.identifying {
		v, ok := key[f.name]
		if !ok || v == nil || IsClear(v) {
			continue
		}
		if f.kind == KindAttr {
			norm, err := CoerceValue(f.valueType, f.enum, v)
			if err != nil {
				return "", validationErr(info.name, f.name, CodeTypeMismatch, "identifying field '%s' %v", f.name, err)
			}
			v = norm
		} else {
			rec, err := s.lookupRecord(f.target, v)
			if err != nil || rec == nil {
				return "", err
			}
			v = rec
		}
		present = append(present, f)
		vals[f.name] = v
	}
	if err := checkIdentifyingSet(info, present); err != nil {
		return "", err
	}
	return identityKey(info, vals), nil
}

// lookupRecord находит существующую запись по *Record или по payload.
func (s *Store) lookupRecord(model string, v any) (*Record, error) {
	switch t := v.(type) {
	case *Record:
		return t, nil
	case Data:
		rec, _ := s.FindByIdentity(model, Key(t))
		return rec, nil
	case map[string]any:
		rec, _ := s.FindByIdentity(model, Key(t))
		return rec, nil
	default:
		return nil, nil
	}
}

// checkIdentifyingUnchanged: identifying поля неизменяемы после создания.
func (s *Store) checkIdentifyingUnchanged(rec *Record, f *Field, v any) {
	var next any
	switch {
	case v == nil || IsClear(v):
		next = nil
	case f.kind == KindAttr:
		norm, err := CoerceValue(f.valueType, f.enum, v)
		if err != nil {
			s.report(validationErr(rec.info.name, f.name, CodeTypeMismatch, "field '%s' %v", f.name, err))
			return
		}
		next = norm
	default:
		other, _ := s.lookupRecord(f.target, v)
		if other == nil {
			next = v
			break
		}
		next = other
	}
	var cur any
	if f.kind == KindAttr {
		cur = rec.values[f.name]
	} else if one := rec.One(f.name); one != nil {
		cur = one
	}
	if keyPart(cur) != keyPart(next) {
		s.report(validationErr(rec.info.name, f.name, CodeIdentifyingImmutable,
			"identifying field '%s' cannot be changed", f.name))
	}
}

// hasIdentity: запись ещё может быть идентифицирована своими полями.
func hasIdentity(rec *Record) bool {
	info := rec.info
	if len(info.identifying) == 0 {
		return true
	}
	set := 0
	for _, f := range info.identifying {
		if rec.IsSet(f.name) {
			set++
		}
	}
	if info.mode == IdentifyXor {
		return set == 1
	}
	return set == len(info.identifying)
}
