package model

import "strings"

// edge: одна сторона связи в процессе синхронизации. Пока edge отмечен в
// Store.syncing, повторный вход в link/unlink для него ничего не делает.
type edge struct {
	rec    *Record
	field  *Field
	other  *Record
	unlink bool
}

// assignRelation разбирает payload связи: запись, набор записей, вложенные
// Data (вставляются в целевую модель), nil/Clear() и команды Link/Unlink/Replace.
func (s *Store) assignRelation(rec *Record, f *Field, v any) error {
	if v == nil || IsClear(v) {
		return s.replace(rec, f, nil)
	}
	cmd, ok := v.(Command)
	if !ok {
		targets, err := s.resolveTargets(rec, f, []any{v})
		if err != nil {
			return err
		}
		return s.replace(rec, f, targets)
	}

	switch cmd.Op {
	case OpLink:
		targets, err := s.resolveTargets(rec, f, cmd.Values)
		if err != nil {
			return err
		}
		if f.kind == KindOne && len(targets) > 1 {
			return validationErr(rec.info.name, f.name, CodeTypeMismatch,
				"one() field '%s' cannot link %d records", f.name, len(targets))
		}
		for _, t := range targets {
			s.link(rec, f, t)
		}
	case OpUnlink:
		for _, x := range cmd.Values {
			if other, _ := x.(*Record); other != nil {
				s.unlink(rec, f, other)
			}
		}
	case OpReplace:
		targets, err := s.resolveTargets(rec, f, cmd.Values)
		if err != nil {
			return err
		}
		return s.replace(rec, f, targets)
	default:
		return validationErr(rec.info.name, f.name, CodeTypeMismatch, "unknown relation command %d", int(cmd.Op))
	}
	return nil
}

// replace приводит связь к ровно targets (для many - и к их порядку).
func (s *Store) replace(rec *Record, f *Field, targets []*Record) error {
	if f.kind == KindOne {
		switch len(targets) {
		case 0:
			if cur := rec.One(f.name); cur != nil {
				s.unlink(rec, f, cur)
			}
		case 1:
			s.link(rec, f, targets[0])
		default:
			return validationErr(rec.info.name, f.name, CodeTypeMismatch,
				"one() field '%s' got %d records", f.name, len(targets))
		}
		return nil
	}

	want := make([]*Record, 0, len(targets))
	keep := make(map[*Record]bool, len(targets))
	for _, t := range targets {
		if !keep[t] {
			keep[t] = true
			want = append(want, t)
		}
	}
	for _, cur := range rec.Many(f.name) {
		if !keep[cur] {
			s.unlink(rec, f, cur)
		}
	}
	for _, t := range want {
		s.link(rec, f, t)
	}
	if set, _ := rec.values[f.name].(*recordSet); set != nil && set.reorder(want) {
		s.changed(rec, f)
	}
	return nil
}

// resolveTargets превращает значения payload в живые записи целевой модели.
func (s *Store) resolveTargets(rec *Record, f *Field, values []any) ([]*Record, error) {
	var out []*Record
	for _, v := range values {
		switch t := v.(type) {
		case nil, ClearValue:
		case *Record:
			if t == nil {
				continue
			}
			if err := s.checkTarget(f, t); err != nil {
				return nil, err
			}
			out = append(out, t)
		case []*Record:
			for _, r := range t {
				if r == nil {
					continue
				}
				if err := s.checkTarget(f, r); err != nil {
					return nil, err
				}
				out = append(out, r)
			}
		case Data:
			r, err := s.insertThrough(rec, f, t)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		case map[string]any:
			r, err := s.insertThrough(rec, f, Data(t))
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		case []Data:
			for _, d := range t {
				r, err := s.insertThrough(rec, f, d)
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
		case []map[string]any:
			for _, d := range t {
				r, err := s.insertThrough(rec, f, Data(d))
				if err != nil {
					return nil, err
				}
				out = append(out, r)
			}
		case []any:
			rs, err := s.resolveTargets(rec, f, t)
			if err != nil {
				return nil, err
			}
			out = append(out, rs...)
		default:
			return nil, validationErr(rec.info.name, f.name, CodeTypeMismatch,
				"relation '%s' expects %s records or payloads, got %T", f.name, f.target, v)
		}
	}
	return out, nil
}

func (s *Store) checkTarget(f *Field, r *Record) error {
	if r.info.name != f.target {
		return validationErr(f.model, f.name, CodeTypeMismatch,
			"relation '%s' expects %s, got %s", f.name, f.target, r)
	}
	if r.deleted {
		return validationErr(f.model, f.name, CodeDeleted, "record %s is deleted", r)
	}
	return nil
}

// insertThrough вставляет вложенный payload в целевую модель. Обратная
// сторона заполняется заранее: если inverse - identifying, без неё ключ не
// соберётся.
func (s *Store) insertThrough(rec *Record, f *Field, d Data) (*Record, error) {
	inv := f.inverseField
	if inv == nil || inv.compute != nil {
		return s.insert(f.target, d)
	}
	if _, ok := d[inv.name]; ok {
		return s.insert(f.target, d)
	}
	payload := make(Data, len(d)+1)
	for k, v := range d {
		payload[k] = v
	}
	if inv.kind == KindOne {
		payload[inv.name] = rec
	} else {
		payload[inv.name] = Link(rec)
	}
	return s.insert(f.target, payload)
}

// link связывает rec.f с other и поддерживает обратную сторону. Для one
// прежнее значение отвязывается вместе со своим обратным линком.
func (s *Store) link(rec *Record, f *Field, other *Record) {
	e := edge{rec: rec, field: f, other: other}
	if s.syncing[e] {
		return
	}
	if err := identifyingLinkErr(rec, f, other); err != nil {
		s.report(err)
		return
	}
	if inv := f.inverseField; inv != nil {
		if err := identifyingLinkErr(other, inv, rec); err != nil {
			s.report(err)
			return
		}
	}
	s.syncing[e] = true
	defer delete(s.syncing, e)

	switch f.kind {
	case KindOne:
		prev := rec.One(f.name)
		if prev == other {
			return
		}
		if prev != nil {
			s.unlink(rec, f, prev)
		}
		rec.values[f.name] = other
	case KindMany:
		if !rec.set(f).add(other) {
			return
		}
	}
	s.changed(rec, f)
	if inv := f.inverseField; inv != nil {
		s.link(other, inv, rec)
	}
}

// unlink: зеркальная операция. Запись, потерявшая identifying связь, больше
// не может существовать и уходит в orphans.
func (s *Store) unlink(rec *Record, f *Field, other *Record) {
	e := edge{rec: rec, field: f, other: other, unlink: true}
	if s.syncing[e] {
		return
	}
	s.syncing[e] = true
	defer delete(s.syncing, e)

	switch f.kind {
	case KindOne:
		if rec.One(f.name) != other {
			return
		}
		delete(rec.values, f.name)
	case KindMany:
		set, _ := rec.values[f.name].(*recordSet)
		if set == nil || !set.remove(other) {
			return
		}
	}
	s.changed(rec, f)
	if f.identifying {
		s.orphan(rec)
	}
	if inv := f.inverseField; inv != nil {
		s.unlink(other, inv, rec)
	}
}

// identifyingLinkErr проверяет, что rec.f можно указать на other. Identifying
// связь задаётся только при создании записи и должна совпадать с её ключом.
// Проверка идёт до любых изменений, поэтому отказ оставляет обе стороны как были.
func identifyingLinkErr(rec *Record, f *Field, other *Record) error {
	if !f.identifying || f.kind != KindOne {
		return nil
	}
	prev := rec.One(f.name)
	if prev == other {
		return nil
	}
	if prev == nil && keyHasPart(rec.key, f.name+"="+keyPart(other)) {
		return nil
	}
	if prev == nil && rec.info.mode == IdentifyXor {
		for _, g := range rec.info.identifying {
			if g != f && rec.IsSet(g.name) {
				return validationErr(rec.info.name, f.name, CodeAmbiguousIdentifying,
					"xor identity already set by '%s', cannot link '%s'", g.name, f.name)
			}
		}
	}
	return validationErr(rec.info.name, f.name, CodeIdentifyingImmutable,
		"identifying field '%s' cannot be changed", f.name)
}

func keyHasPart(key, part string) bool {
	for _, p := range strings.Split(key, "\x1f") {
		if p == part {
			return true
		}
	}
	return false
}

func (s *Store) orphan(rec *Record) {
	if s.op == nil || rec.deleting || rec.deleted {
		return
	}
	s.op.orphans = append(s.op.orphans, rec)
}
