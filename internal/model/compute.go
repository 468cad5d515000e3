package model

import (
	"reflect"
	"sort"
)

// changed вызывается после любой фактической смены значения поля: помечает
// устаревшими все вычисляемые поля, которые от него зависят.
func (s *Store) changed(rec *Record, f *Field) {
	s.touch(rec)
	s.propagate(rec, f.name)
	if f.identifying && rec.info.mode == IdentifyXor {
		s.propagate(rec, OwnerDep)
	}
}

func (s *Store) propagate(rec *Record, name string) {
	for _, d := range rec.info.dependents[name] {
		for _, owner := range walkBack(rec, d.back) {
			s.markDirty(owner, d.field)
		}
	}
}

// walkBack идёт от изменённой записи к владельцам вычисляемого поля по
// цепочке обратных связей.
func walkBack(rec *Record, back []*Field) []*Record {
	cur := []*Record{rec}
	for _, bf := range back {
		seen := make(map[*Record]bool)
		var next []*Record
		for _, r := range cur {
			for _, x := range r.related(bf) {
				if !seen[x] {
					seen[x] = true
					next = append(next, x)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

func (s *Store) markDirty(rec *Record, c *Field) {
	if s.op == nil || rec.deleted || rec.deleting {
		return
	}
	rec.states[c.name] = StateStale
	k := cell{rec: rec, field: c}
	if _, ok := s.op.pending[k]; ok {
		return
	}
	s.op.dirty[k] = struct{}{}
}

// flush доводит операцию до fixed point. Каждый проход пересчитывает
// накопленные ячейки в порядке рангов; ячейки, ставшие грязными после своего
// пересчёта, уходят в следующий проход. Между проходами удаляются записи,
// потерявшие identity.
func (s *Store) flush() error {
	op := s.op
	limit := s.maxPasses
	if limit <= 0 {
		limit = defaultPassLimit(s.reg.LongestComputeChain())
	}

	passes := 0
	for len(op.dirty) > 0 || len(op.orphans) > 0 {
		if len(op.dirty) > 0 {
			passes++
			if passes > limit {
				c := s.anyDirty()
				op.dirty = make(map[cell]struct{})
				op.orphans = nil
				return configErr(c.field.model, c.field.name, "compute did not settle after %d passes", limit)
			}
			s.pass()
		}

		orphans := op.orphans
		op.orphans = nil
		for _, r := range orphans {
			if r.deleted || hasIdentity(r) {
				continue
			}
			s.logger.Debugw("identity lost, deleting", "record", r.String())
			if err := s.delete(r); err != nil {
				return err
			}
		}
	}

	s.stats.LastPasses = passes
	if passes > s.stats.MaxPasses {
		s.stats.MaxPasses = passes
	}
	if passes > 0 {
		s.logger.Debugw("compute settled", "passes", passes, "touched", len(op.touched))
	}
	return nil
}

// defaultPassLimit: вычисления, создающие записи, добавляют проходы сверх
// самой длинной цепочки, поэтому предел берём с запасом.
func defaultPassLimit(chain int) int {
	limit := (chain + 1) * 4
	if limit < 16 {
		limit = 16
	}
	return limit
}

func (s *Store) pass() {
	op := s.op
	batch := s.sortedDirty()
	op.dirty = make(map[cell]struct{})
	op.pending = make(map[cell]struct{}, len(batch))
	for _, c := range batch {
		op.pending[c] = struct{}{}
	}
	for _, c := range batch {
		delete(op.pending, c)
		s.recompute(c.rec, c.field)
	}
	op.pending = nil
}

func (s *Store) sortedDirty() []cell {
	out := make([]cell, 0, len(s.op.dirty))
	for c := range s.op.dirty {
		out = append(out, c)
	}
	ranks := s.reg.ranks
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := ranks[a.field], ranks[b.field]; ra != rb {
			return ra < rb
		}
		if a.rec.info.name != b.rec.info.name {
			return a.rec.info.name < b.rec.info.name
		}
		if a.rec.id != b.rec.id {
			return a.rec.id < b.rec.id
		}
		return a.field.name < b.field.name
	})
	return out
}

func (s *Store) anyDirty() cell {
	batch := s.sortedDirty()
	return batch[0]
}

func (s *Store) recompute(rec *Record, c *Field) {
	if rec.deleted || rec.deleting {
		return
	}
	rec.states[c.name] = StateComputing
	v := c.compute(rec)
	rec.states[c.name] = StateSettled
	s.assign(rec, c, v)
}

// equalValues сравнивает нормализованные значения attr полей.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
