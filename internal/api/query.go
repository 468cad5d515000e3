package api

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ==== Типы сортировки и параметров листинга ====

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []SortKey
	Filters map[string][]string
	Q       string
	Nulls   string // "last" (default) | "first"
}

// ==== Парсинг query-параметров ====

func parseListParams(q url.Values) ListParams {
	limit := 50
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			limit = n
		}
	}

	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	var sortKeys []SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	for _, p := range strings.Split(sv, ",") {
		p = strings.TrimSpace(p)
		desc := false
		if strings.HasPrefix(p, "-") {
			desc = true
			p = strings.TrimPrefix(p, "-")
		} else {
			p = strings.TrimPrefix(p, "+")
		}
		if p != "" {
			sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
		}
	}

	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = "last"
	}

	// фильтры (исключаем служебные ключи)
	filters := make(map[string][]string)
	for key, vals := range q {
		switch key {
		case "q", "offset", "limit", "sort",
			"_offset", "_limit", "_sort",
			"nulls":
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	return ListParams{
		Limit:   limit,
		Offset:  offset,
		Sort:    sortKeys,
		Filters: filters,
		Q:       strings.TrimSpace(q.Get("q")),
		Nulls:   nulls,
	}
}

// ==== Фильтрация ====

// filterRows: поле=значение (несколько значений - любое из них) и q по
// строковым полям. Для many-связей значение совпадает, если id есть в списке.
func filterRows(rows []map[string]any, lp ListParams) []map[string]any {
	if len(lp.Filters) == 0 && lp.Q == "" {
		return rows
	}
	needle := strings.ToLower(lp.Q)
	out := make([]map[string]any, 0, len(rows))

loopRows:
	for _, row := range rows {
		for field, want := range lp.Filters {
			if !matchesAny(row[field], want) {
				continue loopRows
			}
		}
		if needle != "" {
			found := false
			for _, v := range row {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

func matchesAny(got any, want []string) bool {
	if ids, ok := got.([]string); ok {
		for _, id := range ids {
			for _, w := range want {
				if id == w {
					return true
				}
			}
		}
		return false
	}
	s := stringify(got)
	for _, w := range want {
		if s == w {
			return true
		}
	}
	return false
}

// ==== Сортировка с политикой nulls ====

func isNull(v any, ok bool) bool { return !ok || v == nil }

// сравнение двух строк по одному ключу с учётом nullsPolicy и направления
func cmpByKey(a, b map[string]any, key string, nullsPolicy string, desc bool) int {
	va, oka := a[key]
	vb, okb := b[key]

	na := isNull(va, oka)
	nb := isNull(vb, okb)
	if na && nb {
		return 0
	}
	if na != nb {
		if nullsPolicy == "last" {
			if na {
				return +1
			}
			return -1
		}
		if na {
			return -1
		}
		return +1
	}

	rel := compareValues(va, vb)
	if desc {
		rel = -rel
	}
	return rel
}

// compareValues: числа сравниваются как числа, остальное строково.
func compareValues(a, b any) int {
	fa, oka := number(a)
	fb, okb := number(b)
	if oka && okb {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return +1
		}
		return 0
	}
	sa, sb := stringify(a), stringify(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return +1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// мультисортировка с учётом nullsPolicy
func sortRowsMultiNulls(rows []map[string]any, keys []SortKey, nullsPolicy string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpByKey(rows[i], rows[j], k.Field, nullsPolicy, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// page вырезает окно offset/limit.
func page(rows []map[string]any, lp ListParams) []map[string]any {
	start := lp.Offset
	if start > len(rows) {
		start = len(rows)
	}
	end := start + lp.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
