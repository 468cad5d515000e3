package api

import (
	"fmt"
	"sort"
	"strings"

	"mailmodel/internal/model"
)

// flatten: «плоское» представление записи: служебные id/model и
// установленные поля, связи как id.
func flatten(rec *model.Record) map[string]any {
	out := map[string]any{
		"id":    rec.ID(),
		"model": rec.Model(),
	}
	for k, v := range rec.Snapshot() {
		// пользовательские поля не перетирают служебные
		if _, clash := out[k]; clash {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	if o, ok := rec.Owner(); ok {
		out["$owner"] = map[string]any{"field": o.Field, "id": o.Record.ID()}
	}
	return out
}

func flattenAll(recs []*model.Record) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, flatten(r))
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
