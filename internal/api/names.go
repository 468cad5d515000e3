package api

import "strings"

// NormalizeModelName возвращает зарегистрированное имя модели. Сначала точное
// совпадение, затем регистронезависимое, но только если оно единственное.
func (s *Storage) NormalizeModelName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if s.Registry.Has(name) {
		return name, true
	}
	nl := strings.ToLower(name)
	var found string
	for _, n := range s.Registry.Names() {
		if strings.ToLower(n) == nl {
			if found != "" { // неуникально
				return "", false
			}
			found = n
		}
	}
	return found, found != ""
}
