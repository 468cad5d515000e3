package dsl

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	modelRe  = regexp.MustCompile(`^model\s+(\w+)\s*:(.*)$`)
	fieldRe  = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe   = regexp.MustCompile(`^enum\[(.*)\]$`)
	oneRe    = regexp.MustCompile(`^one\[([A-Za-z0-9_]+)\]$`)
	manyRe   = regexp.MustCompile(`^many\[([A-Za-z0-9_]+)\]$`)
	moduleRe = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
)

var scalarTypes = map[string]bool{
	"any": true, "string": true, "int": true, "float": true, "bool": true,
}

// splitOptionTokens делит "k=v k2='v 2' compute=hasPrefix(mimetype image/) deps=[a b]"
// на токены, не рвёт по пробелам внутри кавычек, [...] и (...)
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	depth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && depth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && depth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[', '(':
			if !inSingle && !inDouble {
				depth++
			}
			buf = append(buf, r)
		case ']', ')':
			if !inSingle && !inDouble && depth > 0 {
				depth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && depth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// parseOptions: флаг без значения → "true", ключи в нижнем регистре, кавычки снимаются
func parseOptions(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	if strings.HasPrefix(strings.ToLower(raw), "options:") {
		raw = strings.TrimSpace(raw[len("options:"):])
	}
	// запятые считаем разделителями
	raw = strings.ReplaceAll(raw, ",", " ")

	opts := map[string]string{}
	for _, tok := range splitOptionTokens(raw) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := unquote(strings.TrimSpace(kv[1]))
		if k != "" {
			opts[k] = v
		}
	}
	return opts
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadModels читает один .dsl файл
func LoadModels(path string) ([]*Model, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse разбирает DSL из r. Строки вне блока model игнорируются.
func Parse(r io.Reader) ([]*Model, error) {
	var models []*Model
	var current *Model
	currentModule := ""
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			continue
		}

		// model <Name>: [options]
		if m := modelRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				models = append(models, current)
			}
			current = &Model{
				Module:  currentModule,
				Name:    m[1],
				Options: parseOptions(m[2]),
			}
			continue
		}
		if current == nil {
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, errors.Newf("line %d: cannot parse %q", lineNo, line)
		}
		name, rawType, tail := m[1], m[2], m[3]

		// склейка оборванных типов со скобками: enum[a, b]
		if strings.Contains(rawType, "[") && !strings.Contains(rawType, "]") {
			if idx := strings.Index(tail, "]"); idx >= 0 {
				rawType = rawType + tail[:idx+1]
				tail = tail[idx+1:]
			}
		}

		f, err := parseType(name, rawType)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		f.Options = parseOptions(tail)
		current.Fields = append(current.Fields, f)
	}

	if current != nil {
		models = append(models, current)
	}
	return models, scanner.Err()
}

func parseType(name, rawType string) (Field, error) {
	f := Field{Name: name, Type: rawType}
	switch {
	case enumRe.MatchString(rawType):
		f.Type = "enum"
		inside := enumRe.FindStringSubmatch(rawType)[1]
		for _, p := range strings.Split(inside, ",") {
			s := strings.Trim(strings.TrimSpace(p), `"'`)
			if s != "" {
				f.Enum = append(f.Enum, s)
			}
		}
	case oneRe.MatchString(rawType):
		f.Type = "one"
		f.Target = oneRe.FindStringSubmatch(rawType)[1]
	case manyRe.MatchString(rawType):
		f.Type = "many"
		f.Target = manyRe.FindStringSubmatch(rawType)[1]
	case scalarTypes[rawType]:
	default:
		return f, errors.Newf("field %s: unknown type %q", name, rawType)
	}
	return f, nil
}

// LoadAllModels обходит root и собирает модели из всех .dsl файлов по FQN
func LoadAllModels(root string) (map[string]*Model, error) {
	result := make(map[string]*Model)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		models, err := LoadModels(path)
		if err != nil {
			return errors.Wrapf(err, "parse %s", path)
		}

		for _, m := range models {
			if m.Module == "" {
				return errors.Newf("model %q in %s has no module, add `module <name>` at the top", m.Name, path)
			}
			fqn := m.FQN()
			if _, exists := result[fqn]; exists {
				return errors.Newf("duplicate model %q in module %q (file: %s)", m.Name, m.Module, path)
			}
			result[fqn] = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
