package dsl

// Model описывает модель из DSL
type Model struct {
	Module  string
	Name    string
	Options map[string]string // identifying=and|xor, created=<hook>, willDelete=<hook>
	Fields  []Field
}

// FQN: полное имя модели: module.Name
func (m *Model) FQN() string {
	if m.Module == "" {
		return m.Name
	}
	return m.Module + "." + m.Name
}

// Field описывает поле модели
type Field struct {
	Name    string
	Type    string            // any, string, int, float, bool, enum, one, many
	Target  string            // целевая модель для one/many
	Enum    []string          // значения enum, если поле типа enum
	Options map[string]string // identifying, required, inverse, compute, deps, default и прочие опции
}
