package model

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind: вид поля модели.
type Kind int

const (
	KindAttr Kind = iota + 1
	KindOne
	KindMany
)

func (k Kind) String() string {
	switch k {
	case KindAttr:
		return "attr"
	case KindOne:
		return "one"
	case KindMany:
		return "many"
	default:
		return "unknown"
	}
}

// IdentifyingMode определяет, как identifying поля образуют ключ записи.
type IdentifyingMode int

const (
	// IdentifyNone: режим не объявлен. Identifying отношения трактуются как AND,
	// identifying attr без явного режима запрещены.
	IdentifyNone IdentifyingMode = iota
	// IdentifyAnd: ключ - кортеж всех identifying полей.
	IdentifyAnd
	// IdentifyXor: ключ задаёт ровно одно из identifying полей.
	IdentifyXor
)

func (m IdentifyingMode) String() string {
	switch m {
	case IdentifyAnd:
		return "and"
	case IdentifyXor:
		return "xor"
	default:
		return ""
	}
}

// ParseIdentifyingMode разбирает "and"/"xor" (пустая строка - IdentifyNone).
func ParseIdentifyingMode(s string) (IdentifyingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return IdentifyNone, nil
	case "and":
		return IdentifyAnd, nil
	case "xor":
		return IdentifyXor, nil
	default:
		return IdentifyNone, errors.Newf("unknown identifying mode %q (allowed: and|xor)", s)
	}
}

// ValueType: необязательный тип attr поля.
type ValueType string

const (
	TypeAny    ValueType = ""
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeBool   ValueType = "bool"
	TypeEnum   ValueType = "enum"
)

// ComputeFunc вычисляет значение поля по текущему состоянию записи.
// Функция обязана быть чистой: читать только объявленные зависимости и
// ничего не менять. Результат Clear() означает "у поля нет значения".
type ComputeFunc func(r *Record) any

// OwnerDep: синтетическая зависимость на активный вариант Owner у XOR-моделей.
const OwnerDep = "$owner"

// Field: неизменяемый дескриптор поля. Создаётся через Attr, One или Many.
type Field struct {
	name  string
	model string

	kind        Kind
	target      string
	inverse     string
	identifying bool
	required    bool
	causal      bool
	readonly    bool

	def        any
	hasDefault bool

	compute ComputeFunc
	deps    []string

	valueType ValueType
	enum      []string

	// заполняется Registry.Resolve
	inverseField *Field
}

// FieldOption настраивает дескриптор в Attr/One/Many.
type FieldOption func(*Field)

// Attr описывает скалярное поле.
func Attr(opts ...FieldOption) Field {
	return build(Field{kind: KindAttr}, opts)
}

// One описывает ссылку не более чем на одну запись модели target.
func One(target string, opts ...FieldOption) Field {
	return build(Field{kind: KindOne, target: target}, opts)
}

// Many описывает набор записей модели target (порядок вставки сохраняется).
func Many(target string, opts ...FieldOption) Field {
	return build(Field{kind: KindMany, target: target}, opts)
}

func build(f Field, opts []FieldOption) Field {
	for _, o := range opts {
		if o != nil {
			o(&f)
		}
	}
	return f
}

// Compute делает поле вычисляемым. deps - пути зависимостей: "name" для поля
// той же записи, "rel.name" (и глубже) для полей связанных записей, OwnerDep
// для активного варианта XOR-владельца.
func Compute(fn ComputeFunc, deps ...string) FieldOption {
	return func(f *Field) {
		f.compute = fn
		f.deps = append([]string(nil), deps...)
	}
}

// Default задаёт значение по умолчанию: само значение или func() any.
func Default(v any) FieldOption {
	return func(f *Field) {
		f.def = v
		f.hasDefault = true
	}
}

func Identifying() FieldOption { return func(f *Field) { f.identifying = true } }

func Required() FieldOption { return func(f *Field) { f.required = true } }

// Causal: удаление записи удаляет и связанные через это поле записи.
func Causal() FieldOption { return func(f *Field) { f.causal = true } }

// Readonly запрещает менять поле через Update после создания записи.
func Readonly() FieldOption { return func(f *Field) { f.readonly = true } }

// Inverse задаёт имя поля на целевой модели, которое зеркалит эту связь.
func Inverse(name string) FieldOption { return func(f *Field) { f.inverse = name } }

func OfType(t ValueType) FieldOption { return func(f *Field) { f.valueType = t } }

// Enum ограничивает attr набором строковых значений.
func Enum(values ...string) FieldOption {
	return func(f *Field) {
		f.valueType = TypeEnum
		f.enum = append([]string(nil), values...)
	}
}

func (f *Field) Name() string { return f.name }
func (f *Field) Model() string { return f.model }
func (f *Field) Kind() Kind { return f.kind }
func (f *Field) Target() string { return f.target }
func (f *Field) InverseName() string { return f.inverse }
func (f *Field) Inverse() *Field { return f.inverseField }
func (f *Field) IsRelation() bool { return f.kind == KindOne || f.kind == KindMany }
func (f *Field) IsIdentifying() bool { return f.identifying }
func (f *Field) IsRequired() bool { return f.required }
func (f *Field) IsCausal() bool { return f.causal }
func (f *Field) IsReadonly() bool { return f.readonly }
func (f *Field) IsComputed() bool { return f.compute != nil }
func (f *Field) HasDefault() bool { return f.hasDefault }
func (f *Field) ValueType() ValueType { return f.valueType }
func (f *Field) EnumValues() []string { return append([]string(nil), f.enum...) }
func (f *Field) Dependencies() []string { return append([]string(nil), f.deps...) }
func (f *Field) String() string { return f.model + "." + f.name }

func (f *Field) defaultValue() any {
	if fn, ok := f.def.(func() any); ok {
		return fn()
	}
	return f.def
}

// ClearValue: сентинел "у поля нет значения". В отличие от nil, после
// Clear() поле считается неустановленным (Record.IsSet == false).
type ClearValue struct{}

// Clear возвращает сентинел очистки поля. Годится и как результат compute,
// и как значение в payload Insert/Update.
func Clear() ClearValue { return ClearValue{} }

// IsClear сообщает, является ли v сентинелом Clear().
func IsClear(v any) bool {
	_, ok := v.(ClearValue)
	return ok
}

// Data: payload для Insert/Update: имя поля -> значение.
type Data map[string]any

// CommandOp: операция над many-полем.
type CommandOp int

const (
	OpLink CommandOp = iota + 1
	OpUnlink
	OpReplace
)

// Command: команда изменения many-поля вместо полной замены набора.
type Command struct {
	Op     CommandOp
	Values []any
}

// Link добавляет записи (или вставляет Data) в many-поле.
func Link(values ...any) Command { return Command{Op: OpLink, Values: values} }

// Unlink убирает записи из many-поля.
func Unlink(records ...*Record) Command {
	values := make([]any, 0, len(records))
	for _, r := range records {
		values = append(values, r)
	}
	return Command{Op: OpUnlink, Values: values}
}

// Replace заменяет набор целиком.
func Replace(values ...any) Command { return Command{Op: OpReplace, Values: values} }

// Owner: активный вариант XOR-владельца: какое identifying поле задано и
// на какую запись оно указывает.
type Owner struct {
	Field  string
	Record *Record
}
