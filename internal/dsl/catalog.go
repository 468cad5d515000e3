package dsl

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"mailmodel/internal/model"
)

// ComputeFactory строит функцию compute по аргументам из DSL и возвращает
// зависимости по умолчанию (если в DSL не указан deps=[...]).
type ComputeFactory func(args []string) (model.ComputeFunc, []string, error)

// Hook: lifecycle-хук, на который ссылается опция модели created/willDelete.
type Hook func(r *model.Record) error

// Catalog: именованные compute и хуки, доступные DSL. Код в DSL не пишется,
// только ссылки на то, что зарегистрировано здесь.
type Catalog struct {
	computes map[string]ComputeFactory
	hooks    map[string]Hook
}

var callRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\((.*)\))?$`)

// NewCatalog возвращает каталог со встроенными compute.
func NewCatalog() *Catalog {
	c := &Catalog{
		computes: make(map[string]ComputeFactory),
		hooks:    make(map[string]Hook),
	}
	c.Compute("related", computeRelated)
	c.Compute("count", computeCount)
	c.Compute("owner", computeOwner)
	c.Compute("ownerField", computeOwnerField)
	c.Compute("isSet", computeIsSet)
	c.Compute("hasPrefix", computeHasPrefix)
	c.Compute("const", computeConst)
	return c
}

// Compute регистрирует фабрику compute (перезаписывает существующую).
func (c *Catalog) Compute(name string, f ComputeFactory) *Catalog {
	c.computes[name] = f
	return c
}

// Hook регистрирует именованный lifecycle-хук.
func (c *Catalog) Hook(name string, h Hook) *Catalog {
	c.hooks[name] = h
	return c
}

// Computes: имена доступных compute, по алфавиту.
func (c *Catalog) Computes() []string {
	out := make([]string, 0, len(c.computes))
	for k := range c.computes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// build разбирает выражение вида name или name(arg1 arg2).
func (c *Catalog) build(expr string) (model.ComputeFunc, []string, error) {
	m := callRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, nil, errors.Newf("bad compute expression %q", expr)
	}
	f, ok := c.computes[m[1]]
	if !ok {
		return nil, nil, errors.Newf("unknown compute %q", m[1])
	}
	return f(strings.Fields(m[2]))
}

func (c *Catalog) hook(name string) (Hook, error) {
	h, ok := c.hooks[name]
	if !ok {
		return nil, errors.Newf("unknown hook %q", name)
	}
	return h, nil
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return errors.Newf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// related(rel.rel.field): значение поля в конце цепочки one-связей.
func computeRelated(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("related", args, 1); err != nil {
		return nil, nil, err
	}
	segs := strings.Split(args[0], ".")
	fn := func(r *model.Record) any {
		cur := r
		for _, seg := range segs[:len(segs)-1] {
			cur = cur.One(seg)
			if cur == nil {
				return model.Clear()
			}
		}
		last := segs[len(segs)-1]
		if !cur.IsSet(last) {
			return model.Clear()
		}
		return cur.Get(last)
	}
	return fn, []string{args[0]}, nil
}

// count(rel): размер many-связи.
func computeCount(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("count", args, 1); err != nil {
		return nil, nil, err
	}
	rel := args[0]
	return func(r *model.Record) any { return len(r.Many(rel)) }, []string{rel}, nil
}

// owner: запись активного XOR-владельца.
func computeOwner(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("owner", args, 0); err != nil {
		return nil, nil, err
	}
	fn := func(r *model.Record) any {
		o, ok := r.Owner()
		if !ok {
			return model.Clear()
		}
		return o.Record
	}
	return fn, []string{model.OwnerDep}, nil
}

// ownerField: имя поля активного XOR-владельца.
func computeOwnerField(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("ownerField", args, 0); err != nil {
		return nil, nil, err
	}
	fn := func(r *model.Record) any {
		o, ok := r.Owner()
		if !ok {
			return model.Clear()
		}
		return o.Field
	}
	return fn, []string{model.OwnerDep}, nil
}

func computeIsSet(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("isSet", args, 1); err != nil {
		return nil, nil, err
	}
	field := args[0]
	return func(r *model.Record) any { return r.IsSet(field) }, []string{field}, nil
}

func computeHasPrefix(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("hasPrefix", args, 2); err != nil {
		return nil, nil, err
	}
	field, prefix := args[0], unquote(args[1])
	fn := func(r *model.Record) any {
		return strings.HasPrefix(r.GetString(field), prefix)
	}
	return fn, []string{field}, nil
}

func computeConst(args []string) (model.ComputeFunc, []string, error) {
	if err := wantArgs("const", args, 1); err != nil {
		return nil, nil, err
	}
	v := unquote(args[0])
	return func(*model.Record) any { return v }, nil, nil
}
