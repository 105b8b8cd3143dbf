// internal/pkg/rule/cel.go
package rule

import (
	"reflect"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Kind 是表达式变量的类型。
type Kind int

const (
	Number Kind = iota + 1
	String
	Bool
)

// costLimit 限制单次求值的代价，防止配置中出现意外昂贵的表达式。
const costLimit = 10_000

// Program 是编译好的布尔表达式，可以并发求值。
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 在给定的变量声明下编译一条 CEL 表达式，表达式结果必须是 bool。
func Compile(expr string, vars map[string]Kind) (*Program, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]cel.EnvOption, 0, len(vars))
	for _, name := range names {
		t, err := celType(vars[name])
		if err != nil {
			return nil, errors.Wrapf(err, "variable %s", name)
		}
		opts = append(opts, cel.Variable(name, t))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "build cel environment")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile %q", expr)
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, errors.Errorf("expression %q must evaluate to bool, got %v", expr, ast.OutputType())
	}
	prg, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize), cel.CostLimit(costLimit))
	if err != nil {
		return nil, errors.Wrapf(err, "plan %q", expr)
	}
	return &Program{expr: expr, prg: prg}, nil
}

func celType(k Kind) (*cel.Type, error) {
	switch k {
	case Number:
		return cel.DoubleType, nil
	case String:
		return cel.StringType, nil
	case Bool:
		return cel.BoolType, nil
	}
	return nil, errors.Errorf("unsupported kind %d", k)
}

// Eval 对一组变量求值。缺少变量或类型不符时返回错误，由调用方决定如何处理。
func (p *Program) Eval(vars map[string]any) (bool, error) {
	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false, errors.Wrapf(err, "evaluate %q", p.expr)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("expression %q produced %T", p.expr, out.Value())
	}
	return b, nil
}

func (p *Program) String() string { return p.expr }
