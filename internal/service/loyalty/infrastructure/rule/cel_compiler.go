// internal/service/loyalty/infrastructure/rule/cel_compiler.go
package rule

import (
	"github.com/pkg/errors"

	celrule "loyaltyhub/internal/pkg/rule"
	"loyaltyhub/internal/service/loyalty/domain"
)

// CELCompilerAdapter 是 domain.ConditionCompiler 的实现，把风险因子表达式交给 CEL 编译。
// 领域层只看到 Condition 接口，不感知具体的表达式语言。
type CELCompilerAdapter struct{}

func NewCELCompilerAdapter() *CELCompilerAdapter {
	return &CELCompilerAdapter{}
}

// Compile 实现了 domain.ConditionCompiler 接口。
func (a *CELCompilerAdapter) Compile(expr string, vars map[string]domain.FactKind) (domain.Condition, error) {
	kinds := make(map[string]celrule.Kind, len(vars))
	for name, k := range vars {
		switch k {
		case domain.FactNumber:
			kinds[name] = celrule.Number
		case domain.FactString:
			kinds[name] = celrule.String
		case domain.FactBool:
			kinds[name] = celrule.Bool
		default:
			return nil, errors.Errorf("variable %s has unsupported kind %v", name, k)
		}
	}
	prg, err := celrule.Compile(expr, kinds)
	if err != nil {
		return nil, err
	}
	// *celrule.Program 的 Eval 签名与 domain.Condition 一致
	return prg, nil
}
