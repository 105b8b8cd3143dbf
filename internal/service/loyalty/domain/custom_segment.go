// internal/service/loyalty/domain/custom_segment.go
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FactKind 是事实字段的类型。
type FactKind int

const (
	FactNumber FactKind = iota + 1
	FactString
	FactBool
)

// FactValue 是一个带类型标签的事实值。
type FactValue struct {
	Kind FactKind
	Num  float64
	Str  string
	Bool bool
}

func NumberFact(v float64) FactValue { return FactValue{Kind: FactNumber, Num: v} }
func StringFact(v string) FactValue  { return FactValue{Kind: FactString, Str: v} }
func BoolFact(v bool) FactValue      { return FactValue{Kind: FactBool, Bool: v} }

// Facts 是规则求值的输入，字段名到值的映射。
type Facts map[string]FactValue

type RuleOperator string

const (
	OpEquals   RuleOperator = "equals"
	OpContains RuleOperator = "contains"
	OpGreater  RuleOperator = "greater"
	OpLess     RuleOperator = "less"
	OpBetween  RuleOperator = "between"
	OpIn       RuleOperator = "in"
)

type GroupLogic string

const (
	LogicAnd GroupLogic = "AND"
	LogicOr  GroupLogic = "OR"
)

// SegmentRule 是一条 {field, operator, value} 谓词。Value 保持 JSON 解码后的松散类型。
type SegmentRule struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    any          `json:"value"`
}

// ConditionGroup 把规则和子分组按 AND / OR 组合，Logic 为空时按 AND 处理。
type ConditionGroup struct {
	Logic  GroupLogic       `json:"logic,omitempty"`
	Rules  []SegmentRule    `json:"rules,omitempty"`
	Groups []ConditionGroup `json:"groups,omitempty"`
}

// CustomSegmentDefinition 是管理员定义的自定义分群。
type CustomSegmentDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Root        ConditionGroup `json:"conditions"`
	IsActive    bool           `json:"isActive"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// NewCustomSegment 校验规则形状后创建分群定义。
// 只校验形状，不校验字段名：引用未知字段的规则可以保存，但求值时恒为 false。
func NewCustomSegment(name, description string, root ConditionGroup, now time.Time) (*CustomSegmentDefinition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRuleDefinition)
	}
	if err := ValidateConditionGroup(root); err != nil {
		return nil, err
	}
	if countRules(root) == 0 {
		return nil, fmt.Errorf("%w: rule set is empty", ErrInvalidRuleDefinition)
	}
	return &CustomSegmentDefinition{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Root:        root,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func countRules(g ConditionGroup) int {
	n := len(g.Rules)
	for _, sub := range g.Groups {
		n += countRules(sub)
	}
	return n
}

// ValidateConditionGroup 递归校验分组和规则的形状。
func ValidateConditionGroup(g ConditionGroup) error {
	switch g.Logic {
	case "", LogicAnd, LogicOr:
	default:
		return fmt.Errorf("%w: unknown logic %q", ErrInvalidRuleDefinition, g.Logic)
	}
	if len(g.Rules) == 0 && len(g.Groups) == 0 {
		return fmt.Errorf("%w: empty condition group", ErrInvalidRuleDefinition)
	}
	for i, r := range g.Rules {
		if err := ValidateRule(r); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	for _, sub := range g.Groups {
		if err := ValidateConditionGroup(sub); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRule 校验单条规则的操作符和取值形状。
func ValidateRule(r SegmentRule) error {
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidRuleDefinition)
	}
	switch r.Operator {
	case OpEquals:
		if _, ok := toScalar(r.Value); !ok {
			return fmt.Errorf("%w: equals expects a scalar value", ErrInvalidRuleDefinition)
		}
	case OpContains:
		if _, ok := r.Value.(string); ok {
			break
		}
		if set, ok := toSet(r.Value); !ok || len(set) == 0 {
			return fmt.Errorf("%w: contains expects a string or a non-empty array of scalars", ErrInvalidRuleDefinition)
		}
	case OpGreater, OpLess:
		if _, ok := toNumber(r.Value); !ok {
			return fmt.Errorf("%w: %s expects a numeric value", ErrInvalidRuleDefinition, r.Operator)
		}
	case OpBetween:
		if _, _, ok := toRange(r.Value); !ok {
			return fmt.Errorf("%w: between expects [min, max] with min <= max", ErrInvalidRuleDefinition)
		}
	case OpIn:
		if set, ok := toSet(r.Value); !ok || len(set) == 0 {
			return fmt.Errorf("%w: in expects a non-empty array of scalars", ErrInvalidRuleDefinition)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRuleDefinition, r.Operator)
	}
	return nil
}

// ---- 编译后的规则：封闭的标签变体 + 穷举求值 ----

type ruleKind int

const (
	kindAlwaysFalse ruleKind = iota
	kindEquals
	kindContains
	kindContainsAny
	kindGreater
	kindLess
	kindBetween
	kindIn
)

type compiledRule struct {
	kind   ruleKind
	source SegmentRule
	field  string
	value  FactValue
	lo, hi float64
	set    []FactValue
	reason string // kindAlwaysFalse 的原因
}

func compileRule(r SegmentRule) compiledRule {
	c := compiledRule{source: r, field: r.Field}
	fail := func(reason string) compiledRule {
		c.kind = kindAlwaysFalse
		c.reason = reason
		return c
	}
	switch r.Operator {
	case OpEquals:
		v, ok := toScalar(r.Value)
		if !ok {
			return fail("equals expects a scalar value")
		}
		c.kind, c.value = kindEquals, v
	case OpContains:
		if s, ok := r.Value.(string); ok {
			c.kind, c.value = kindContains, StringFact(s)
			break
		}
		set, ok := toSet(r.Value)
		if !ok || len(set) == 0 {
			return fail("contains expects a string or a non-empty array")
		}
		c.kind, c.set = kindContainsAny, set
	case OpGreater, OpLess:
		n, ok := toNumber(r.Value)
		if !ok {
			return fail("numeric comparison expects a number")
		}
		c.kind, c.value = kindGreater, NumberFact(n)
		if r.Operator == OpLess {
			c.kind = kindLess
		}
	case OpBetween:
		lo, hi, ok := toRange(r.Value)
		if !ok {
			return fail("between expects [min, max]")
		}
		c.kind, c.lo, c.hi = kindBetween, lo, hi
	case OpIn:
		set, ok := toSet(r.Value)
		if !ok || len(set) == 0 {
			return fail("in expects a non-empty array")
		}
		c.kind, c.set = kindIn, set
	default:
		return fail(fmt.Sprintf("unknown operator %q", r.Operator))
	}
	return c
}

// eval 对单条规则求值，永不 panic、永不返回错误。
func (c compiledRule) eval(f Facts) (bool, string) {
	if c.kind == kindAlwaysFalse {
		return false, c.reason
	}
	fv, ok := f[c.field]
	if !ok {
		return false, fmt.Sprintf("unknown field %q", c.field)
	}
	switch c.kind {
	case kindEquals:
		return equalFacts(fv, c.value), ""
	case kindContains:
		if fv.Kind != FactString {
			return false, "contains requires a string field"
		}
		return strings.Contains(fv.Str, c.value.Str), ""
	case kindContainsAny:
		for _, v := range c.set {
			if equalFacts(fv, v) {
				return true, ""
			}
		}
		if fv.Kind != c.set[0].Kind {
			return false, "contains set does not match the field type"
		}
		return false, ""
	case kindGreater:
		if fv.Kind != FactNumber {
			return false, "greater requires a numeric field"
		}
		return fv.Num > c.value.Num, ""
	case kindLess:
		if fv.Kind != FactNumber {
			return false, "less requires a numeric field"
		}
		return fv.Num < c.value.Num, ""
	case kindBetween:
		if fv.Kind != FactNumber {
			return false, "between requires a numeric field"
		}
		return fv.Num >= c.lo && fv.Num <= c.hi, ""
	case kindIn:
		for _, v := range c.set {
			if equalFacts(fv, v) {
				return true, ""
			}
		}
		return false, ""
	}
	return false, "unsupported rule"
}

func equalFacts(a, b FactValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case FactNumber:
		return a.Num == b.Num
	case FactString:
		return a.Str == b.Str
	case FactBool:
		return a.Bool == b.Bool
	}
	return false
}

type compiledGroup struct {
	logic  GroupLogic
	rules  []compiledRule
	groups []compiledGroup
}

func compileGroup(g ConditionGroup) compiledGroup {
	cg := compiledGroup{logic: g.Logic}
	if cg.logic != LogicOr {
		cg.logic = LogicAnd
	}
	for _, r := range g.Rules {
		cg.rules = append(cg.rules, compileRule(r))
	}
	for _, sub := range g.Groups {
		cg.groups = append(cg.groups, compileGroup(sub))
	}
	return cg
}

// RuleResult 是单条规则的求值轨迹。
type RuleResult struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Matched  bool         `json:"matched"`
	Note     string       `json:"note,omitempty"`
}

// eval 求值整棵分组。所有规则都会被求值以保留完整轨迹，空分组视为不满足。
func (g compiledGroup) eval(f Facts, trace *[]RuleResult) bool {
	var results []bool
	for _, r := range g.rules {
		ok, note := r.eval(f)
		*trace = append(*trace, RuleResult{Field: r.source.Field, Operator: r.source.Operator, Matched: ok, Note: note})
		results = append(results, ok)
	}
	for _, sub := range g.groups {
		results = append(results, sub.eval(f, trace))
	}
	if len(results) == 0 {
		return false
	}
	if g.logic == LogicOr {
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	}
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// CompiledSegment 是预编译的自定义分群，可以并发复用。
type CompiledSegment struct {
	Definition *CustomSegmentDefinition
	root       compiledGroup
}

// CompileSegment 编译分群定义。存量数据中形状不合法的规则会被编译为恒 false，而不是报错。
func CompileSegment(def *CustomSegmentDefinition) *CompiledSegment {
	return &CompiledSegment{Definition: def, root: compileGroup(def.Root)}
}

// SegmentEvaluation 是一个客户对一个自定义分群的求值结果。
type SegmentEvaluation struct {
	SegmentID string       `json:"segmentId"`
	Name      string       `json:"name"`
	Matched   bool         `json:"matched"`
	Rules     []RuleResult `json:"rules"`
}

// Evaluate 对事实求值。未激活的分群永远不匹配。
func (s *CompiledSegment) Evaluate(f Facts) SegmentEvaluation {
	out := SegmentEvaluation{SegmentID: s.Definition.ID, Name: s.Definition.Name, Rules: []RuleResult{}}
	if !s.Definition.IsActive {
		return out
	}
	out.Matched = s.root.eval(f, &out.Rules)
	return out
}

// EvaluateActive 对所有激活的分群求值，跳过未激活的定义。
func EvaluateActive(segments []*CompiledSegment, f Facts) []SegmentEvaluation {
	out := make([]SegmentEvaluation, 0, len(segments))
	for _, s := range segments {
		if !s.Definition.IsActive {
			continue
		}
		out = append(out, s.Evaluate(f))
	}
	return out
}

// ---- 松散取值的规整 ----

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toScalar(v any) (FactValue, bool) {
	if n, ok := toNumber(v); ok {
		return NumberFact(n), true
	}
	switch s := v.(type) {
	case string:
		return StringFact(s), true
	case bool:
		return BoolFact(s), true
	}
	return FactValue{}, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []float64:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []int64:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	}
	return nil, false
}

func toRange(v any) (float64, float64, bool) {
	l, ok := toList(v)
	if !ok || len(l) != 2 {
		return 0, 0, false
	}
	lo, ok1 := toNumber(l[0])
	hi, ok2 := toNumber(l[1])
	if !ok1 || !ok2 || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

func toSet(v any) ([]FactValue, bool) {
	l, ok := toList(v)
	if !ok {
		return nil, false
	}
	out := make([]FactValue, 0, len(l))
	for _, item := range l {
		s, ok := toScalar(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
