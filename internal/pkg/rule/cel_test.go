package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVars = map[string]Kind{
	"daysSinceLastVisit": Number,
	"hasVisited":         Bool,
	"tier":               String,
}

func TestCompileAndEval(t *testing.T) {
	p, err := Compile(`hasVisited && daysSinceLastVisit > 60.0`, testVars)
	require.NoError(t, err)

	ok, err := p.Eval(map[string]any{"hasVisited": true, "daysSinceLastVisit": 61.0, "tier": "GOLD"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Eval(map[string]any{"hasVisited": true, "daysSinceLastVisit": 60.0, "tier": "GOLD"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompile_Rejects(t *testing.T) {
	cases := map[string]string{
		"syntax":          `daysSinceLastVisit >`,
		"undeclared":      `churnScore > 1.0`,
		"non bool result": `daysSinceLastVisit + 1.0`,
		"type mismatch":   `tier > 1.0`,
	}
	for name, expr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(expr, testVars)
			assert.Error(t, err)
		})
	}
}

func TestEval_MissingVariable(t *testing.T) {
	p, err := Compile(`tier == "GOLD"`, testVars)
	require.NoError(t, err)

	_, err = p.Eval(map[string]any{})
	assert.Error(t, err)
}
