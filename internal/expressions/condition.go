package expressions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/nodeflow/pkg/schema"
)

// maxCachedConditions bounds the compiled program cache.
const maxCachedConditions = 1024

// allowedOperators are the binary operators a condition may use.
var allowedOperators = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"&&": true, "||": true, "and": true, "or": true,
	"+": true, "-": true, "*": true, "/": true, "%": true, "**": true, "^": true,
	"in": true, "not in": true, "matches": true, "contains": true,
	"startsWith": true, "endsWith": true, "??": true,
}

// ConditionEvaluator evaluates boolean conditions over literals. Context
// values are spliced into the condition text before parsing, so the grammar
// admits only literals and operators: identifiers, member access, function
// calls and builtins are rejected.
// Thread-safe: compiled programs are cached for conditions without
// placeholders, up to maxCachedConditions entries.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator creates a new condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate replaces {{key}} placeholders with context values and evaluates
// the resulting text. Any syntax error or disallowed construct yields
// INVALID_EXPRESSION; it never defaults to false.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, condition string, vars map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, schema.NewError(schema.ErrCodeCancelled, "condition evaluation cancelled").WithCause(err)
	}

	text := strings.TrimSpace(ReplacePlaceholders(condition, vars))
	if text == "" {
		return false, schema.NewError(schema.ErrCodeInvalidExpression, "empty condition")
	}

	prg, err := c.getOrCompile(condition, text)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, map[string]any{})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeInvalidExpression,
			"condition %q failed: %s", text, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"condition": condition, "expression": text})
	}
	return Truthy(out), nil
}

func (c *ConditionEvaluator) getOrCompile(condition, text string) (*vm.Program, error) {
	c.mu.RLock()
	if prg, ok := c.cache[text]; ok {
		c.mu.RUnlock()
		return prg, nil
	}
	c.mu.RUnlock()

	if err := checkLiteral(condition, text); err != nil {
		return nil, err
	}

	prg, err := expr.Compile(text)
	if err != nil {
		return nil, invalidCondition(condition, text, err.Error(), err)
	}

	// Substituted text varies with the context, so only static
	// conditions are worth keeping.
	if strings.TrimSpace(condition) != text {
		return prg, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) < maxCachedConditions {
		c.cache[text] = prg
	}
	return prg, nil
}

// CheckCondition reports whether condition can parse once its placeholders
// are bound. Each {{key}} stands in as nil, so only the operator grammar is
// checked; whether the bound values fit the operators is known at run time.
func CheckCondition(condition string) error {
	text := strings.TrimSpace(anyPlaceholderRe.ReplaceAllString(condition, "nil"))
	if text == "" {
		return schema.NewError(schema.ErrCodeInvalidExpression, "empty condition")
	}
	return checkLiteral(condition, text)
}

// anyPlaceholderRe matches every {{key}} inside a condition.
var anyPlaceholderRe = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// checkLiteral parses text and rejects anything outside the literal grammar.
func checkLiteral(condition, text string) error {
	tree, err := parser.Parse(text)
	if err != nil {
		return invalidCondition(condition, text, err.Error(), err)
	}
	guard := &literalGuard{}
	ast.Walk(&tree.Node, guard)
	if guard.err != nil {
		return invalidCondition(condition, text, guard.err.Error(), nil)
	}
	return nil
}

func invalidCondition(condition, text, msg string, cause error) error {
	e := schema.NewErrorf(schema.ErrCodeInvalidExpression, "invalid condition %q: %s", text, msg).
		WithDetails(map[string]any{"condition": condition, "expression": text})
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// literalGuard records the first node outside the literal grammar.
type literalGuard struct {
	err error
}

func (g *literalGuard) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode,
		*ast.StringNode, *ast.ConstantNode, *ast.ConditionalNode,
		*ast.ArrayNode, *ast.MapNode, *ast.PairNode:
	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "not", "-", "+":
		default:
			g.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.BinaryNode:
		if !allowedOperators[n.Operator] {
			g.err = fmt.Errorf("operator %q is not allowed", n.Operator)
		}
	case *ast.IdentifierNode:
		g.err = fmt.Errorf("unresolved name %q (quote string values or bind it in the context)", n.Value)
	case *ast.MemberNode:
		g.err = fmt.Errorf("member access is not allowed")
	case *ast.CallNode, *ast.BuiltinNode:
		g.err = fmt.Errorf("function calls are not allowed")
	default:
		g.err = fmt.Errorf("%T is not allowed", n)
	}
}

// Truthy reduces a value to a boolean: nil, false, zero numbers, empty
// strings and empty collections are false.
func Truthy(v any) bool {
	switch t := schema.Normalize(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
