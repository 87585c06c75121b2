package capability

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

var arithmeticPattern = regexp.MustCompile(`^[0-9+\-*/().%\s]+$`)

// Calculator evaluates arithmetic over + - * / % and parentheses.
// Integer results are exact; other results are printed as decimals.
func Calculator() Capability {
	return Func{
		ToolName: "calculator",
		Help:     "evaluate an arithmetic expression, e.g. calculator: (123 + 456) * 2",
		Fn: func(_ context.Context, input string) (string, error) {
			return Evaluate(input)
		},
	}
}

// Evaluate computes an arithmetic expression.
func Evaluate(expr string) (string, error) {
	expr = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(expr), "="))
	if expr == "" {
		return "", errors.New("empty expression")
	}
	if !arithmeticPattern.MatchString(expr) {
		return "", fmt.Errorf("expression %q contains unsupported characters", expr)
	}

	node, err := parser.ParseExpr(expr)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", expr, err)
	}
	val, err := eval(node)
	if err != nil {
		return "", err
	}
	return format(val), nil
}

func eval(node ast.Expr) (constant.Value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", n.Value)
		}
		v := constant.MakeFromLiteral(n.Value, n.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("bad number %s", n.Value)
		}
		return v, nil

	case *ast.ParenExpr:
		return eval(n.X)

	case *ast.UnaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB:
			return constant.UnaryOp(n.Op, x, 0), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)

	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB, token.MUL:
			return constant.BinaryOp(x, n.Op, y), nil
		case token.QUO:
			if constant.Sign(y) == 0 {
				return nil, errors.New("division by zero")
			}
			return constant.BinaryOp(x, token.QUO, y), nil
		case token.REM:
			if x.Kind() != constant.Int || y.Kind() != constant.Int {
				return nil, errors.New("% requires integer operands")
			}
			if constant.Sign(y) == 0 {
				return nil, errors.New("division by zero")
			}
			return constant.BinaryOp(x, token.REM, y), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

func format(v constant.Value) string {
	if v.Kind() == constant.Int {
		return v.ExactString()
	}
	// Rationals that happen to be whole numbers print as integers.
	if i := constant.ToInt(v); i.Kind() == constant.Int {
		return i.ExactString()
	}
	f, _ := constant.Float64Val(v)
	return strconv.FormatFloat(f, 'f', -1, 64)
}
