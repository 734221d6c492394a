package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const maxExpressionLen = 200

var expressionChars = regexp.MustCompile(`^[0-9+\-*/().\s%^]+$`)

// Calculator evaluates arithmetic expressions.
type Calculator struct{}

func (Calculator) Name() string { return "calculate_expression" }

func (Calculator) Description() string {
	return "Evaluate a basic arithmetic expression."
}

func (Calculator) Parameters() map[string]any {
	return schema([]string{"expression"}, map[string]any{
		"expression": map[string]any{
			"type":        "string",
			"description": "Arithmetic expression using numbers and + - * / ( ) ^",
		},
	})
}

func (c Calculator) Call(_ context.Context, input string) (string, error) {
	expression := strings.TrimSpace(stringArg(parseArgs(input), "expression"))
	result, err := Evaluate(expression)
	if err != nil {
		return "", err
	}
	return encodeResult(map[string]any{
		"expression": expression,
		"result":     result,
	})
}

// Evaluate computes an arithmetic expression over + - * / % ( ) and ^ (power,
// right associative). The result must be finite.
func Evaluate(expression string) (float64, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return 0, errors.New("expression is required")
	}
	if len(expression) > maxExpressionLen {
		return 0, errors.New("expression is too long")
	}
	if !expressionChars.MatchString(expression) {
		return 0, errors.New("expression contains unsupported characters")
	}

	p := &exprParser{src: expression}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("expression result is not a finite number")
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && strings.ContainsRune(" \t\r\n\f\v", rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// expr := term (('+' | '-') term)*
func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

// term := unary (('*' | '/' | '%') unary)*
func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			left /= right
		case '%':
			left = math.Mod(left, right)
		}
	}
}

// unary := ('+' | '-') unary | power
func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

// power := primary ('^' unary)?
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	exp, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

// primary := number | '(' expr ')'
func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	if c == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		if c == 0 {
			return 0, errors.New("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected %q at position %d", c, start)
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return v, nil
}
