package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero signals a zero divisor during evaluation; the row is
// treated as zero and the run continues.
var ErrDivisionByZero = errors.New("division by zero")

// evalParser is a recursive-descent evaluator for the restricted arithmetic
// grammar: decimal literals, + - * /, parentheses, unary sign. Substituted
// expressions are never handed to anything more general than this.
type evalParser struct {
	input string
	pos   int
}

// EvalArithmetic evaluates a fully-substituted arithmetic expression.
func EvalArithmetic(expr string) (decimal.Decimal, error) {
	p := &evalParser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return decimal.Zero, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return decimal.Zero, fmt.Errorf("unexpected %q at offset %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

func (p *evalParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n' || p.input[p.pos] == '\r') {
		p.pos++
	}
}

func (p *evalParser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

// parseExpr := term (('+'|'-') term)*
func (p *evalParser) parseExpr() (decimal.Decimal, error) {
	left, err := p.parseTerm()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return decimal.Zero, err
		}
		if c == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

// parseTerm := factor (('*'|'/') factor)*
func (p *evalParser) parseTerm() (decimal.Decimal, error) {
	left, err := p.parseFactor()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return decimal.Zero, err
		}
		if c == '*' {
			left = left.Mul(right)
		} else {
			if right.IsZero() {
				return decimal.Zero, ErrDivisionByZero
			}
			// 16 fractional digits covers every currency reconciliation
			// delta without drifting on repeating quotients.
			left = left.DivRound(right, 16)
		}
	}
}

// parseFactor := number | '(' expr ')' | ('+'|'-') factor
func (p *evalParser) parseFactor() (decimal.Decimal, error) {
	c, ok := p.peek()
	if !ok {
		return decimal.Zero, errors.New("unexpected end of expression")
	}
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return decimal.Zero, err
		}
		c, ok := p.peek()
		if !ok || c != ')' {
			return decimal.Zero, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil
	case c == '+':
		p.pos++
		return p.parseFactor()
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	default:
		return decimal.Zero, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
	}
}

func (p *evalParser) parseNumber() (decimal.Decimal, error) {
	start := p.pos
	sawDot := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' && !sawDot {
			sawDot = true
			p.pos++
			continue
		}
		break
	}
	lit := p.input[start:p.pos]
	if lit == "" || lit == "." {
		return decimal.Zero, fmt.Errorf("malformed number at offset %d", start)
	}
	v, err := decimal.NewFromString(strings.TrimSuffix(lit, "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed number %q: %w", lit, err)
	}
	return v, nil
}
