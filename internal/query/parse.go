// internal/query/parse.go
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

/*
 * Text filter grammar, version 1.
 *
 *   expr    := orExpr
 *   orExpr  := andExpr ("or" andExpr)*
 *   andExpr := unary ("and" unary)*
 *   unary   := "not" unary | "(" expr ")" | cmp
 *   cmp     := IDENT OP value
 *   value   := STRING | NUMBER | true | false | null | "[" value ("," value)* "]"
 *
 * OP is an operator name (eq, neq, gt, gte, lt, lte, in, nin, contains,
 * startsWith, endsWith, isNull) or one of the symbolic aliases
 * = == != > >= < <=. Keywords are case-insensitive. Strings use single or
 * double quotes with backslash escapes. Integers decode to int64, anything
 * with a fraction or exponent to float64.
 *
 * An optional "v1:" prefix pins the grammar version; other versions are
 * rejected so clients fail loudly when the grammar changes under them.
 *
 * The parser only builds the tree. Field existence and operator/kind
 * compatibility are checked by Compile.
 */

// GrammarVersion is the only filter grammar version understood.
const GrammarVersion = 1

// MaxFilterDepth bounds nesting of parenthesised/negated expressions.
const MaxFilterDepth = 32

var versionPrefix = regexp.MustCompile(`^\s*v(\d+):`)

// ParseFilter parses a text filter. Blank input yields a nil Node.
func ParseFilter(input string) (Node, error) {
	if m := versionPrefix.FindStringSubmatch(input); m != nil {
		v, _ := strconv.Atoi(m[1])
		if v != GrammarVersion {
			return nil, types.Errorf(types.ErrValidation, "unsupported filter grammar version v%d", v)
		}
		input = input[len(m[0]):]
	}
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	return n, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
	val  any // decoded literal for strings and numbers
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return strconv.Quote(t.text)
}

func lex(input string) ([]token, error) {
	var toks []token
	rs := []rune(input)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '[':
			toks = append(toks, token{kind: tokLBrack, text: "[", pos: i})
			i++
		case r == ']':
			toks = append(toks, token{kind: tokRBrack, text: "]", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '=' || r == '!' || r == '<' || r == '>':
			start := i
			i++
			if i < len(rs) && rs[i] == '=' {
				i++
			}
			text := string(rs[start:i])
			if text == "!" {
				return nil, types.Errorf(types.ErrValidation, "invalid filter at position %d: unexpected \"!\"", start)
			}
			toks = append(toks, token{kind: tokOp, text: text, pos: start})
		case r == '"' || r == '\'':
			start := i
			s, n, err := lexString(rs[i:])
			if err != nil {
				return nil, types.Errorf(types.ErrValidation, "invalid filter at position %d: %v", start, err)
			}
			i += n
			toks = append(toks, token{kind: tokString, text: string(rs[start:i]), pos: start, val: s})
		case r == '-' || r == '+' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || strings.ContainsRune(".eE+-", rs[i])) {
				i++
			}
			text := string(rs[start:i])
			v, err := parseNumber(text)
			if err != nil {
				return nil, types.Errorf(types.ErrValidation, "invalid filter at position %d: bad number %q", start, text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, pos: start, val: v})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || rs[i] == '.' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
		default:
			return nil, types.Errorf(types.ErrValidation, "invalid filter at position %d: unexpected %q", i, string(r))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

// lexString reads a quoted literal starting at rs[0]. Returns the decoded
// value and the number of runes consumed.
func lexString(rs []rune) (string, int, error) {
	quote := rs[0]
	var b strings.Builder
	for i := 1; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			if i+1 >= len(rs) {
				return "", 0, fmt.Errorf("unterminated string")
			}
			i++
			switch rs[i] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(rs[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(rs[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func parseNumber(text string) (any, error) {
	if !strings.ContainsAny(text, ".eE") {
		return strconv.ParseInt(text, 10, 64)
	}
	return strconv.ParseFloat(text, 64)
}

var symbolOps = map[string]Operator{
	"=":  OpEq,
	"==": OpEq,
	"!=": OpNeq,
	">":  OpGt,
	">=": OpGte,
	"<":  OpLt,
	"<=": OpLte,
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return types.Errorf(types.ErrValidation, "invalid filter at position %d: %s", t.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr(depth int) (Node, error) {
	left, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	operands := []Node{left}
	for p.keyword("or") {
		right, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Logical{Kind: Or, Operands: operands}, nil
}

func (p *parser) parseAnd(depth int) (Node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	operands := []Node{left}
	for p.keyword("and") {
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Logical{Kind: And, Operands: operands}, nil
}

func (p *parser) parseUnary(depth int) (Node, error) {
	if depth >= MaxFilterDepth {
		return nil, p.errorf(p.peek(), "nesting deeper than %d", MaxFilterDepth)
	}
	if p.keyword("not") {
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil
	}
	if t := p.peek(); t.kind == tokLParen {
		p.next()
		n, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, p.errorf(t, "expected \")\", got %s", t)
		}
		return n, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	field := p.next()
	if field.kind != tokIdent {
		return nil, p.errorf(field, "expected field name, got %s", field)
	}

	opTok := p.next()
	var op Operator
	switch opTok.kind {
	case tokOp:
		op = symbolOps[opTok.text]
	case tokIdent:
		var ok bool
		if op, ok = ParseOperator(opTok.text); !ok {
			return nil, p.errorf(opTok, "unknown operator %s", opTok)
		}
	default:
		return nil, p.errorf(opTok, "expected operator after %s, got %s", field, opTok)
	}

	value, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return Comparison{Field: field.text, Op: op, Value: value}, nil
}

func (p *parser) parseValue() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString, tokNumber:
		return t.val, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return nil, p.errorf(t, "expected value, got %s", t)
	case tokLBrack:
		var list []any
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
			sep := p.next()
			if sep.kind == tokRBrack {
				return list, nil
			}
			if sep.kind != tokComma {
				return nil, p.errorf(sep, "expected \",\" or \"]\", got %s", sep)
			}
		}
	default:
		return nil, p.errorf(t, "expected value, got %s", t)
	}
}
