package database

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Predicate grammar for filter expressions:
//
//	expr    := term { OR term }
//	term    := factor { AND factor }
//	factor  := '(' expr ')' | comparison
//	compare := column op literal
//	op      := == | != | > | >= | < | <= | contains
//
// Expressions are compiled to a parameterized SQL WHERE clause; literals
// are always bound, never spliced into the statement text.

type predicateNode interface {
	compile(cols map[string]ColumnType) (string, []interface{}, error)
}

type binaryNode struct {
	op    string // "AND" or "OR"
	left  predicateNode
	right predicateNode
}

type compareNode struct {
	column  string
	op      string
	literal interface{} // float64 or string
}

func (n *binaryNode) compile(cols map[string]ColumnType) (string, []interface{}, error) {
	leftSQL, leftArgs, err := n.left.compile(cols)
	if err != nil {
		return "", nil, err
	}
	rightSQL, rightArgs, err := n.right.compile(cols)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("(%s %s %s)", leftSQL, n.op, rightSQL), append(leftArgs, rightArgs...), nil
}

func (n *compareNode) compile(cols map[string]ColumnType) (string, []interface{}, error) {
	colType, ok := cols[n.column]
	if !ok {
		return "", nil, &SchemaError{Detail: fmt.Sprintf("unknown column %q in predicate", n.column)}
	}

	_, isNumber := n.literal.(float64)

	switch n.op {
	case ">", ">=", "<", "<=":
		if colType != ColumnInteger && colType != ColumnReal {
			return "", nil, &SchemaError{Detail: fmt.Sprintf("operator %q requires a numeric column, but %q is %s", n.op, n.column, colType)}
		}
		if !isNumber {
			return "", nil, &SchemaError{Detail: fmt.Sprintf("operator %q on column %q requires a numeric literal", n.op, n.column)}
		}
		return fmt.Sprintf("%s %s ?", quoteIdent(n.column), n.op), []interface{}{n.literal}, nil
	case "==", "!=":
		sqlOp := "="
		if n.op == "!=" {
			sqlOp = "<>"
		}
		if isNumber && colType == ColumnText {
			return "", nil, &SchemaError{Detail: fmt.Sprintf("column %q is text but literal is numeric", n.column)}
		}
		if !isNumber && (colType == ColumnInteger || colType == ColumnReal) {
			return "", nil, &SchemaError{Detail: fmt.Sprintf("column %q is numeric but literal is a string", n.column)}
		}
		return fmt.Sprintf("%s %s ?", quoteIdent(n.column), sqlOp), []interface{}{n.literal}, nil
	case "contains":
		if colType != ColumnText {
			return "", nil, &SchemaError{Detail: fmt.Sprintf("operator \"contains\" requires a text column, but %q is %s", n.column, colType)}
		}
		if isNumber {
			return "", nil, &SchemaError{Detail: "operator \"contains\" requires a string literal"}
		}
		return fmt.Sprintf("instr(%s, ?) > 0", quoteIdent(n.column)), []interface{}{n.literal}, nil
	default:
		return "", nil, &ValidationError{Detail: fmt.Sprintf("unsupported operator %q", n.op)}
	}
}

// quoteIdent quotes a column name for SQLite, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CompilePredicate parses a filter expression and compiles it against the
// given column set. Returns the WHERE clause body and its bound arguments.
func CompilePredicate(expr string, cols map[string]ColumnType) (string, []interface{}, error) {
	p := &predicateParser{input: expr}
	node, err := p.parseExpr()
	if err != nil {
		return "", nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return "", nil, &ValidationError{Detail: fmt.Sprintf("unexpected input at %q", p.input[p.pos:])}
	}
	return node.compile(cols)
}

type predicateParser struct {
	input string
	pos   int
}

func (p *predicateParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *predicateParser) peekWord() string {
	p.skipSpace()
	start := p.pos
	end := start
	for end < len(p.input) && (isIdentChar(p.input[end])) {
		end++
	}
	return p.input[start:end]
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *predicateParser) parseExpr() (predicateNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		word := p.peekWord()
		if !strings.EqualFold(word, "OR") {
			return left, nil
		}
		p.pos += len(word)
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "OR", left: left, right: right}
	}
}

func (p *predicateParser) parseTerm() (predicateNode, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		word := p.peekWord()
		if !strings.EqualFold(word, "AND") {
			return left, nil
		}
		p.pos += len(word)
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "AND", left: left, right: right}
	}
}

func (p *predicateParser) parseFactor() (predicateNode, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		p.pos++
		node, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, &ValidationError{Detail: "missing closing parenthesis in predicate"}
		}
		p.pos++
		return node, nil
	}
	return p.parseComparison()
}

func (p *predicateParser) parseComparison() (predicateNode, error) {
	column := p.peekWord()
	if column == "" {
		return nil, &ValidationError{Detail: "expected column name in predicate"}
	}
	p.pos += len(column)

	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}

	literal, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	return &compareNode{column: column, op: op, literal: literal}, nil
}

func (p *predicateParser) parseOperator() (string, error) {
	p.skipSpace()
	rest := p.input[p.pos:]

	// Word operator first so "contains" is not read as a column.
	word := p.peekWord()
	if strings.EqualFold(word, "contains") {
		p.pos += len(word)
		return "contains", nil
	}

	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<", "="} {
		if strings.HasPrefix(rest, op) {
			p.pos += len(op)
			if op == "=" {
				op = "=="
			}
			return op, nil
		}
	}
	return "", &ValidationError{Detail: fmt.Sprintf("expected comparison operator at %q", truncateAt(rest, 20))}
}

func (p *predicateParser) parseLiteral() (interface{}, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, &ValidationError{Detail: "expected literal value in predicate"}
	}

	c := p.input[p.pos]
	if c == '\'' || c == '"' {
		quote := c
		end := p.pos + 1
		for end < len(p.input) && p.input[end] != quote {
			end++
		}
		if end >= len(p.input) {
			return nil, &ValidationError{Detail: "unterminated string literal in predicate"}
		}
		lit := p.input[p.pos+1 : end]
		p.pos = end + 1
		return lit, nil
	}

	start := p.pos
	end := start
	for end < len(p.input) && (isIdentChar(p.input[end]) || p.input[end] == '.' || p.input[end] == '-' || p.input[end] == '+') {
		end++
	}
	token := p.input[start:end]
	if token == "" {
		return nil, &ValidationError{Detail: fmt.Sprintf("expected literal value at %q", truncateAt(p.input[p.pos:], 20))}
	}
	p.pos = end

	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, nil
	}
	if strings.EqualFold(token, "true") {
		return float64(1), nil
	}
	if strings.EqualFold(token, "false") {
		return float64(0), nil
	}
	// Bare word: treated as a string literal, matching the lenient style
	// of pandas-like query strings.
	return token, nil
}

func truncateAt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
