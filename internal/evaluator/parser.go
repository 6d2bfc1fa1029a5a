package evaluator

import "fmt"

type parser struct {
	toks []token
	pos  int
}

func parseProgram(src string) ([]stmt, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, &CompileError{Msg: err.Error()}
	}

	p := &parser{toks: toks}
	var stmts []stmt
	p.skipSeparators()
	for p.peek().kind != tokEOF {
		s, err := p.parseStmt()
		if err != nil {
			return nil, &CompileError{Msg: err.Error()}
		}
		stmts = append(stmts, s)
		p.skipSeparators()
	}
	return stmts, nil
}

func (p *parser) skipSeparators() {
	for p.peek().kind == tokNewline || p.peek().kind == tokSemicolon {
		p.pos++
	}
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(offset int) token {
	idx := p.pos + offset
	if idx >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[idx]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.peek().kind != kind {
		return token{}, fmt.Errorf("expected %s", what)
	}
	return p.advance(), nil
}

func (p *parser) parseStmt() (stmt, error) {
	if p.peek().kind == tokIdent && p.peekAt(1).kind == tokAssign {
		name := p.advance().text
		p.advance() // '='
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return assignStmt{name: name, expr: e}, nil
	}

	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return exprStmt{expr: e}, nil
}

func (p *parser) parseExpr() (expr, error) {
	return p.parseAddSub()
}

func (p *parser) parseAddSub() (expr, error) {
	lhs, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPlus || p.peek().kind == tokMinus {
		op := p.advance().kind
		rhs, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		lhs = binaryExpr{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseMulDiv() (expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokStar || p.peek().kind == tokSlash || p.peek().kind == tokPercent {
		op := p.advance().kind
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = binaryExpr{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().kind == tokMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryMinus{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		return numberLit{value: t.num}, nil
	case tokString:
		p.advance()
		return stringLit{value: t.text}, nil
	case tokLParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tokIdent:
		switch t.text {
		case "print":
			return p.parsePrintCall()
		case "input":
			return p.parseInputCall()
		default:
			p.advance()
			return identExpr{name: t.text}, nil
		}
	default:
		return nil, fmt.Errorf("unexpected token in expression")
	}
}

func (p *parser) parsePrintCall() (expr, error) {
	p.advance() // 'print'
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []expr
	if p.peek().kind != tokRParen {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return printCall{args: args}, nil
}

func (p *parser) parseInputCall() (expr, error) {
	p.advance() // 'input'
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var prompt expr = stringLit{value: ""}
	if p.peek().kind != tokRParen {
		var err error
		prompt, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return inputCall{prompt: prompt}, nil
}
