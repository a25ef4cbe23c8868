package sqlfront

import (
	"fmt"
	"strconv"

	"aquadb/internal/plan"
	"aquadb/pkg/types"
)

// Parser compiles one SQL statement into a plan.Node, recursive-descent,
// emitting logical plan nodes instead of directly executing.
type Parser struct {
	lexer  *Lexer
	cur    Token
	peeked *Token
}

// NewParser creates a parser over a single SQL statement.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.cur = p.lexer.NextToken()
	return p
}

func (p *Parser) advance() {
	if p.peeked != nil {
		p.cur = *p.peeked
		p.peeked = nil
		return
	}
	p.cur = p.lexer.NextToken()
}

func (p *Parser) peekToken() Token {
	if p.peeked == nil {
		t := p.lexer.NextToken()
		p.peeked = &t
	}
	return *p.peeked
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	if p.cur.Type != tt {
		return Token{}, fmt.Errorf("sqlfront: unexpected token %q at %d", p.cur.Literal, p.cur.Pos)
	}
	t := p.cur
	p.advance()
	return t, nil
}

// Parse compiles the statement into a plan.Node.
func (p *Parser) Parse() (plan.Node, error) {
	switch p.cur.Type {
	case TokenSelect:
		return p.parseSelect()
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenDelete:
		return p.parseDelete()
	case TokenCreate:
		return p.parseCreateTable()
	default:
		return nil, fmt.Errorf("sqlfront: unsupported statement starting with %q", p.cur.Literal)
	}
}

func (p *Parser) parseSelect() (plan.Node, error) {
	p.advance() // SELECT

	var fields []string
	star := false
	if p.cur.Type == TokenStar {
		star = true
		p.advance()
	} else {
		for {
			id, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			fields = append(fields, id.Literal)
			if p.cur.Type != TokenComma {
				break
			}
			p.advance()
		}
	}

	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}

	var node plan.Node = plan.SeqScan{Table: table.Literal}

	if p.cur.Type == TokenWhere {
		p.advance()
		pred, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node = plan.Filter{Child: node, Predicate: pred}
	}

	if !star {
		node = plan.Project{Child: node, Fields: fields}
	}
	return node, nil
}

func (p *Parser) parseInsert() (plan.Node, error) {
	p.advance() // INSERT
	if _, err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	var values []plan.Expr
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur.Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return plan.Insert{Table: table.Literal, Values: values}, nil
}

func (p *Parser) parseUpdate() (plan.Node, error) {
	p.advance() // UPDATE
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenSet); err != nil {
		return nil, err
	}

	var assigns []plan.Assignment
	for {
		col, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEq); err != nil {
			return nil, err
		}
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, plan.Assignment{Field: col.Literal, Value: v})
		if p.cur.Type != TokenComma {
			break
		}
		p.advance()
	}

	var pred plan.Expr
	if p.cur.Type == TokenWhere {
		p.advance()
		pred, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return plan.Update{Table: table.Literal, Assignments: assigns, Predicate: pred}, nil
}

func (p *Parser) parseDelete() (plan.Node, error) {
	p.advance() // DELETE
	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	var pred plan.Expr
	if p.cur.Type == TokenWhere {
		p.advance()
		pred, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return plan.Delete{Table: table.Literal, Predicate: pred}, nil
}

func (p *Parser) parseCreateTable() (plan.Node, error) {
	p.advance() // CREATE
	if _, err := p.expect(TokenTable); err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	var cols []types.Column
	for {
		name, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		col := types.Column{Name: name.Literal, Nullable: true}
		switch p.cur.Type {
		case TokenInt:
			col.Type = types.TypeInt
			p.advance()
		case TokenVarchar:
			col.Type = types.TypeVarchar
			p.advance()
			if p.cur.Type == TokenLParen {
				p.advance()
				n, err := p.expect(TokenNumber)
				if err != nil {
					return nil, err
				}
				limit, _ := strconv.Atoi(n.Literal)
				col.CharLimit = uint32(limit)
				if _, err := p.expect(TokenRParen); err != nil {
					return nil, err
				}
			}
		case TokenBool:
			col.Type = types.TypeBool
			p.advance()
		default:
			return nil, fmt.Errorf("sqlfront: expected a type for column %q", name.Literal)
		}

		for p.cur.Type == TokenPrimary || p.cur.Type == TokenNot || p.cur.Type == TokenUnique {
			switch p.cur.Type {
			case TokenPrimary:
				p.advance()
				if _, err := p.expect(TokenKey); err != nil {
					return nil, err
				}
				col.PrimaryKey = true
				col.Nullable = false
			case TokenNot:
				p.advance()
				if _, err := p.expect(TokenNull); err != nil {
					return nil, err
				}
				col.Nullable = false
			case TokenUnique:
				p.advance()
				col.Unique = true
			}
		}

		cols = append(cols, col)
		if p.cur.Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	schema := &types.Schema{TableName: table.Literal, Columns: cols}
	return plan.CreateTable{Schema: schema}, nil
}

// parseLiteral parses a single scalar literal (number, string, bool, null).
func (p *Parser) parseLiteral() (plan.Expr, error) {
	switch p.cur.Type {
	case TokenNumber:
		n, err := strconv.ParseInt(p.cur.Literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sqlfront: bad integer %q", p.cur.Literal)
		}
		p.advance()
		return plan.Literal{Value: types.IntValue(n)}, nil
	case TokenString:
		s := p.cur.Literal
		p.advance()
		return plan.Literal{Value: types.StrValue(s)}, nil
	case TokenTrue:
		p.advance()
		return plan.Literal{Value: types.BoolValue(true)}, nil
	case TokenFalse:
		p.advance()
		return plan.Literal{Value: types.BoolValue(false)}, nil
	case TokenNull:
		p.advance()
		return plan.Literal{Value: types.Value{Null: true}}, nil
	default:
		return nil, fmt.Errorf("sqlfront: expected a literal, got %q", p.cur.Literal)
	}
}

// parseExpr parses a WHERE predicate: OR-joined ANDs of comparisons.
func (p *Parser) parseExpr() (plan.Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (plan.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = plan.BinaryOp{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (plan.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = plan.BinaryOp{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (plan.Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op := ""
	switch p.cur.Type {
	case TokenEq:
		op = "="
	case TokenNe:
		op = "!="
	case TokenLt:
		op = "<"
	case TokenLe:
		op = "<="
	case TokenGt:
		op = ">"
	case TokenGe:
		op = ">="
	default:
		return left, nil
	}
	p.advance()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return plan.BinaryOp{Op: op, Left: left, Right: right}, nil
}

func (p *Parser) parseOperand() (plan.Expr, error) {
	if p.cur.Type == TokenIdent {
		name := p.cur.Literal
		p.advance()
		return plan.ColumnRef{Name: name}, nil
	}
	return p.parseLiteral()
}
