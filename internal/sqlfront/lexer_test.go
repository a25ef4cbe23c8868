package sqlfront

import "testing"

func TestLexerTokenizesBasicSelect(t *testing.T) {
	l := NewLexer("SELECT id, name FROM users WHERE id = 42;")
	var types []TokenType
	for {
		tok := l.NextToken()
		types = append(types, tok.Type)
		if tok.Type == TokenEOF {
			break
		}
	}
	want := []TokenType{
		TokenSelect, TokenIdent, TokenComma, TokenIdent, TokenFrom, TokenIdent,
		TokenWhere, TokenIdent, TokenEq, TokenNumber, TokenSemicolon, TokenEOF,
	}
	if len(types) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(types), len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestLexerKeywordsAreCaseInsensitive(t *testing.T) {
	l := NewLexer("select * from t")
	tok := l.NextToken()
	if tok.Type != TokenSelect {
		t.Errorf("NextToken() = %v, want TokenSelect", tok.Type)
	}
}

func TestLexerReadsStringAndNegativeNumberLiterals(t *testing.T) {
	l := NewLexer("'hello' -7")
	str := l.NextToken()
	if str.Type != TokenString || str.Literal != "hello" {
		t.Errorf("string token = %+v, want Literal %q", str, "hello")
	}
	num := l.NextToken()
	if num.Type != TokenNumber || num.Literal != "-7" {
		t.Errorf("number token = %+v, want Literal %q", num, "-7")
	}
}

func TestLexerMultiCharOperators(t *testing.T) {
	cases := []struct {
		input string
		want  TokenType
	}{
		{"<=", TokenLe},
		{">=", TokenGe},
		{"<>", TokenNe},
		{"!=", TokenNe},
		{"<", TokenLt},
		{">", TokenGt},
	}
	for _, c := range cases {
		tok := NewLexer(c.input).NextToken()
		if tok.Type != c.want {
			t.Errorf("NextToken(%q) = %v, want %v", c.input, tok.Type, c.want)
		}
	}
}
