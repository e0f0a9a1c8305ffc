package token

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensHaveNames(t *testing.T) {
	for tok := ILLEGAL; tok < maxToken; tok++ {
		require.Less(t, int(tok), len(tokenNames), "token %d has no name", tok)
		assert.NotEmpty(t, tokenNames[tok], "token %d has an empty name", tok)
	}
}

func TestGoString(t *testing.T) {
	cases := []struct {
		tok  Token
		want string
	}{
		{IDENT, "identifier"},
		{PLUS, "'+'"},
		{EQEQ, "'=='"},
		{LE, "'<='"},
		{WHILE, "while"},
		{EOF, "end of file"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			assert.Equal(t, c.want, fmt.Sprintf("%#v", c.tok))
		})
	}
}

func TestStartsStatement(t *testing.T) {
	starts := []Token{CLASS, DEFER, FOR, FUN, IF, PRINT, RETURN, SWITCH, VAR, WHILE}
	for _, tok := range starts {
		assert.True(t, tok.StartsStatement(), "%s", tok)
	}
	for _, tok := range []Token{IDENT, LBRACE, ELSE, CASE, BREAK, CONTINUE, EOF} {
		assert.False(t, tok.StartsStatement(), "%s", tok)
	}
}
