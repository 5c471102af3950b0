package formula

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes formula text. Only decimal literals, identifiers, the four
// arithmetic operators and parentheses are accepted; anything else is a
// syntax error.
func lex(text string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i++
		case c == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case c == '/':
			toks = append(toks, token{tokSlash, "/", i})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++

		case c >= '0' && c <= '9':
			start := i
			sawDot := false
			for i < len(text) {
				ch := text[i]
				if ch >= '0' && ch <= '9' {
					i++
					continue
				}
				if ch == '.' && !sawDot {
					sawDot = true
					i++
					continue
				}
				break
			}
			toks = append(toks, token{tokNumber, text[start:i], start})

		case isIdentStart(c):
			start := i
			for i < len(text) && isIdentPart(text[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, text[start:i], start})

		default:
			return nil, syntaxErr(i, "unexpected character %q", string(c))
		}
	}

	toks = append(toks, token{tokEOF, "", len(text)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
