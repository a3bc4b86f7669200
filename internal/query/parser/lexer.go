// Package parser parses the SELECT dialect the merge-on-read engine plans:
// a projection over one table, a chain of joins and an optional filter.
package parser

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkKeyword
	tkNumber
	tkString
	tkSymbol
)

// token is one lexeme. Keywords are upper-cased; string literals hold their
// unescaped value; quoted identifiers hold the name without quotes.
type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tkEOF {
		return "end of input"
	}
	return t.text
}

var reserved = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AS": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "BETWEEN": true,
	"IS": true, "NULL": true, "LIKE": true, "TRUE": true, "FALSE": true,
	"JOIN": true, "LEFT": true, "INNER": true, "ANTI": true, "SEMI": true, "ON": true,
	"ORDER": true, "GROUP": true, "LIMIT": true,
}

// Two-character symbols are matched before single ones.
var symbols = []string{"<>", "!=", "<=", ">=", "=", "<", ">", "+", "-", "*", "/", ",", "(", ")", ".", ";"}

// tokenize splits src into tokens terminated by a tkEOF token.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for {
		for i < len(src) && isSpace(src[i]) {
			i++
		}
		if i >= len(src) {
			return append(toks, token{kind: tkEOF, pos: i}), nil
		}

		start := i
		c := src[i]
		switch {
		case isIdentStart(c):
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			if upper := strings.ToUpper(word); reserved[upper] {
				toks = append(toks, token{kind: tkKeyword, text: upper, pos: start})
			} else {
				toks = append(toks, token{kind: tkIdent, text: word, pos: start})
			}

		case isDigit(c):
			dot := false
			for i < len(src) && (isDigit(src[i]) || (src[i] == '.' && !dot)) {
				dot = dot || src[i] == '.'
				i++
			}
			toks = append(toks, token{kind: tkNumber, text: src[start:i], pos: start})

		case c == '\'' || c == '"':
			text, end, err := quoted(src, i)
			if err != nil {
				return nil, err
			}
			kind := tkString
			if c == '"' {
				kind = tkIdent
			}
			toks = append(toks, token{kind: kind, text: text, pos: start})
			i = end

		default:
			sym := ""
			for _, s := range symbols {
				if strings.HasPrefix(src[i:], s) {
					sym = s
					break
				}
			}
			if sym == "" {
				return nil, &SyntaxError{Pos: i, Near: string(c), Msg: "unexpected character"}
			}
			toks = append(toks, token{kind: tkSymbol, text: sym, pos: start})
			i += len(sym)
		}
	}
}

// quoted reads a literal opened by src[start]; a doubled quote inside is an
// escaped quote. It returns the unescaped text and the index past the end.
func quoted(src string, start int) (string, int, error) {
	q := src[start]
	var sb strings.Builder
	for i := start + 1; i < len(src); i++ {
		if src[i] != q {
			sb.WriteByte(src[i])
			continue
		}
		if i+1 < len(src) && src[i+1] == q {
			sb.WriteByte(q)
			i++
			continue
		}
		return sb.String(), i + 1, nil
	}
	return "", 0, &SyntaxError{Pos: start, Near: src[start:], Msg: fmt.Sprintf("unterminated %c literal", q)}
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20) >= 'a' && (c|0x20) <= 'z' }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
