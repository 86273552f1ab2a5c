// Package tokenizer splits page source into typed lexical tokens for static analysis.
//
// The scan is maximal munch over bytes: markup tags, quoted strings, numbers, identifiers
// and SQL keywords, multi-character operators, and finally any other rune as a
// one-rune operator. Classification cannot fail.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind is the lexical class of a token.
type Kind int

const (
	Identifier Kind = iota
	String
	Number
	Operator
	Tag
	Keyword
)

// Kinds lists every kind in report order.
var Kinds = []Kind{Identifier, String, Number, Operator, Tag, Keyword}

func (k Kind) String() string {
	switch k {
	case Identifier:
		return "identifier"
	case String:
		return "string"
	case Number:
		return "number"
	case Operator:
		return "operator"
	case Tag:
		return "tag"
	case Keyword:
		return "keyword"
	}
	return "unknown"
}

// MarshalText makes Kind usable as a JSON map key.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Token is one classified lexeme. Pos is the byte offset in the input.
type Token struct {
	Kind  Kind
	Value string
	Pos   int
}

// Result holds the ordered tokens and the per-kind counts.
type Result struct {
	Tokens []Token
	Counts map[Kind]int
}

// Total is the number of tokens; it always equals the sum of Counts.
func (r Result) Total() int { return len(r.Tokens) }

// sqlKeywords is matched case-insensitively against whole identifiers.
var sqlKeywords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true, "FROM": true, "WHERE": true,
	"AND": true, "OR": true, "NOT": true, "NULL": true, "UNION": true, "ALL": true, "JOIN": true,
	"INNER": true, "OUTER": true, "LEFT": true, "RIGHT": true, "ON": true, "AS": true, "INTO": true,
	"VALUES": true, "SET": true, "CREATE": true, "DROP": true, "ALTER": true, "TABLE": true,
	"DATABASE": true, "INDEX": true, "VIEW": true, "ORDER": true, "GROUP": true, "BY": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "LIKE": true, "IN": true, "IS": true,
	"BETWEEN": true, "EXISTS": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "DISTINCT": true, "EXEC": true, "EXECUTE": true, "DECLARE": true, "CAST": true,
	"CONVERT": true, "TRUNCATE": true, "GRANT": true, "REVOKE": true, "SLEEP": true,
	"WAITFOR": true, "DELAY": true, "BENCHMARK": true, "INFORMATION_SCHEMA": true,
}

// IsSQLKeyword reports whether word is in the fixed keyword set.
func IsSQLKeyword(word string) bool {
	return sqlKeywords[strings.ToUpper(word)]
}

// operators are tried longest first.
var operators = []string{
	"===", "!==", ">>>", "<<=", ">>=", "...",
	"==", "!=", "<=", ">=", "&&", "||", "=>", "++", "--", "+=", "-=", "*=", "/=", "%=",
	"<>", "::", "->", "<<", ">>", "**", "??", "?.",
}

// Tokenize classifies text. The same input always yields the same Result.
func Tokenize(text string) Result {
	res := Result{Counts: make(map[Kind]int, len(Kinds))}
	emit := func(kind Kind, start, end int) {
		res.Tokens = append(res.Tokens, Token{Kind: kind, Value: text[start:end], Pos: start})
		res.Counts[kind]++
	}

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '<':
			if end := scanTag(text, i); end > i {
				emit(Tag, i, end)
				i = end
				continue
			}
			end := scanOperator(text, i)
			emit(Operator, i, end)
			i = end

		case r == '"' || r == '\'' || r == '`':
			if end := scanString(text, i, byte(r)); end > i {
				emit(String, i, end)
				i = end
				continue
			}
			emit(Operator, i, i+1)
			i++

		case isDigit(r) || (r == '.' && i+1 < len(text) && isDigit(rune(text[i+1]))):
			end := scanNumber(text, i)
			emit(Number, i, end)
			i = end

		case isIdentStart(r):
			end := scanIdentifier(text, i)
			if sqlKeywords[strings.ToUpper(text[i:end])] {
				emit(Keyword, i, end)
			} else {
				emit(Identifier, i, end)
			}
			i = end

		default:
			end := scanOperator(text, i)
			emit(Operator, i, end)
			i = end
		}
	}
	return res
}

// scanTag returns the end of a markup tag starting at i, or i if there is none.
// A tag opens with '<' followed by a letter, '/', '!' or '?' and closes at the first
// '>' before any other '<'.
func scanTag(text string, i int) int {
	if i+1 >= len(text) {
		return i
	}
	next := text[i+1]
	if !(isASCIILetter(next) || next == '/' || next == '!' || next == '?') {
		return i
	}
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '>':
			return j + 1
		case '<':
			return i
		}
	}
	return i
}

// scanString returns the end of a quoted string, or i when it is unterminated.
func scanString(text string, i int, quote byte) int {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			if quote != '`' {
				return i
			}
		}
	}
	return i
}

func scanNumber(text string, i int) int {
	j := i
	if strings.HasPrefix(text[i:], "0x") || strings.HasPrefix(text[i:], "0X") {
		j += 2
		for j < len(text) && isHexDigit(text[j]) {
			j++
		}
		if j > i+2 {
			return j
		}
		j = i
	}
	for j < len(text) && isDigit(rune(text[j])) {
		j++
	}
	if j < len(text) && text[j] == '.' && j+1 < len(text) && isDigit(rune(text[j+1])) {
		j++
		for j < len(text) && isDigit(rune(text[j])) {
			j++
		}
	}
	if j < len(text) && (text[j] == 'e' || text[j] == 'E') {
		k := j + 1
		if k < len(text) && (text[k] == '+' || text[k] == '-') {
			k++
		}
		if k < len(text) && isDigit(rune(text[k])) {
			j = k
			for j < len(text) && isDigit(rune(text[j])) {
				j++
			}
		}
	}
	return j
}

func scanIdentifier(text string, i int) int {
	j := i
	for j < len(text) {
		r, size := utf8.DecodeRuneInString(text[j:])
		if !isIdentPart(r) {
			break
		}
		j += size
	}
	return j
}

func scanOperator(text string, i int) int {
	for _, op := range operators {
		if strings.HasPrefix(text[i:], op) {
			return i + len(op)
		}
	}
	_, size := utf8.DecodeRuneInString(text[i:])
	return i + size
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isASCIILetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
func isHexDigit(b byte) bool { return isDigit(rune(b)) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') }
func isIdentStart(r rune) bool { return r == '_' || r == '$' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }
