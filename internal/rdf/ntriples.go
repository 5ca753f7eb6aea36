package rdf

import (
	"fmt"
	"strings"
)

// EncodeTerm renders a term in N-Triples syntax. The encoding is used
// both as the storage format of the local backends and as the wire
// format for SPARQL updates.
func EncodeTerm(t Term) string {
	switch t.Kind {
	case TermIRI:
		return "<" + t.Value + ">"
	case TermBlank:
		return "_:" + t.Value
	default:
		var b strings.Builder
		b.WriteByte('"')
		b.WriteString(escapeLiteral(t.Value))
		b.WriteByte('"')
		if t.Lang != "" {
			b.WriteByte('@')
			b.WriteString(t.Lang)
		} else if t.Datatype != "" {
			b.WriteString("^^<")
			b.WriteString(t.Datatype)
			b.WriteByte('>')
		}
		return b.String()
	}
}

// DecodeTerm parses a single N-Triples term.
func DecodeTerm(s string) (Term, error) {
	if s == "" {
		return Term{}, fmt.Errorf("decode term: empty input")
	}
	switch s[0] {
	case '<':
		if !strings.HasSuffix(s, ">") || len(s) < 2 {
			return Term{}, fmt.Errorf("decode term: unterminated IRI %q", s)
		}
		return IRI(s[1 : len(s)-1]), nil

	case '_':
		if !strings.HasPrefix(s, "_:") || len(s) == 2 {
			return Term{}, fmt.Errorf("decode term: malformed blank node %q", s)
		}
		return Blank(s[2:]), nil

	case '"':
		value, rest, err := scanQuoted(s)
		if err != nil {
			return Term{}, err
		}
		switch {
		case rest == "":
			return Literal(value), nil
		case strings.HasPrefix(rest, "@"):
			if len(rest) == 1 {
				return Term{}, fmt.Errorf("decode term: empty language tag in %q", s)
			}
			return LangLiteral(value, rest[1:]), nil
		case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
			return TypedLiteral(value, rest[3:len(rest)-1]), nil
		default:
			return Term{}, fmt.Errorf("decode term: trailing %q in %q", rest, s)
		}

	default:
		return Term{}, fmt.Errorf("decode term: unrecognized leading %q", s[0])
	}
}

// scanQuoted consumes a double-quoted, backslash-escaped string from the
// start of s and returns the unescaped value plus whatever follows the
// closing quote.
func scanQuoted(s string) (value, rest string, err error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch c {
		case '"':
			return b.String(), s[i+1:], nil
		case '\\':
			if i+1 >= len(s) {
				return "", "", fmt.Errorf("decode term: dangling escape in %q", s)
			}
			i++
			switch s[i] {
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				return "", "", fmt.Errorf("decode term: unknown escape \\%c in %q", s[i], s)
			}
		default:
			b.WriteByte(c)
		}
		i++
	}
	return "", "", fmt.Errorf("decode term: unterminated literal %q", s)
}

func escapeLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
