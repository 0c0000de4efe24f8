// SPDX-License-Identifier: MPL-2.0

package modgraph

// scanner is a minimal Luau tokenizer that understands comments, strings
// and identifiers, enough to find require calls in code the Lua grammar
// cannot parse (type annotations, compound assignment, interpolation).
type scanner struct {
	src  []byte
	pos  int
	line int
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	// value is the decoded string for tokString; ok is false when the
	// literal has escapes that are not decoded.
	value string
	ok    bool
	line  int
}

// scanRequires returns every require call in src, all marked eager.
func scanRequires(src []byte) []Require {
	s := &scanner{src: src, line: 1}
	var (
		out  []Require
		prev token
	)
	for {
		tok := s.next()
		if tok.kind == tokEOF {
			return out
		}
		if tok.kind == tokIdent && tok.text == "require" && !isMemberOrDecl(prev) {
			if req, ok := s.requireArgs(tok.line); ok {
				out = append(out, req)
			}
		}
		prev = tok
	}
}

func isMemberOrDecl(prev token) bool {
	switch prev.kind {
	case tokPunct:
		return prev.text == "." || prev.text == ":"
	case tokIdent:
		return prev.text == "function" || prev.text == "local"
	}
	return false
}

// requireArgs inspects what follows a require identifier.
func (s *scanner) requireArgs(line int) (Require, bool) {
	save := *s
	tok := s.next()
	switch {
	case tok.kind == tokString:
		return literal(tok, line), true
	case tok.kind == tokPunct && tok.text == "(":
		arg := s.next()
		if arg.kind == tokString {
			after := *s
			if closing := s.next(); closing.kind == tokPunct && closing.text == ")" {
				return literal(arg, line), true
			}
			*s = after
		}
		return Require{Line: line, Dynamic: true}, true
	}
	*s = save
	return Require{}, false
}

func literal(tok token, line int) Require {
	if !tok.ok {
		return Require{Line: line, Dynamic: true}
	}
	return Require{Spec: tok.value, Line: line}
}

func (s *scanner) next() token {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.line++
			s.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			s.pos++
		case c == '-' && s.peek(1) == '-':
			s.pos += 2
			s.skipComment()
		case c == '"' || c == '\'' || c == '`':
			return s.quoted(c)
		case c == '[' && (s.peek(1) == '[' || s.peek(1) == '='):
			if tok, ok := s.longString(); ok {
				return tok
			}
			s.pos++
			return token{kind: tokPunct, text: "[", line: s.line}
		case isIdentStart(c):
			start := s.pos
			for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
				s.pos++
			}
			return token{kind: tokIdent, text: string(s.src[start:s.pos]), line: s.line}
		default:
			s.pos++
			return token{kind: tokPunct, text: string(c), line: s.line}
		}
	}
	return token{kind: tokEOF, line: s.line}
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.src) {
		return s.src[s.pos+off]
	}
	return 0
}

func (s *scanner) skipComment() {
	if s.peek(0) == '[' {
		if level, ok := s.longOpen(); ok {
			s.skipLong(level)
			return
		}
	}
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

// longOpen consumes "[", "="*, "[" and returns the level.
func (s *scanner) longOpen() (int, bool) {
	i := s.pos + 1
	for i < len(s.src) && s.src[i] == '=' {
		i++
	}
	if i >= len(s.src) || s.src[i] != '[' {
		return 0, false
	}
	level := i - s.pos - 1
	s.pos = i + 1
	return level, true
}

// skipLong consumes through the closing bracket and returns the body.
func (s *scanner) skipLong(level int) string {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\n' {
			s.line++
		}
		if c == ']' {
			j := s.pos + 1
			for j < len(s.src) && s.src[j] == '=' {
				j++
			}
			if j < len(s.src) && s.src[j] == ']' && j-s.pos-1 == level {
				body := string(s.src[start:s.pos])
				s.pos = j + 1
				return body
			}
		}
		s.pos++
	}
	return string(s.src[start:])
}

func (s *scanner) longString() (token, bool) {
	line := s.line
	level, ok := s.longOpen()
	if !ok {
		return token{}, false
	}
	body := s.skipLong(level)
	if len(body) > 0 && body[0] == '\n' {
		body = body[1:]
	}
	return token{kind: tokString, value: body, ok: true, line: line}, true
}

func (s *scanner) quoted(q byte) token {
	line := s.line
	start := s.pos
	s.pos++
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\\' {
			s.pos += 2
			continue
		}
		if c == '\n' && q != '`' {
			break
		}
		if c == '\n' {
			s.line++
		}
		s.pos++
		if c == q {
			break
		}
	}
	text := string(s.src[start:min(s.pos, len(s.src))])
	tok := token{kind: tokString, text: text, line: line}
	if q != '`' {
		tok.value, tok.ok = unquote(text)
	}
	return tok
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
