package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// Corruption specification grammar:
//
//	spec    = [ "C" | "Z" ] [ "R" | "W" ] prefix [ number ] [ ":" countdown [ ":" field ] ] { "[" text "]" }
//	prefix  = lower-case letters, looked up in the locator's grammar table
//
// A Directory prefix consumes two further tokens: an absolute path and a field name.

type tokenKind int

const (
	tokFlag tokenKind = iota
	tokOp
	tokWord
	tokNumber
	tokColon
	tokBracket
	tokEnd
)

func (k tokenKind) String() string {
	return [...]string{"flag", "op", "word", "number", "colon", "bracket", "end"}[k]
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex turns one specification token into a typed token stream.
func lex(spec string) ([]token, error) {
	var toks []token
	i := 0

	// Leading upper-case modifiers: activation, then direction.
	if i < len(spec) && (spec[i] == 'C' || spec[i] == 'Z') {
		toks = append(toks, token{kind: tokFlag, text: spec[i : i+1], pos: i})
		i++
	}
	if i < len(spec) && (spec[i] == 'R' || spec[i] == 'W') {
		toks = append(toks, token{kind: tokOp, text: spec[i : i+1], pos: i})
		i++
	}

	for i < len(spec) {
		c := rune(spec[i])
		switch {
		case unicode.IsLower(c):
			start := i
			for i < len(spec) && (unicode.IsLower(rune(spec[i])) || spec[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: spec[start:i], pos: start})
		case unicode.IsDigit(c):
			start := i
			hex := strings.HasPrefix(spec[i:], "0x")
			if hex {
				i += 2
			}
			for i < len(spec) && (unicode.IsDigit(rune(spec[i])) || hex && isHex(spec[i])) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: spec[start:i], pos: start})
		case c == ':':
			toks = append(toks, token{kind: tokColon, text: ":", pos: i})
			i++
		case c == '[':
			end := strings.IndexByte(spec[i:], ']')
			if end < 0 {
				return nil, types.NewConfigError(spec, "unterminated '[' at %d", i)
			}
			toks = append(toks, token{kind: tokBracket, text: spec[i+1 : i+end], pos: i})
			i += end + 1
		default:
			return nil, types.NewConfigError(spec, "unexpected %q at %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEnd, pos: len(spec)})
	return toks, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Grammar is the per-filesystem table that validates the token stream.
type Grammar struct {
	FS types.FSKind

	// Prefixes maps a kind prefix to its rule kind.
	Prefixes map[string]Kind
	// NATModes maps a node address table prefix to its addressing mode.
	NATModes map[string]byte
	// Wildcard kinds treat an omitted or zero number as "every number".
	Wildcard map[Kind]bool
	// NumberOptional kinds accept a prefix without a number.
	NumberOptional map[Kind]bool
	// ExtraTokens is how many whole tokens a kind consumes after its own.
	ExtraTokens map[Kind]int
}

// Parse converts construction tokens into rules in specification order.
func (g *Grammar) Parse(tokens []string) ([]*Rule, error) {
	var out []*Rule
	for i := 0; i < len(tokens); i++ {
		r, err := g.ParseOne(tokens[i])
		if err != nil {
			return nil, err
		}
		if n := g.ExtraTokens[r.Kind]; n > 0 {
			if i+n >= len(tokens) {
				return nil, types.NewConfigError(tokens[i], "%s needs %d more argument(s)", r.Kind, n)
			}
			extra := tokens[i+1 : i+1+n]
			if err := applyExtra(r, extra); err != nil {
				return nil, err
			}
			r.Raw = strings.Join(tokens[i:i+1+n], " ")
			i += n
		}
		out = append(out, r)
	}
	return out, nil
}

func applyExtra(r *Rule, extra []string) error {
	if r.Kind != KindDirectory {
		return nil
	}
	path := extra[0]
	if !strings.HasPrefix(path, "/") {
		return types.NewConfigError(path, "directory path must be absolute")
	}
	r.Path = path
	if len(extra) > 1 {
		r.Field = extra[1]
	}
	return nil
}

// parser is a recursive-descent reader over one token stream.
type parser struct {
	spec string
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEnd {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind tokenKind) (token, bool) {
	if p.peek().kind == kind {
		return p.next(), true
	}
	return token{}, false
}

func (p *parser) errorf(format string, args ...any) error {
	return types.NewConfigError(p.spec, format, args...)
}

// ParseOne parses a single specification token.
func (g *Grammar) ParseOne(spec string) (*Rule, error) {
	toks, err := lex(spec)
	if err != nil {
		return nil, err
	}
	p := &parser{spec: spec, toks: toks}

	r := &Rule{Raw: spec, Op: types.OpAny, Activation: NewCountdown(0)}
	activation := ""
	if t, ok := p.accept(tokFlag); ok {
		activation = t.text
	}
	if t, ok := p.accept(tokOp); ok {
		if t.text == "R" {
			r.Op = types.OpRead
		} else {
			r.Op = types.OpWrite
		}
	}

	if err := g.parsePrefix(p, r); err != nil {
		return nil, err
	}
	if err := g.parseNumber(p, r); err != nil {
		return nil, err
	}
	countdown, err := parseSuffix(p, r)
	if err != nil {
		return nil, err
	}
	if err := parseBrackets(p, r); err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEnd {
		return nil, p.errorf("unexpected %s %q at %d", t.kind, t.text, t.pos)
	}

	switch activation {
	case "C":
		r.Activation = NewOneShot()
	case "Z":
		r.Activation = NewGlobalZero()
	default:
		r.Activation = NewCountdown(countdown)
	}
	return r, nil
}

func (g *Grammar) parsePrefix(p *parser, r *Rule) error {
	t, ok := p.accept(tokWord)
	if !ok {
		return p.errorf("missing kind prefix")
	}
	if mode, ok := g.NATModes[t.text]; ok {
		r.Kind = KindNodeAddressTable
		r.NATMode = mode
		return nil
	}
	kind, ok := g.Prefixes[t.text]
	if !ok {
		return p.errorf("unknown kind prefix %q for %s", t.text, g.FS)
	}
	r.Kind = kind
	return nil
}

func (g *Grammar) parseNumber(p *parser, r *Rule) error {
	t, ok := p.accept(tokNumber)
	if !ok {
		if !g.NumberOptional[r.Kind] && !g.Wildcard[r.Kind] {
			return p.errorf("%s needs a number", r.Kind)
		}
		r.AnyNumber = g.Wildcard[r.Kind]
		return nil
	}
	n, err := parseNumber(t.text, 64)
	if err != nil {
		return p.errorf("invalid number %q", t.text)
	}
	r.Number = n
	if n == 0 && g.Wildcard[r.Kind] {
		r.AnyNumber = true
	}
	return nil
}

// parseSuffix reads ":countdown" and the optional ":field" form.
func parseSuffix(p *parser, r *Rule) (uint64, error) {
	if _, ok := p.accept(tokColon); !ok {
		return 0, nil
	}
	var countdown uint64
	if t, ok := p.accept(tokNumber); ok {
		n, err := parseNumber(t.text, 64)
		if err != nil {
			return 0, p.errorf("invalid countdown %q", t.text)
		}
		countdown = n
		if _, ok := p.accept(tokColon); !ok {
			return countdown, nil
		}
	}
	t, ok := p.accept(tokWord)
	if !ok {
		return 0, p.errorf("expected countdown or field after ':'")
	}
	r.Field = t.text
	return countdown, nil
}

// parseBrackets reads up to two bracketed arguments:
// [offset], [offset][size], [field] or [index][field].
func parseBrackets(p *parser, r *Rule) error {
	var args []string
	for {
		t, ok := p.accept(tokBracket)
		if !ok {
			break
		}
		args = append(args, strings.TrimSpace(t.text))
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		if n, ok := parseUint32(args[0]); ok {
			r.Offset = n
			r.HasRange = true
			return nil
		}
		if args[0] == "" {
			return p.errorf("empty brackets")
		}
		r.Field = args[0]
		return nil
	case 2:
		first, ok := parseUint32(args[0])
		if !ok {
			return p.errorf("first bracket must be numeric, got %q", args[0])
		}
		if size, ok := parseUint32(args[1]); ok {
			r.Offset = first
			r.Size = size
			r.HasRange = true
			return nil
		}
		r.Index = first
		r.Field = args[1]
		return nil
	default:
		return p.errorf("at most two bracketed arguments, got %d", len(args))
	}
}

// parseNumber reads decimal, or hexadecimal with a 0x prefix.
func parseNumber(s string, bits int) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		return strconv.ParseUint(s[2:], 16, bits)
	}
	return strconv.ParseUint(s, 10, bits)
}

func parseUint32(s string) (uint32, bool) {
	n, err := parseNumber(s, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Describe renders the grammar's prefixes for help text.
func (g *Grammar) Describe() string {
	names := make([]string, 0, len(g.Prefixes)+len(g.NATModes))
	for name := range g.Prefixes {
		names = append(names, name)
	}
	for name := range g.NATModes {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: %s", g.FS, strings.Join(names, " "))
}
