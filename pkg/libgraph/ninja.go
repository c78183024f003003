// Package libgraph is the Library Graph Builder (C6, spec.md §4.7): it reads
// build.ninja directly (a parallel path alongside C2/C3, spec.md §5) and
// turns static/shared library and executable link rules into a
// library->library / executable->library graph.
package libgraph

import (
	"bufio"
	"io"
	"strings"

	"github.com/dsmforge/dsm/pkg/errs"
)

// RuleNames is the configurable set of ninja rule names recognized as
// library/executable link steps (spec.md §4.7, §6). Any other rule ("CXX",
// "AR", custom codegen rules, and so on) is ignored.
type RuleNames struct {
	StaticLib        string
	SharedLib        string
	ExecutableLinker string
}

// DefaultRuleNames returns the rule-name set spec.md §4.7/§6 names by default.
func DefaultRuleNames() RuleNames {
	return RuleNames{
		StaticLib:        "STATIC_LIB",
		SharedLib:        "SHARED_LIB",
		ExecutableLinker: "EXECUTABLE_LINKER",
	}
}

// Kind classifies a parsed build target.
type Kind string

const (
	KindStaticLib  Kind = "static_lib"
	KindSharedLib  Kind = "shared_lib"
	KindExecutable Kind = "executable"
)

func (r RuleNames) kindOf(rule string) (Kind, bool) {
	switch rule {
	case r.StaticLib:
		return KindStaticLib, true
	case r.SharedLib:
		return KindSharedLib, true
	case r.ExecutableLinker:
		return KindExecutable, true
	default:
		return "", false
	}
}

// buildStatement is one parsed "build outputs: rule inputs | implicit ||
// order-only" line.
type buildStatement struct {
	outputs   []string
	rule      string
	orderOnly []string
}

// scanBuildStatements is a hand-written line/token scanner over build.ninja —
// not a full ninja grammar (spec.md §4.7 only needs link-rule topology, not
// variable expansion, pools, or includes), in the spirit of maruel/nin's
// lexer seen in the pack but written for this narrower job rather than
// ported wholesale.
func scanBuildStatements(r io.Reader) ([]buildStatement, error) {
	joined, err := joinContinuations(r)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, err, "reading build.ninja")
	}

	var statements []buildStatement

	for _, line := range joined {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "build ") {
			continue
		}

		st, ok := parseBuildLine(trimmed)
		if ok {
			statements = append(statements, st)
		}
	}

	return statements, nil
}

// joinContinuations reads r line by line, splicing any line ending in an
// unescaped trailing "$" onto the next line (ninja's line-continuation
// rule), and dropping comment lines.
func joinContinuations(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []string

	var pending strings.Builder

	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), "\r")

		trimmedForComment := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmedForComment, "#") && pending.Len() == 0 {
			continue
		}

		if strings.HasSuffix(raw, "$") && !strings.HasSuffix(raw, "$$") {
			pending.WriteString(strings.TrimSuffix(raw, "$"))
			continue
		}

		pending.WriteString(raw)
		out = append(out, pending.String())
		pending.Reset()
	}

	if pending.Len() > 0 {
		out = append(out, pending.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// parseBuildLine parses "build outs: rule in1 in2 | impl1 || oo1 oo2" into a
// buildStatement. Lines that don't match this shape are skipped rather than
// treated as an error (spec.md §4.11: tolerant, never abort).
func parseBuildLine(line string) (buildStatement, bool) {
	rest := strings.TrimPrefix(line, "build ")

	head, tail, ok := splitUnescaped(rest, ':')
	if !ok {
		return buildStatement{}, false
	}

	outputs := tokenize(head)
	outputs = dropPipeMarkers(outputs)

	if len(outputs) == 0 {
		return buildStatement{}, false
	}

	tailTokens := tokenize(tail)
	if len(tailTokens) == 0 {
		return buildStatement{}, false
	}

	rule := tailTokens[0]

	var orderOnly []string

	section := 0 // 0 = explicit inputs, 1 = implicit inputs, 2 = order-only

	for _, tok := range tailTokens[1:] {
		switch tok {
		case "|":
			section = 1
			continue
		case "||":
			section = 2
			continue
		}

		if section == 2 {
			orderOnly = append(orderOnly, tok)
		}
	}

	return buildStatement{outputs: outputs, rule: rule, orderOnly: orderOnly}, true
}

func dropPipeMarkers(tokens []string) []string {
	out := tokens[:0:0]

	for _, t := range tokens {
		if t == "|" || t == "||" {
			continue
		}

		out = append(out, t)
	}

	return out
}

// splitUnescaped finds the first unescaped occurrence of sep in s ("$" marks
// the next rune as escaped, so "$:" is a literal colon, not a separator).
func splitUnescaped(s string, sep byte) (head, tail string, ok bool) {
	runes := []byte(s)

	for i := 0; i < len(runes); i++ {
		if runes[i] == '$' && i+1 < len(runes) {
			i++
			continue
		}

		if runes[i] == sep {
			return s[:i], s[i+1:], true
		}
	}

	return "", "", false
}

// tokenize splits s on unescaped whitespace, unescaping "$$" to "$", "$ " to
// a literal space within a token, and "$:" to a literal colon.
func tokenize(s string) []string {
	var tokens []string

	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []byte(s)

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '$' && i+1 < len(runes) {
			cur.WriteByte(runes[i+1])
			i++

			continue
		}

		if c == ' ' || c == '\t' {
			flush()
			continue
		}

		cur.WriteByte(c)
	}

	flush()

	return tokens
}
