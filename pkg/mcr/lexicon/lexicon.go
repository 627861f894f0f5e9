// Package lexicon derives the vocabulary of a formal knowledge base:
// predicate/arity signatures and the atoms they mention. The lexicon is
// recomputed deterministically from the clause list, so it never drifts from
// the facts it describes. Prompts inject it as the schema section, which
// keeps the generative backend reusing existing logical structure instead of
// inventing predicates.
package lexicon

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	clauseHead = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*\(`)
	atomToken  = regexp.MustCompile(`\(([a-zA-Z0-9_,\s]+)\)`)
	predName   = regexp.MustCompile(`^([a-z][a-zA-Z0-9_]*)`)
)

// Lexicon holds the vocabulary extracted from a clause set.
type Lexicon struct {
	predicates map[string]struct{} // "name/arity"
	atoms      map[string]struct{}
}

// New creates an empty lexicon.
func New() *Lexicon {
	return &Lexicon{
		predicates: make(map[string]struct{}),
		atoms:      make(map[string]struct{}),
	}
}

// FromClauses builds a lexicon from formal clause strings. Comment lines
// (leading %) and blank lines are ignored.
func FromClauses(clauses []string) *Lexicon {
	lex := New()
	for _, clause := range clauses {
		lex.AddClause(clause)
	}
	return lex
}

// FromKB builds a lexicon from a newline-separated knowledge base.
func FromKB(kb string) *Lexicon {
	return FromClauses(strings.Split(kb, "\n"))
}

// AddClause folds one clause into the lexicon.
func (l *Lexicon) AddClause(clause string) {
	line := strings.TrimSpace(clause)
	if line == "" || strings.HasPrefix(line, "%") {
		return
	}

	head := line
	if idx := strings.Index(line, ":-"); idx >= 0 {
		head = strings.TrimSpace(line[:idx])
	}

	if name := predName.FindString(head); name != "" && strings.Contains(head, "(") {
		l.predicates[name+"/"+strconv.Itoa(headArity(head))] = struct{}{}
	}

	// Lowercase identifiers inside argument lists are atoms; variables start
	// uppercase and are skipped.
	for _, match := range atomToken.FindAllStringSubmatch(line, -1) {
		for _, raw := range strings.Split(match[1], ",") {
			atom := strings.TrimSpace(raw)
			if atom == "" {
				continue
			}
			if atom[0] >= 'a' && atom[0] <= 'z' {
				l.atoms[atom] = struct{}{}
			}
		}
	}
}

// headArity counts top-level arguments of a clause head.
func headArity(head string) int {
	open := strings.Index(head, "(")
	end := strings.LastIndex(head, ")")
	if open < 0 || end <= open {
		return 0
	}
	args := head[open+1 : end]
	if strings.TrimSpace(args) == "" {
		return 0
	}
	arity, depth := 1, 0
	for _, r := range args {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				arity++
			}
		}
	}
	return arity
}

// Predicates returns the sorted predicate/arity signatures.
func (l *Lexicon) Predicates() []string {
	return sortedKeys(l.predicates)
}

// Atoms returns the sorted atom vocabulary.
func (l *Lexicon) Atoms() []string {
	return sortedKeys(l.atoms)
}

// Schema returns the combined schema entries for prompt injection:
// predicates first, then atoms, each sorted.
func (l *Lexicon) Schema() []string {
	return append(l.Predicates(), l.Atoms()...)
}

// HasPredicate reports whether the "name/arity" signature is known.
func (l *Lexicon) HasPredicate(sig string) bool {
	_, ok := l.predicates[sig]
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ExtractClauses pulls formal clauses out of generative-backend output.
// Keeps lines that look like clauses (lowercase functor followed by an
// argument list, optionally a rule body), strips comments and markdown
// fences, and guarantees a trailing period.
func ExtractClauses(text string) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "```prolog")
		line = strings.Trim(line, "`")
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		if !clauseHead.MatchString(line) {
			continue
		}
		if !strings.HasSuffix(line, ".") {
			line += "."
		}
		out = append(out, line)
	}
	return out
}

// ExtractQuery normalizes generative-backend output into a bare query goal:
// first clause-looking line, markdown and trailing period stripped. Prose
// preambles like "The query is:" are skipped.
func ExtractQuery(text string) string {
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "```prolog")
		line = strings.Trim(line, "`")
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		if !clauseHead.MatchString(line) {
			continue
		}
		return strings.TrimSuffix(line, ".")
	}
	return ""
}
