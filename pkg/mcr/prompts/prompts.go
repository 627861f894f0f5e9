// Package prompts holds the fixed prompt templates used by the translation
// pipeline. Each template may have several variants; callers try them in
// order until the backend returns usable text. Placeholders use {name}
// syntax and are filled by simple substitution.
package prompts

import (
	"fmt"
	"strconv"
	"strings"
)

// Template names.
const (
	IntentClassifier = "intent_classifier"
	NLToFacts        = "nl_to_facts"
	NLToRules        = "nl_to_rules"
	NLToQuery        = "nl_to_query"
	NLToHypotheses   = "nl_to_hypotheses"
	ResultToNL       = "result_to_nl"
	Repair           = "repair"
)

// Data carries the substitution values for a render.
type Data struct {
	Text   string
	Query  string
	Result string
	Schema []string

	// Repair context.
	Input           string
	FailedOutput    string
	ValidationError string
	SimilarFact     string
	SimilarScore    float64
	Iteration       int

	// Hypothesis generation.
	Count int
}

// Library is the fixed template set.
type Library struct {
	templates map[string][]string
}

// NewLibrary returns the built-in templates.
func NewLibrary() *Library {
	return &Library{templates: builtins}
}

// Render fills every variant of the named template. Unknown names are a
// configuration error.
func (l *Library) Render(name string, d Data) ([]string, error) {
	variants, ok := l.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompts: unknown template %q", name)
	}
	r := strings.NewReplacer(
		"{text}", d.Text,
		"{query}", d.Query,
		"{result}", d.Result,
		"{schema_section}", schemaSection(d.Schema),
		"{input}", d.Input,
		"{failed_output}", d.FailedOutput,
		"{validation_error}", d.ValidationError,
		"{similar_fact}", similarHint(d.SimilarFact, d.SimilarScore),
		"{iteration}", strconv.Itoa(d.Iteration),
		"{count}", strconv.Itoa(d.Count),
	)
	out := make([]string, len(variants))
	for i, v := range variants {
		out[i] = r.Replace(v)
	}
	return out, nil
}

func schemaSection(schema []string) string {
	if len(schema) == 0 {
		return ""
	}
	return "--- SCHEMA ---\n% The knowledge base currently contains: " +
		strings.Join(schema, ", ") + "\n"
}

func similarHint(fact string, score float64) string {
	if fact == "" {
		return "(no similar fact available)"
	}
	return fmt.Sprintf("%s (similarity %.3f)", fact, score)
}

var builtins = map[string][]string{
	IntentClassifier: {
		`Classify the user's statement as FACT or RULE. Respond with only one word.
Statement: "{text}"
Classification:`,
	},
	NLToFacts: {
		`Translate the sentence to Prolog facts. Use lowercase atoms. Use schema predicates. Decompose complex statements. Output ONLY valid Prolog code.
{schema_section}User: "Elizabeth and Philip are the parents of Charles and Anne."
Output:
parent(elizabeth, charles).
parent(elizabeth, anne).
parent(philip, charles).
parent(philip, anne).
---
User: "{text}"
Output:`,
	},
	NLToRules: {
		`Translate the definition into a Prolog rule. Use uppercase variables. Use schema predicates. Output ONLY a valid Prolog rule.
{schema_section}User: "A grandparent is the parent of a parent."
Schema: parent/2
Output:
grandparent(GP, GC) :- parent(GP, P), parent(P, GC).
---
User: "{text}"
Output:`,
	},
	NLToQuery: {
		`Translate the question to a Prolog query.
RULES:
1. Output ONLY the query goal. No period, no explanations.
2. For "Who", "What", etc., use a named uppercase variable (X, Who). Never use _.
3. Use the exact lowercase atoms from the schema ("Prince George" becomes george).
{schema_section}User: "Who are the grandparents of George?"
Output: grandparent(Grandparent, george)
---
User: "{query}"
Output:`,
	},
	NLToHypotheses: {
		`Propose {count} alternative Prolog queries that could answer the question. One goal per line, no periods, no explanations. Use the schema predicates where possible.
{schema_section}User: "{query}"
Output:`,
	},
	ResultToNL: {
		`Based *strictly* on the query and its JSON result, provide a natural language answer.
- If the result is an empty list or "No", state that no answers were found.
- If the result is bindings, summarize them conversationally.
- Never invent a "Yes" when the result indicates failure.
Query: {query}
Result (JSON): {result}
Answer:`,
	},
	Repair: {
		`The following output failed validation. Repair it for consistency with the knowledge base. Output ONLY the corrected formal code, nothing else.
Original input: "{input}"
Failed output:
{failed_output}
Validation error: {validation_error}
Most similar known fact: {similar_fact}
Repair attempt: {iteration}
Output:`,
	},
}
