package strategy

import (
	"github.com/mcr-lab/mcr/pkg/mcr/artifact"
	"github.com/mcr-lab/mcr/pkg/mcr/prompts"
)

// Built-in strategy graph ids. The router picks among these by performance
// history; callers fall back to the default when it has no recommendation.
const (
	GraphDirect   = "direct-s1"
	GraphClassify = "classify-s2"
	GraphCritique = "critique-s3"
	GraphQuery    = "query-s1"
	DefaultAssert = GraphDirect
	DefaultQuery  = GraphQuery
)

// Catalog returns the built-in strategy graphs keyed by id. Graphs expect an
// initial scope with a "text" artifact and a "schema" artifact (comma-joined
// lexicon entries; content may be empty).
func Catalog() map[string]Graph {
	graphs := []Graph{
		directTranslate(),
		classifyThenTranslate(),
		translateWithCritique(),
		questionToQuery(),
	}
	out := make(map[string]Graph, len(graphs))
	for _, g := range graphs {
		out[g.ID] = g
	}
	return out
}

// directTranslate goes straight from text to clauses with the facts
// template.
func directTranslate() Graph {
	return Graph{
		ID:   GraphDirect,
		Name: "Direct translation",
		Steps: map[string]Step{
			"translate": {
				ID:   "translate",
				Name: "NL to clauses",
				Action: Action{Kind: KindGenerative, Generative: &GenerativeAction{
					Template: prompts.NLToFacts,
					Input:    "text",
					Output:   artifact.Text,
				}},
			},
			"extract": {
				ID:   "extract",
				Name: "Extract clauses",
				Action: Action{Kind: KindTransform, Transform: &TransformAction{
					Func:  "extract_clauses",
					Input: "translate",
				}},
			},
		},
		Edges:  []Edge{{From: "translate", To: "extract"}},
		Entry:  "translate",
		Output: artifact.ClauseSet,
	}
}

// classifyThenTranslate first classifies the statement as FACT or RULE, then
// translates with the matching template.
func classifyThenTranslate() Graph {
	return Graph{
		ID:   GraphClassify,
		Name: "Classify then translate",
		Steps: map[string]Step{
			"classify": {
				ID:   "classify",
				Name: "Intent classification",
				Action: Action{Kind: KindGenerative, Generative: &GenerativeAction{
					Template: prompts.IntentClassifier,
					Input:    "text",
					Output:   artifact.Critique,
				}},
			},
			"translate": {
				ID:   "translate",
				Name: "NL to clauses by intent",
				Action: Action{Kind: KindGenerative, Generative: &GenerativeAction{
					Template: TranslateAuto,
					Input:    "text",
					Output:   artifact.Text,
				}},
			},
			"extract": {
				ID:   "extract",
				Name: "Extract clauses",
				Action: Action{Kind: KindTransform, Transform: &TransformAction{
					Func:  "extract_clauses",
					Input: "translate",
				}},
			},
		},
		Edges: []Edge{
			{From: "classify", To: "translate"},
			{From: "translate", To: "extract"},
		},
		Entry:  "classify",
		Output: artifact.ClauseSet,
	}
}

// translateWithCritique translates, then scores schema reuse. The critique
// artifact is recorded in step scope for external branch selection; the
// graph's result is still the clause set.
func translateWithCritique() Graph {
	return Graph{
		ID:   GraphCritique,
		Name: "Translate with schema critique",
		Steps: map[string]Step{
			"translate": {
				ID:   "translate",
				Name: "NL to clauses",
				Action: Action{Kind: KindGenerative, Generative: &GenerativeAction{
					Template: prompts.NLToFacts,
					Input:    "text",
					Output:   artifact.Text,
				}},
			},
			"critique": {
				ID:   "critique",
				Name: "Schema reuse critique",
				Action: Action{Kind: KindCompare, Compare: &CompareAction{
					Method: "schema_overlap",
					A:      "translate",
					B:      "schema",
				}},
			},
			"extract": {
				ID:   "extract",
				Name: "Extract clauses",
				Action: Action{Kind: KindTransform, Transform: &TransformAction{
					Func:  "extract_clauses",
					Input: "translate",
				}},
			},
		},
		Edges: []Edge{
			{From: "translate", To: "critique"},
			{From: "critique", To: "extract"},
		},
		Entry:  "translate",
		Output: artifact.ClauseSet,
	}
}

// questionToQuery translates a question into a bare query goal.
func questionToQuery() Graph {
	return Graph{
		ID:   GraphQuery,
		Name: "Question to query",
		Steps: map[string]Step{
			"translate": {
				ID:   "translate",
				Name: "NL to query",
				Action: Action{Kind: KindGenerative, Generative: &GenerativeAction{
					Template: prompts.NLToQuery,
					Input:    "text",
					Output:   artifact.Text,
				}},
			},
			"extract": {
				ID:   "extract",
				Name: "Extract query goal",
				Action: Action{Kind: KindTransform, Transform: &TransformAction{
					Func:  "extract_query",
					Input: "translate",
				}},
			},
		},
		Edges:  []Edge{{From: "translate", To: "extract"}},
		Entry:  "translate",
		Output: artifact.Query,
	}
}
