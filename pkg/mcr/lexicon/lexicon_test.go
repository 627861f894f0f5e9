package lexicon

import (
	"reflect"
	"testing"
)

func TestFromClauses(t *testing.T) {
	lex := FromClauses([]string{
		"father(john, pete).",
		"father(john, anne).",
		"parent(X, Y) :- father(X, Y).",
		"% a comment line",
		"",
	})

	wantPreds := []string{"father/2", "parent/2"}
	if got := lex.Predicates(); !reflect.DeepEqual(got, wantPreds) {
		t.Errorf("Predicates() = %v, want %v", got, wantPreds)
	}

	wantAtoms := []string{"anne", "john", "pete"}
	if got := lex.Atoms(); !reflect.DeepEqual(got, wantAtoms) {
		t.Errorf("Atoms() = %v, want %v", got, wantAtoms)
	}
}

func TestVariablesAreNotAtoms(t *testing.T) {
	lex := FromClauses([]string{"parent(X, Y) :- father(X, Y)."})
	if got := lex.Atoms(); len(got) != 0 {
		t.Errorf("uppercase variables counted as atoms: %v", got)
	}
}

func TestArity(t *testing.T) {
	tests := []struct {
		clause string
		want   string
	}{
		{"sunny.", ""},
		{"alive(cat).", "alive/1"},
		{"edge(a, b, 3).", "edge/3"},
		{"path(A, B) :- edge(A, B, W).", "path/2"},
		{"wide(a, b, c, d, e, f, g, h, i, j, k).", "wide/11"},
	}
	for _, tt := range tests {
		lex := FromClauses([]string{tt.clause})
		preds := lex.Predicates()
		if tt.want == "" {
			if len(preds) != 0 {
				t.Errorf("%q: got predicates %v, want none", tt.clause, preds)
			}
			continue
		}
		if !lex.HasPredicate(tt.want) {
			t.Errorf("%q: missing predicate %q, got %v", tt.clause, tt.want, preds)
		}
	}
}

func TestSchemaOrdering(t *testing.T) {
	lex := FromClauses([]string{"b(z).", "a(y)."})
	want := []string{"a/1", "b/1", "y", "z"}
	if got := lex.Schema(); !reflect.DeepEqual(got, want) {
		t.Errorf("Schema() = %v, want %v", got, want)
	}
}

func TestFromKB(t *testing.T) {
	lex := FromKB("cat(tom).\ncat(felix).")
	if !lex.HasPredicate("cat/1") {
		t.Error("cat/1 not found")
	}
	if got := lex.Atoms(); len(got) != 2 {
		t.Errorf("Atoms() = %v, want two atoms", got)
	}
}

func TestExtractClauses(t *testing.T) {
	text := "Here is the translation:\n```prolog\nfather(john, pete).\nfather(john, anne)\n```\n% done"
	got := ExtractClauses(text)
	want := []string{"father(john, pete).", "father(john, anne)."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractClauses() = %v, want %v", got, want)
	}
}

func TestExtractClausesRejectsProse(t *testing.T) {
	if got := ExtractClauses("I am unable to translate this sentence."); len(got) != 0 {
		t.Errorf("prose extracted as clauses: %v", got)
	}
}

func TestExtractQuery(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"parent(john, Who).", "parent(john, Who)"},
		{"`parent(john, Who)`", "parent(john, Who)"},
		{"% thinking\nparent(john, Who)", "parent(john, Who)"},
		{"The query is:\nparent(john, Who).", "parent(john, Who)"},
		{"```prolog\nparent(john, Who)\n```", "parent(john, Who)"},
		{"I cannot translate that question.", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractQuery(tt.text); got != tt.want {
			t.Errorf("ExtractQuery(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
