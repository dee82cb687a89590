package guide

import (
	"strings"
	"testing"
)

func TestParseAnswerStructured(t *testing.T) {
	t.Parallel()

	raw := `Some reasoning the model leaked.
<answer>
Location: Tour Eiffel, Champ de Mars
Search: Tour Eiffel, Champ de Mars, Paris
Interesting fact: The tower grows about 15 cm in summer.
It shrinks back in winter.
</answer>`

	c := ParseAnswer(raw)
	if c.Place != "Tour Eiffel, Champ de Mars" {
		t.Fatalf("place = %q", c.Place)
	}
	if c.Search != "Tour Eiffel, Champ de Mars, Paris" {
		t.Fatalf("search = %q", c.Search)
	}
	if !strings.HasPrefix(c.Fact, "The tower grows") || !strings.Contains(c.Fact, "shrinks back") {
		t.Fatalf("fact = %q", c.Fact)
	}
	if c.Raw != raw {
		t.Fatal("raw not preserved")
	}
}

func TestParseAnswerLegacyLabels(t *testing.T) {
	t.Parallel()

	raw := "Локация: Эрмитаж\nПоиск: Эрмитаж, Дворцовая площадь, Санкт-Петербург\nИнтересный факт: В подвалах музея живут коты.\nИх кормят с XVIII века."

	c := ParseAnswer(raw)
	if c.Place != "Эрмитаж" {
		t.Fatalf("place = %q", c.Place)
	}
	if c.Search == "" {
		t.Fatal("search not extracted")
	}
	if want := "В подвалах музея живут коты. Их кормят с XVIII века."; c.Fact != want {
		t.Fatalf("fact = %q, want %q", c.Fact, want)
	}
}

func TestParseAnswerRawFallback(t *testing.T) {
	t.Parallel()

	raw := "  Just a plain sentence about the area.  "
	c := ParseAnswer(raw)
	if c.Place != "" || c.Search != "" {
		t.Fatalf("unexpected structure: %+v", c)
	}
	if c.Fact != "Just a plain sentence about the area." {
		t.Fatalf("fact = %q", c.Fact)
	}
}

func TestParseAnswerPartialBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		fact string
	}{
		{
			name: "fact only",
			raw:  "<answer>\nInteresting fact: Short one.\n</answer>",
			fact: "Short one.",
		},
		{
			name: "no fact label keeps raw",
			raw:  "<answer>\nLocation: Somewhere\n</answer>",
			fact: "<answer>\nLocation: Somewhere\n</answer>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := ParseAnswer(tt.raw)
			if c.Fact != tt.fact {
				t.Fatalf("fact = %q, want %q", c.Fact, tt.fact)
			}
		})
	}
}

func TestPromptsCarryLanguageAndExclusions(t *testing.T) {
	t.Parallel()

	req := Request{
		Lat:      48.8584,
		Lon:      2.2945,
		Language: "ru",
		Exclude:  []string{"Факт про башню"},
		Live:     true,
	}
	sys := systemPrompt(req)
	if !strings.Contains(sys, "Russian") {
		t.Fatalf("system prompt missing language: %q", sys)
	}
	usr := userPrompt(req)
	if !strings.Contains(usr, "Факт про башню") {
		t.Fatal("user prompt missing exclusion entry")
	}
	if !strings.Contains(usr, "DIFFERENT place") {
		t.Fatal("user prompt missing repetition guard")
	}

	plain := userPrompt(Request{Lat: 1, Lon: 2, Language: "en"})
	if strings.Contains(plain, "Already mentioned") {
		t.Fatal("exclusion section should be absent without history")
	}
}
