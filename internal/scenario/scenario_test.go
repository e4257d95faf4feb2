package scenario

import (
	"strings"
	"testing"
)

func TestCatalogHasThreeScenarios(t *testing.T) {
	all := All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	for _, s := range all {
		if s.Opening == "" || FallbackLine(string(s.ID)) == "" {
			t.Fatalf("scenario %q missing opening or fallback", s.ID)
		}
	}
}

func TestUnknownScenarioUsesGenericLines(t *testing.T) {
	if got := OpeningLine("negotiation"); got != GenericOpening {
		t.Fatalf("OpeningLine() = %q, want generic opening", got)
	}
	if got := FallbackLine("negotiation"); got != GenericFallback {
		t.Fatalf("FallbackLine() = %q, want generic fallback", got)
	}
}

func TestUnknownScenarioDirectiveUsesDefaultPersona(t *testing.T) {
	if Directive("negotiation") != Directive(string(Default)) {
		t.Fatalf("Directive() for unknown id should match the default scenario")
	}
	if got := Resolve("negotiation").ID; got != Default {
		t.Fatalf("Resolve().ID = %q, want %q", got, Default)
	}
}

func TestDirectiveCarriesConstraints(t *testing.T) {
	d := Directive(string(DemoPitch))
	for _, want := range []string{"Chief Technology Officer", "under 50 words", "plain spoken prose"} {
		if !strings.Contains(d, want) {
			t.Fatalf("Directive() missing %q:\n%s", want, d)
		}
	}
}

func TestColdCallingOpening(t *testing.T) {
	want := "Hello? This is quite unexpected. I'm actually in the middle of something important right now. What is this regarding?"
	if got := OpeningLine("cold_calling"); got != want {
		t.Fatalf("OpeningLine() = %q, want %q", got, want)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("cold_calling"); got != "cold calling" {
		t.Fatalf("Label() = %q", got)
	}
}
