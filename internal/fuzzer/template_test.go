package fuzzer

import (
	"testing"

	"intercept/internal/repository"
)

func stringPtr(s string) *string { return &s }

func TestBuildTemplateAndSubstituteURL(t *testing.T) {
	attack := &repository.Attack{
		URLTemplate: "http://example.com/users/ID",
	}
	tpl := buildTemplate(attack)

	pos := []repository.Position{{Start: 25, End: 27}}
	if err := validatePositions(tpl, pos); err != nil {
		t.Fatalf("validatePositions: %v", err)
	}

	r := tpl.substitute(pos, []*string{stringPtr("42")})
	if r.url != "http://example.com/users/42" {
		t.Fatalf("unexpected substituted url: %q", r.url)
	}
}

func TestSubstituteLeavesNilPositionsAtBaseline(t *testing.T) {
	attack := &repository.Attack{URLTemplate: "AB"}
	tpl := buildTemplate(attack)
	pos := []repository.Position{{Start: 0, End: 1}, {Start: 1, End: 2}}
	r := tpl.substitute(pos, []*string{nil, stringPtr("Z")})
	if r.url != "AZ" {
		t.Fatalf("expected only second position replaced, got %q", r.url)
	}
}

func TestSubstituteAcrossMultiplePositionsWithLengthChange(t *testing.T) {
	attack := &repository.Attack{
		URLTemplate: "/X/Y",
		BodyTemplate: "Z",
	}
	tpl := buildTemplate(attack)
	pos := []repository.Position{{Start: 1, End: 2}, {Start: 3, End: 4}, {Start: 4, End: 5}}
	r := tpl.substitute(pos, []*string{stringPtr("longer"), stringPtr("short"), stringPtr("body!")})
	if r.url != "/longer/short" {
		t.Fatalf("unexpected url after multi-position substitute: %q", r.url)
	}
	if r.body != "body!" {
		t.Fatalf("unexpected body after multi-position substitute: %q", r.body)
	}
}

func TestValidatePositionsRejectsOutOfBounds(t *testing.T) {
	tpl := buildTemplate(&repository.Attack{URLTemplate: "abc"})
	err := validatePositions(tpl, []repository.Position{{Start: 0, End: 100}})
	if err == nil {
		t.Fatal("expected out-of-bounds position to be rejected")
	}
}

func TestValidatePositionsRejectsOverlap(t *testing.T) {
	tpl := buildTemplate(&repository.Attack{URLTemplate: "abcdef"})
	err := validatePositions(tpl, []repository.Position{{Start: 0, End: 3}, {Start: 2, End: 5}})
	if err == nil {
		t.Fatal("expected overlapping positions to be rejected")
	}
}

func TestTemplateHeaderOrderingIsDeterministic(t *testing.T) {
	attack := &repository.Attack{
		HeaderTemplates: map[string]string{"Z-Header": "z", "A-Header": "a"},
	}
	tpl := buildTemplate(attack)
	var names []string
	for _, sp := range tpl.spans {
		if sp.kind == fieldHeader {
			names = append(names, sp.headerName)
		}
	}
	if len(names) != 2 || names[0] != "A-Header" || names[1] != "Z-Header" {
		t.Fatalf("expected headers sorted by name, got %v", names)
	}
}
