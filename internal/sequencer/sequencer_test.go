package sequencer

import (
	"strings"
	"testing"
)

func TestAnalyzeEmpty(t *testing.T) {
	r := Analyze(nil)
	if r.Count != 0 {
		t.Fatalf("expected zero count, got %d", r.Count)
	}
}

func TestAnalyzeDetectsSequentialIntegers(t *testing.T) {
	r := Analyze([]string{"1000", "1001", "1002", "1003", "1004"})
	if !r.Sequential {
		t.Fatal("expected sequential integers to be detected")
	}
}

func TestAnalyzeDetectsSequentialLetters(t *testing.T) {
	r := Analyze([]string{"a", "b", "c", "d", "e"})
	if !r.Sequential {
		t.Fatal("expected sequential single chars to be detected")
	}
}

func TestAnalyzeDoesNotFlagRandomTokensAsSequential(t *testing.T) {
	r := Analyze([]string{"x7q2p9", "m3k8a1", "z0w5b6", "q9e4r2"})
	if r.Sequential {
		t.Fatal("did not expect random-looking tokens to be flagged sequential")
	}
}

func TestAnalyzeDetectsRepeatedValues(t *testing.T) {
	tokens := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			tokens = append(tokens, "same-token")
		} else {
			tokens = append(tokens, "unique-token-unused")
		}
	}
	r := Analyze(tokens)
	if !r.Repeated {
		t.Fatal("expected a heavily-duplicated sample to be flagged repeated")
	}
}

func TestAnalyzeFindsCommonAffixes(t *testing.T) {
	tokens := []string{"sess_abc123", "sess_def456", "sess_ghi789", "sess_jkl012"}
	r := Analyze(tokens)
	found := false
	for _, a := range r.CommonAffixes {
		if a.Kind == "prefix" && a.Value == "sess_" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a shared 'sess_' prefix to be reported, got %+v", r.CommonAffixes)
	}
}

func TestAnalyzeEfficiencyAndRatingAgree(t *testing.T) {
	r := Analyze([]string{"aaaaaaaaaa", "aaaaaaaaaa", "aaaaaaaaaa"})
	if r.Rating != "poor" {
		t.Fatalf("expected a constant token to rate poor, got %q", r.Rating)
	}
}

func TestRecommendMentionsSequentialFirst(t *testing.T) {
	r := Analyze([]string{"1", "2", "3", "4"})
	if r.Recommendation == "" {
		t.Fatal("expected a non-empty recommendation")
	}
	if !strings.Contains(r.Recommendation, "sequential") {
		t.Fatalf("expected the sequential-pattern verdict, got %q", r.Recommendation)
	}
}
