package users

import (
	"regexp"
	"strconv"
	"testing"
)

var markPattern = regexp.MustCompile(`^888[A-Z]{3}$`)

func noneTaken(string) bool { return false }

func TestGenerateShippingMarkPrefersInitials(t *testing.T) {
	testCases := []struct {
		name string
		want string
	}{
		{name: "Ana Maria Lopez", want: "888AML"},
		{name: "Carlos Perez", want: "888CPA"},
		{name: "Bo", want: "888BOX"},
		{name: "  José   Núñez ", want: "888JNO"},
		{name: "Li 3 Wei", want: "888LWI"},
	}
	for _, testCase := range testCases {
		if got := GenerateShippingMark(testCase.name, noneTaken); got != testCase.want {
			t.Fatalf("GenerateShippingMark(%q) = %q, want %q", testCase.name, got, testCase.want)
		}
	}
}

func TestGenerateShippingMarkSkipsTakenCandidates(t *testing.T) {
	taken := map[string]bool{"888AML": true}
	got := GenerateShippingMark("Ana Maria Lopez", func(mark string) bool { return taken[mark] })
	if got != "888ANA" {
		t.Fatalf("expected first sliding window, got %q", got)
	}
}

func TestGenerateShippingMarkFallsBackToHash(t *testing.T) {
	candidates := map[string]bool{}
	for _, candidate := range shippingMarkCandidates("Ann") {
		candidates[shippingMarkPrefix+candidate] = true
	}
	got := GenerateShippingMark("Ann", func(mark string) bool { return candidates[mark] })
	if candidates[got] || !markPattern.MatchString(got) {
		t.Fatalf("expected an unused hashed mark, got %q", got)
	}
	want := ""
	for salt := 0; want == ""; salt++ {
		if mark := shippingMarkPrefix + hashLetters("ANN"+strconv.Itoa(salt)); !candidates[mark] {
			want = mark
		}
	}
	if got != want {
		t.Fatalf("expected first unused salted hash %q, got %q", want, got)
	}
}

func TestGenerateShippingMarkWithoutName(t *testing.T) {
	for index := 0; index < 20; index++ {
		if got := GenerateShippingMark(" 123 ", noneTaken); !markPattern.MatchString(got) {
			t.Fatalf("unexpected mark %q", got)
		}
	}
}

func TestShippingMarkCandidatesAreBounded(t *testing.T) {
	candidates := shippingMarkCandidates("Maximiliano Alejandro Fernandez Rodriguez")
	if len(candidates) > maxTripleCandidates+1 {
		t.Fatalf("expected at most %d candidates, got %d", maxTripleCandidates+1, len(candidates))
	}
	seen := map[string]bool{}
	for _, candidate := range candidates {
		if seen[candidate] {
			t.Fatalf("duplicate candidate %q", candidate)
		}
		seen[candidate] = true
		if len(candidate) != 3 {
			t.Fatalf("candidate %q is not three letters", candidate)
		}
	}
}
