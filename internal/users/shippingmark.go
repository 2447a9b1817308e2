package users

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	shippingMarkPrefix  = "888"
	maxTripleCandidates = 500
	maxHashSalts        = 1000
	maxRandomTries      = 1000
)

// GenerateShippingMark derives a "888" + three letter mark from a client name,
// skipping marks for which taken reports true. Candidates are tried in order:
// initials, sliding windows over the name, initial combinations, ordered letter
// triples, a salted hash of the name and finally random letters.
func GenerateShippingMark(name string, taken func(string) bool) string {
	for _, candidate := range shippingMarkCandidates(name) {
		mark := shippingMarkPrefix + candidate
		if !taken(mark) {
			return mark
		}
	}

	letters := strings.Join(nameParts(name), "")
	for salt := 0; salt < maxHashSalts; salt++ {
		mark := shippingMarkPrefix + hashLetters(letters+strconv.Itoa(salt))
		if !taken(mark) {
			return mark
		}
	}

	for try := 0; try < maxRandomTries; try++ {
		mark := shippingMarkPrefix + randomLetters()
		if !taken(mark) {
			return mark
		}
	}
	return shippingMarkPrefix + "XXX"
}

func shippingMarkCandidates(name string) []string {
	parts := nameParts(name)
	letters := strings.Join(parts, "")

	seen := make(map[string]struct{})
	ordered := make([]string, 0, 64)
	add := func(candidate string) {
		candidate = padLetters(candidate)
		if _, ok := seen[candidate]; ok {
			return
		}
		seen[candidate] = struct{}{}
		ordered = append(ordered, candidate)
	}

	switch {
	case len(parts) >= 3:
		add(initial(parts[0]) + initial(parts[1]) + initial(parts[2]))
	case len(parts) == 2:
		second := "X"
		if len(parts[0]) > 1 {
			second = parts[0][1:2]
		}
		add(initial(parts[0]) + initial(parts[1]) + second)
	case len(parts) == 1:
		add(parts[0])
	default:
		add(randomLetters())
	}

	for start := 0; start+3 <= len(letters); start++ {
		add(letters[start : start+3])
	}

	for _, a := range parts {
		for _, b := range parts {
			for _, c := range parts {
				add(initial(a) + initial(b) + initial(c))
			}
		}
	}

	for i := 0; i < len(letters) && len(ordered) <= maxTripleCandidates; i++ {
		for j := i + 1; j < len(letters) && len(ordered) <= maxTripleCandidates; j++ {
			for k := j + 1; k < len(letters) && len(ordered) <= maxTripleCandidates; k++ {
				add(string([]byte{letters[i], letters[j], letters[k]}))
			}
		}
	}
	return ordered
}

// nameParts returns the upper-case ASCII letters of each word, with accents removed.
func nameParts(name string) []string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	words := strings.Fields(stripped)
	parts := make([]string, 0, len(words))
	for _, word := range words {
		var letters strings.Builder
		for _, r := range strings.ToUpper(word) {
			if r >= 'A' && r <= 'Z' {
				letters.WriteRune(r)
			}
		}
		if letters.Len() > 0 {
			parts = append(parts, letters.String())
		}
	}
	return parts
}

func initial(part string) string {
	if part == "" {
		return "X"
	}
	return part[:1]
}

func padLetters(candidate string) string {
	candidate = strings.ToUpper(candidate)
	if len(candidate) >= 3 {
		return candidate[:3]
	}
	return candidate + strings.Repeat("X", 3-len(candidate))
}

// hashLetters maps a 31-multiplier string hash onto three letters.
func hashLetters(value string) string {
	var h int32
	for _, r := range value {
		h = 31*h + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	out := make([]byte, 3)
	for i := range out {
		out[i] = byte('A' + v%26)
		v /= 26
	}
	return string(out)
}

func randomLetters() string {
	out := make([]byte, 3)
	for i := range out {
		out[i] = byte('A' + rand.IntN(26))
	}
	return string(out)
}
