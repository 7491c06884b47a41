package duplicate

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minTokenLen is the shortest token taking part in the similarity
const minTokenLen = 3

// typoDrift is the share of the longer token that may differ for two
// tokens to count as the same word
const typoDrift = 0.2

// Fold lower-cases s and strips accents ("Café" -> "cafe")
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Tokens returns the distinct folded words of s longer than two characters
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTokenLen || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// Similarity is the word-level Jaccard index of two descriptions.
// Tokens count as equal when identical, when one abbreviates the other
// ("pymt" / "payment") or when they differ by a small typo.
func Similarity(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		if strings.TrimSpace(Fold(a)) == strings.TrimSpace(Fold(b)) && strings.TrimSpace(a) != "" {
			return 1
		}
		return 0
	}

	total := len(ta) + len(tb)
	used := make([]bool, len(tb))
	matched := 0
	// exact matches first so a fuzzy pairing never steals an exact partner
	for _, pass := range []func(x, y string) bool{exactToken, fuzzyToken} {
		for i := range ta {
			if ta[i] == "" {
				continue
			}
			for j := range tb {
				if used[j] || !pass(ta[i], tb[j]) {
					continue
				}
				used[j] = true
				ta[i] = ""
				matched++
				break
			}
		}
	}

	return float64(matched) / float64(total-matched)
}

func exactToken(x, y string) bool {
	return x == y
}

func fuzzyToken(x, y string) bool {
	if abbreviates(x, y) || abbreviates(y, x) {
		return true
	}
	rx, ry := []rune(x), []rune(y)
	longest := len(rx)
	if len(ry) > longest {
		longest = len(ry)
	}
	distance := levenshtein.DistanceForStrings(rx, ry, levenshtein.DefaultOptions)
	return distance <= int(float64(longest)*typoDrift)
}

// abbreviates reports whether short is an abbreviation of long: same first
// letter and every letter of short appears in long in order
func abbreviates(short, long string) bool {
	rs, rl := []rune(short), []rune(long)
	if len(rs) >= len(rl) || len(rs) < minTokenLen || rs[0] != rl[0] {
		return false
	}
	i := 0
	for _, r := range rl {
		if i < len(rs) && rs[i] == r {
			i++
		}
	}
	return i == len(rs)
}
