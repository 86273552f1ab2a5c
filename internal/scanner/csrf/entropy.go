package csrf

import "math"

// Strength is the verdict of the token entropy check.
type Strength string

const (
	Weak   Strength = "weak"
	Strong Strength = "strong"
)

// Entropy returns the Shannon entropy of token in bits per character, computed over
// its runes. An empty token has zero entropy.
func Entropy(token string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, r := range token {
		counts[r]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, n := range counts {
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// Classify compares the token's entropy with threshold.
func Classify(token string, threshold float64) Strength {
	if Entropy(token) < threshold {
		return Weak
	}
	return Strong
}
