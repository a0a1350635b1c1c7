package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// Hashes are the four lookup layers derived from one message text, from
// strictest to loosest.
type Hashes struct {
	Exact      string
	Normalized string
	Fuzzy      int64
	Structural string
}

var (
	urlRe     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	mentionRe = regexp.MustCompile(`@[a-zA-Z0-9_]{3,}`)
	digitsRe  = regexp.MustCompile(`\d+`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

func Compute(text string) Hashes {
	normalized := Normalize(text)
	return Hashes{
		Exact:      sha256Hex(strings.TrimSpace(text)),
		Normalized: sha256Hex(normalized),
		Fuzzy:      Simhash(normalized),
		Structural: structuralHash(text),
	}
}

// Normalize reduces text to its template: lower-cased, with URLs,
// mentions, digits, emoji and punctuation stripped and whitespace
// collapsed. Spam variants that differ only in these fillers collapse to
// one normalized hash.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = urlRe.ReplaceAllString(s, " ")
	s = mentionRe.ReplaceAllString(s, " ")
	s = digitsRe.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(b.String(), " "))
}

// Simhash computes a 64-bit locality-sensitive hash over word bigrams.
// Texts differing in a few words land within a small hamming distance.
func Simhash(normalized string) int64 {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return 0
	}

	var weights [64]int
	feature := func(s string) {
		h := fnv.New64a()
		h.Write([]byte(s))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	for i, w := range words {
		feature(w)
		if i+1 < len(words) {
			feature(w + " " + words[i+1])
		}
	}

	var out uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return int64(out)
}

// HammingDistance counts differing bits between two simhashes.
func HammingDistance(a, b int64) int {
	x := uint64(a) ^ uint64(b)
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// structuralHash captures the token-class shape of a message: runs of
// words, links, mentions and numbers. Two messages with swapped payloads
// but the same scaffold share a structural hash.
func structuralHash(text string) string {
	var classes []string
	push := func(class string) {
		if len(classes) == 0 || classes[len(classes)-1] != class {
			classes = append(classes, class)
		}
	}

	for _, token := range strings.Fields(text) {
		switch {
		case urlRe.MatchString(token):
			push("L")
		case mentionRe.MatchString(token):
			push("M")
		case digitsRe.MatchString(token):
			push("N")
		default:
			push("W")
		}
	}
	return sha256Hex(strings.Join(classes, ""))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
