/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// LetterSource draws round letters. Fairness matters here, not secrecy.
type LetterSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLetterSource returns a source seeded from crypto/rand.
func NewLetterSource() (*LetterSource, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}

	return NewSeededLetterSource(
		binary.LittleEndian.Uint64(b[:8]),
		binary.LittleEndian.Uint64(b[8:]),
	), nil
}

// NewSeededLetterSource returns a deterministic source, mostly for tests.
func NewSeededLetterSource(seed1, seed2 uint64) *LetterSource {
	return &LetterSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Next returns a letter drawn uniformly from A-Z. Repeats are allowed.
func (s *LetterSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.rng.IntN(len(alphabet))

	return alphabet[i : i+1]
}

// StockCategories is the category list offered to hosts who don't bring their own.
var StockCategories = []string{"Boy", "Girl", "Country", "Food", "Colour", "Car", "Movie / TV Show"}

// CheckLetters returns the categories whose answer does not start with letter,
// in category order. Blank or missing answers are reported too. The check folds
// case and strips accents, so "élan" passes for E.
//
// This is advisory only: the engine stores answers regardless of the result.
func CheckLetters(letter string, categories []string, answers map[string]string) []string {
	want, ok := firstLetter(letter)
	if !ok {
		return nil
	}

	var mismatches []string
	for _, category := range categories {
		got, ok := firstLetter(answers[category])
		if !ok || got != want {
			mismatches = append(mismatches, category)
		}
	}

	return mismatches
}

// firstLetter returns the upper-cased base form of the first letter in s.
func firstLetter(s string) (rune, bool) {
	for _, r := range norm.NFD.String(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) {
			return unicode.ToUpper(r), true
		}
	}

	return 0, false
}
