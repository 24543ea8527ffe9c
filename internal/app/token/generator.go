// Package token produces fixed-width short tokens.
package token

import (
	"math/rand/v2"
	"strings"
)

// Alphabet is the fixed set of symbols a token may contain.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces candidate tokens.
type Generator interface {
	Generate() string
}

// RandomGenerator draws each symbol independently and uniformly from Alphabet.
type RandomGenerator struct {
	length int
}

// NewRandomGenerator returns a generator for tokens of the given length.
func NewRandomGenerator(length int) *RandomGenerator {
	return &RandomGenerator{length: length}
}

// Length returns the number of symbols in every generated token.
func (g *RandomGenerator) Length() int {
	return g.length
}

// Generate returns a new random token.
func (g *RandomGenerator) Generate() string {
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		b.WriteByte(Alphabet[rand.IntN(len(Alphabet))])
	}
	return b.String()
}

// Valid reports whether tok has the given length and only uses Alphabet symbols.
func Valid(tok string, length int) bool {
	if len(tok) != length {
		return false
	}
	for i := 0; i < len(tok); i++ {
		if strings.IndexByte(Alphabet, tok[i]) < 0 {
			return false
		}
	}
	return true
}
