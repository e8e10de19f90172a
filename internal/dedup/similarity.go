package dedup

import (
	"strings"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"
)

// Scorer rates the similarity of two titles in [0, 1].
type Scorer interface {
	Score(a, b string) float64
}

// DiceScorer compares normalized titles with the Sørensen–Dice coefficient
// over character bigrams.
type DiceScorer struct {
	metric *strmetrics.SorensenDice
}

// NewDiceScorer returns a case-insensitive bigram scorer.
func NewDiceScorer() *DiceScorer {
	m := strmetrics.NewSorensenDice()
	m.CaseSensitive = false
	m.NgramSize = 2
	return &DiceScorer{metric: m}
}

// Score implements Scorer.
func (d *DiceScorer) Score(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return strutil.Similarity(a, b, d.metric)
}

// Normalize lowercases s and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
