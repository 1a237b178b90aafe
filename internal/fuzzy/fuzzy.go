// Package fuzzy provides string similarity for dedup and name
// reconciliation: near-identical menu item names in a sheet, and modifier
// group names drifting across sequential enrichment batches.
package fuzzy

import "strings"

// Ratio returns a similarity score in [0,1] based on edit distance over the
// longer string's length. 1 means equal (after lowercasing and trimming).
func Ratio(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return 1 - float64(distance(a, b))/float64(longer)
}

// distance computes Levenshtein edit distance with a two-row table.
func distance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
