package match

import (
	"crypto/rand"
	"math/big"
)

// Select picks one endpoint uniformly at random from those in matches
// with the maximum CriteriaCount (specificity tie-break, spec §4.5).
// It returns false if matches is empty. Randomness comes from
// crypto/rand since the identity of the selected peer affects routing
// fairness.
func Select(matches []Match) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}

	maxCount := matches[0].CriteriaCount
	for _, m := range matches[1:] {
		if m.CriteriaCount > maxCount {
			maxCount = m.CriteriaCount
		}
	}

	var tier []Match
	for _, m := range matches {
		if m.CriteriaCount == maxCount {
			tier = append(tier, m)
		}
	}

	if len(tier) == 1 {
		return tier[0], true
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tier))))
	if err != nil {
		// crypto/rand failure is exceptional; fall back to the first
		// entry in the tier rather than panicking mid-dispatch.
		return tier[0], true
	}
	return tier[n.Int64()], true
}
