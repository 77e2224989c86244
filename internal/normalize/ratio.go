// SPDX-License-Identifier: MIT

package normalize

// Ratio computes a similarity score in [0,1] between two strings based on
// the length of their longest common subsequence: 2*lcs/(len(a)+len(b)).
// Identical strings score 1.0; disjoint strings score 0.0. Both sides are
// expected to be canonical forms already.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0.0
	}

	// Single-row LCS DP; rows iterate over a, columns over b.
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[lb]
	return 2.0 * float64(lcs) / float64(la+lb)
}
