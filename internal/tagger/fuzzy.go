package tagger

// ratio is the classic sequence-matcher similarity: twice the total
// length of matching blocks over the combined length. 1 means identical,
// 0 means nothing in common.
func ratio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	m := matchingTotal([]byte(a), []byte(b))
	return 2 * float64(m) / float64(len(a)+len(b))
}

// matchingTotal sums the longest common block and, recursively, the
// matches on either side of it.
func matchingTotal(a, b []byte) int {
	ai, bj, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingTotal(a[:ai], b[:bj])
	total += matchingTotal(a[ai+size:], b[bj+size:])
	return total
}

// longestMatch finds the longest block common to a and b, preferring the
// earliest occurrence in a, then in b. j2len[j] holds the length of the
// match ending at b[j] for the previous row.
func longestMatch(a, b []byte) (bestI, bestJ, bestSize int) {
	j2len := make(map[int]int, len(b))
	for i := range a {
		next := make(map[int]int, len(b))
		for j := range b {
			if a[i] != b[j] {
				continue
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestSize {
				bestI, bestJ, bestSize = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}
	return bestI, bestJ, bestSize
}
