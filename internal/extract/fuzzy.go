package extract

import (
	"regexp"
	"strings"
	"sync"
)

// maxLabelDist is the edit-distance budget for fuzzy label matching. Two
// edits tolerates the typical OCR misread ("Seler", "Tota1") without letting
// unrelated words match.
const maxLabelDist = 2

var (
	labelRes  = map[string]*regexp.Regexp{}
	labelResM sync.Mutex
)

// labelRe returns a cached whole-word regexp for a label. Word-boundary
// matching keeps "vat" from matching inside "vatable".
func labelRe(label string) *regexp.Regexp {
	labelResM.Lock()
	defer labelResM.Unlock()
	re, ok := labelRes[label]
	if !ok {
		re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(label) + `\b`)
		labelRes[label] = re
	}
	return re
}

// matchLabel locates a field label in a line, literally first and then by
// bounded edit distance over same-length word windows. It returns the rest of
// the line after the label (and after a following colon), which is where the
// value usually sits.
func matchLabel(line, label string) (rest string, ok bool) {
	if loc := labelRe(label).FindStringIndex(line); loc != nil {
		return afterColon(line[loc[1]:]), true
	}

	labelWords := strings.Fields(strings.ToLower(label))
	lineWords := strings.Fields(line)
	if len(labelWords) == 0 || len(lineWords) < len(labelWords) {
		return "", false
	}

	target := strings.Join(labelWords, " ")
	for i := 0; i+len(labelWords) <= len(lineWords); i++ {
		window := strings.ToLower(strings.Join(lineWords[i:i+len(labelWords)], " "))
		window = strings.TrimRight(window, ":")
		if withinEditDistance(window, target, maxLabelDist) {
			rest := strings.Join(lineWords[i+len(labelWords):], " ")
			return afterColon(rest), true
		}
	}
	return "", false
}

// fuzzyContains reports whether the phrase occurs in the line, allowing up to
// maxLabelDist edits.
func fuzzyContains(line, phrase string) bool {
	_, ok := matchLabel(line, phrase)
	return ok
}

func afterColon(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ":#")
	return strings.TrimSpace(s)
}

// withinEditDistance reports whether the Levenshtein distance between a and b
// is at most max. The usual two-row DP, abandoned early once every cell in a
// row exceeds the budget.
func withinEditDistance(a, b string, max int) bool {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > max {
		return false
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		best := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
			if curr[j] < best {
				best = curr[j]
			}
		}
		if best > max {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)] <= max
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
