package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/drummonds/feedbackd/database"
)

// Similarity returns 1 minus the normalized edit distance between a and b,
// compared case-insensitively. Identical strings score 1.
func Similarity(a, b string) float64 {
	a, b = fold(strings.TrimSpace(a)), fold(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// FindSimilar returns the problem whose summary is most similar to summary,
// provided the similarity reaches threshold. Ties go to the earlier problem.
func FindSimilar(summary string, problems []database.Problem, threshold float64) *database.Problem {
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	var best *database.Problem
	bestScore := threshold
	for i := range problems {
		score := Similarity(summary, problems[i].Summary)
		if score > bestScore || (best == nil && score == bestScore) {
			best, bestScore = &problems[i], score
		}
	}
	return best
}
