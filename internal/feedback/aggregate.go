package feedback

import (
	"math"
	"strings"
)

// Aggregate summarizes turns with DefaultPolicy.
func Aggregate(turns []Turn) Report {
	return DefaultPolicy().Aggregate(turns)
}

// Aggregate builds a report from turns. It does not modify its input and
// always returns the same report for the same turns. Turns without an
// evaluation are carried in the report but excluded from the statistics.
func (p Policy) Aggregate(turns []Turn) Report {
	report := Report{
		Strengths:    []string{},
		Improvements: []string{},
		Turns:        append([]Turn{}, turns...),
	}

	var (
		sum          int
		count        int
		strengthText strings.Builder
		improveText  strings.Builder
	)
	for _, t := range turns {
		if t.Evaluation == nil {
			continue
		}
		score := t.Evaluation.Score
		if count == 0 || score > report.MaxScore {
			report.MaxScore = score
		}
		if count == 0 || score < report.MinScore {
			report.MinScore = score
		}
		sum += score
		count++

		for _, s := range t.Evaluation.Strengths {
			strengthText.WriteString(strings.ToLower(s))
			strengthText.WriteByte('\n')
		}
		for _, s := range t.Evaluation.Improvements {
			improveText.WriteString(strings.ToLower(s))
			improveText.WriteByte('\n')
		}
	}

	if count == 0 {
		return report
	}

	report.AverageScore = int(math.Round(float64(sum) / float64(count)))
	report.Tier = p.TierFor(report.AverageScore)
	report.Strengths = matchVocabulary(strengthText.String(), p.StrengthVocabulary, p.FallbackStrengths)
	report.Improvements = matchVocabulary(improveText.String(), p.ImprovementVocabulary, p.FallbackImprovements)
	return report
}

// matchVocabulary returns the vocabulary labels found in text, in vocabulary
// order, or a copy of fallback when none are found.
func matchVocabulary(text string, vocabulary, fallback []string) []string {
	found := []string{}
	for _, label := range vocabulary {
		if strings.Contains(text, strings.ToLower(label)) {
			found = append(found, label)
		}
	}
	if len(found) == 0 {
		return append([]string{}, fallback...)
	}
	return found
}
