// Package feedback turns per-answer evaluations into a session report.
package feedback

// Evaluation is the scorer's verdict on one answer. It is produced once per
// turn and never mutated.
type Evaluation struct {
	Score        int      `json:"score" yaml:"score"`
	Strengths    []string `json:"strengths" yaml:"strengths"`
	Improvements []string `json:"improvements" yaml:"improvements"`
	Rationale    string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	// Failed marks the placeholder recorded when scoring could not complete.
	Failed bool `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Turn is one question/answer pair. Evaluation is nil until scoring returns.
type Turn struct {
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	Evaluation *Evaluation `json:"evaluation"`
}

// Evaluated reports whether the turn has been scored.
func (t Turn) Evaluated() bool {
	return t.Evaluation != nil
}

// Report is the end-of-session summary.
type Report struct {
	AverageScore int      `json:"average_score"`
	MaxScore     int      `json:"max_score"`
	MinScore     int      `json:"min_score"`
	Tier         string   `json:"tier"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Turns        []Turn   `json:"turns"`
}

// Empty reports whether the report covers no scored turns.
func (r Report) Empty() bool {
	return len(r.Turns) == 0
}

// FailedEvaluation returns the placeholder attached to a turn whose scoring
// call failed, so the report always has one evaluation per turn.
func FailedEvaluation(reason string) Evaluation {
	return Evaluation{
		Score:        0,
		Strengths:    []string{"Scoring was unavailable for this answer"},
		Improvements: []string{"Feedback could not be generated; consider practicing this question again"},
		Rationale:    reason,
		Failed:       true,
	}
}
