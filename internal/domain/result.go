package domain

// Topics is the structured search-topic extraction produced by the
// query-transform stage.
type Topics struct {
	Entities []string `json:"entities"`
	Concepts []string `json:"concepts"`
	Claims   []string `json:"claims"`
}

// Success is the analysis payload attached to a completed job.
type Success struct {
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	CredibilityScore     int      `json:"credibility_score"`
	Topics               Topics   `json:"topics"`
	ReformulatedQuestion string   `json:"reformulated_question"`
	Sources              []string `json:"sources,omitempty"`
}

// Failure records why a job ended failed.
type Failure struct {
	Reason string `json:"reason"`
}

// Result is attached to a job once it reaches a terminal state and is
// immutable afterwards. Exactly one of Success or Failure is set.
type Result struct {
	Success *Success `json:"success,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

func SuccessResult(s Success) *Result { return &Result{Success: &s} }

func FailureResult(reason string) *Result { return &Result{Failure: &Failure{Reason: reason}} }
