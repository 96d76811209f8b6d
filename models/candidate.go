package models

// Candidate is a message returned by similarity search together with its
// cosine similarity to the query vector.
type Candidate struct {
	Message
	Similarity float64 `json:"similarity"`
}

// RankedResult is a candidate after score fusion. RerankedScore is nil
// when the reranker was not applied to the call that produced it.
type RankedResult struct {
	Candidate
	RerankedScore *float64 `json:"reranked_score,omitempty"`
	FinalScore    float64  `json:"final_score"`
}

// Reranked reports whether a reranker score contributed to FinalScore
func (r RankedResult) Reranked() bool {
	return r.RerankedScore != nil
}
