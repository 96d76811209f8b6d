package retrieval

import "github.com/upb/context-retrieval/models"

// ContextQuery is one retrieval request
type ContextQuery struct {
	Text  string
	Scope models.Scope
	// Limit is the number of results wanted; 0 means Settings.DefaultLimit
	Limit       int
	UseReranker bool
}

// StoreRequest is a single message to persist and embed
type StoreRequest struct {
	Scope    models.Scope
	Role     models.Role
	Content  string
	Metadata map[string]any
}

// BatchItem is one entry of a StoreMessages call
type BatchItem struct {
	Role     models.Role
	Content  string
	Metadata map[string]any
}

// BackfillReport summarizes a reconciliation run
type BackfillReport struct {
	Scanned  int `json:"scanned"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}
